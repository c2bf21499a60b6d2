package sample

import (
	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/host"
)

// MaxLen bounds the depth of a captured stack. Deeper stacks lose their
// outermost frames.
const MaxLen = 2048

// Raw is one stack snapshot. It is filled in place so that a capture never
// allocates, which lets it run inside a signal handler.
type Raw struct {
	frames [MaxLen]frame.Handle
	lines  [MaxLen]int32
	len    int

	// GC is set when the capture was skipped because a collection was in
	// progress. Consumers must drop such samples.
	GC bool
}

// Capture replaces the contents of r with the stack of the thread w runs
// on.
func (r *Raw) Capture(w host.Walker) {
	r.Clear()

	if !w.OnNativeThread() {
		return
	}

	if w.DuringGC() {
		r.GC = true
	} else {
		n := w.ProfileFrames(r.frames[:], r.lines[:])
		if n > MaxLen {
			n = MaxLen
		}
		r.len = n
	}
}

// Len returns the number of frames captured.
func (r *Raw) Len() int {
	return r.len
}

// Frame returns the i-th frame counting from the root. Frames are stored
// innermost first, so the index is reversed.
func (r *Raw) Frame(i int) frame.Frame {
	idx := r.len - i - 1
	if idx < 0 || i < 0 {
		errorutil.Invariant("raw sample frame %d out of range (len %d)", i, r.len)
	}
	return frame.Frame{Handle: r.frames[idx], Line: r.lines[idx]}
}

func (r *Raw) Clear() {
	r.len = 0
	r.GC = false
}

func (r *Raw) Empty() bool {
	return r.len == 0
}
