// Package thread turns runtime scheduling events into per-thread state,
// timeline markers and the idle stack used for suspended threads.
package thread

import (
	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/marker"
	"github.com/getsentry/vernier/internal/sample"
	"github.com/getsentry/vernier/internal/timeutil"
)

type State int

const (
	Started State = iota
	Running
	Ready
	Suspended
	Stopped
)

func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Suspended:
		return "suspended"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Thread is one observed runtime thread. It is only mutated while the
// owning Table is locked.
type Thread struct {
	ID       host.ThreadID
	NativeID host.NativeThreadID
	Name     string
	State    State

	StateChangedAt timeutil.Stamp
	StartedAt      timeutil.Stamp
	StoppedAt      timeutil.Stamp

	// StackOnSuspend is the stack captured when the thread last suspended.
	// Idle samples are attributed to it.
	StackOnSuspend int

	Translator *calltree.Translator
	Samples    sample.List
	Markers    *marker.Table

	handle host.Thread
}

func newThread(state State, h host.Thread, now timeutil.Stamp) *Thread {
	t := &Thread{
		ID:             h.ID(),
		NativeID:       h.NativeID(),
		State:          state,
		StateChangedAt: now,
		StartedAt:      now,
		StackOnSuspend: calltree.NoStack,
		Translator:     calltree.NewTranslator(),
		Markers:        &marker.Table{},
		handle:         h,
	}
	if state == Started {
		t.Markers.Record(marker.GVLThreadStarted)
	}
	return t
}

// Running reports whether the thread has not exited yet.
func (t *Thread) Running() bool {
	return t.State != Stopped
}

// CaptureName stores the thread's current display name.
func (t *Thread) CaptureName() {
	t.Name = t.handle.Name()
}

// setState applies one transition and emits its markers.
func (t *Thread) setState(next State, now timeutil.Stamp) {
	if t.State == Stopped {
		return
	}
	// Some runtimes report suspension twice in a row.
	if next == Suspended && t.State == Suspended {
		return
	}

	from := t.StateChangedAt
	if t.StartedAt.IsZero() {
		t.StartedAt = now
	}

	switch next {
	case Started:
		t.Markers.Record(marker.GVLThreadStarted)
		return
	case Running:
		if t.State != Ready && t.State != Running {
			t.invalid(next)
		}
		t.NativeID = t.handle.NativeID()
		// Skip the interval if the thread got to run immediately.
		if from != now {
			t.Markers.RecordInterval(marker.ThreadStalled, from, now)
		}
	case Ready:
		switch t.State {
		case Suspended:
			t.Markers.RecordIntervalWithStack(marker.ThreadSuspended, from, now, t.StackOnSuspend)
		case Running:
			t.Markers.RecordInterval(marker.ThreadRunning, from, now)
		case Started:
		default:
			t.invalid(next)
		}
	case Suspended:
		if t.State != Running && t.State != Started {
			t.invalid(next)
		}
		t.Markers.RecordInterval(marker.ThreadRunning, from, now)
	case Stopped:
		if t.State != Running && t.State != Started && t.State != Suspended {
			t.invalid(next)
		}
		t.Markers.RecordInterval(marker.ThreadRunning, from, now)
		t.Markers.Record(marker.GVLThreadExited)
		t.StoppedAt = now
		t.CaptureName()
	default:
		t.invalid(next)
	}

	t.State = next
	t.StateChangedAt = now
}

func (t *Thread) invalid(next State) {
	errorutil.Invariant("thread %d: invalid transition %s -> %s", t.ID, t.State, next)
}
