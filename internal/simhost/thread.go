package simhost

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/host"
)

type (
	// Thread is a simulated runtime thread. Its stack is only changed by
	// the thread itself.
	Thread struct {
		rt     *Runtime
		id     host.ThreadID
		native atomic.Uint64
		done   chan struct{}

		mu    sync.Mutex
		name  string
		stack []frame.Frame
	}

	// interrupted walks a thread whose stack lock is already held.
	interrupted struct {
		t *Thread
	}
)

func (t *Thread) ID() host.ThreadID {
	return t.id
}

func (t *Thread) NativeID() host.NativeThreadID {
	return host.NativeThreadID(t.native.Load())
}

func (t *Thread) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

func (t *Thread) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
}

func (t *Thread) ProfileFrames(frames []frame.Handle, lines []int32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profileFrames(frames, lines)
}

func (t *Thread) profileFrames(frames []frame.Handle, lines []int32) int {
	n := 0
	for i := len(t.stack) - 1; i >= 0 && n < len(frames) && n < len(lines); i-- {
		frames[n] = t.stack[i].Handle
		lines[n] = t.stack[i].Line
		n++
	}
	return n
}

func (t *Thread) DuringGC() bool {
	return t.rt.duringGC.Load()
}

func (t *Thread) OnNativeThread() bool {
	return true
}

// Depth returns the current stack depth.
func (t *Thread) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

// Call runs body with fn pushed on the stack.
func (t *Thread) Call(fn frame.Handle, line int32, body func()) {
	t.mu.Lock()
	t.stack = append(t.stack, frame.Frame{Handle: fn, Line: line})
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.stack = t.stack[:len(t.stack)-1]
		t.mu.Unlock()
	}()
	body()
}

// Spin keeps the thread busy for d.
func (t *Thread) Spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

// Sleep blocks for d, reporting the thread as suspended meanwhile.
func (t *Thread) Sleep(d time.Duration) {
	t.rt.threadHooks.emit(host.ThreadEvent{Kind: host.ThreadSuspended, Thread: t})
	time.Sleep(d)
	t.rt.threadHooks.emit(host.ThreadEvent{Kind: host.ThreadReady, Thread: t})
	t.rt.threadHooks.emit(host.ThreadEvent{Kind: host.ThreadResumed, Thread: t})
}

// Allocate creates an object of the given size from this thread.
func (t *Thread) Allocate(size uint64) host.ObjectID {
	return t.rt.allocate(t, size)
}

// Wait blocks until the thread has exited.
func (t *Thread) Wait() {
	<-t.done
}

func (w interrupted) ProfileFrames(frames []frame.Handle, lines []int32) int {
	return w.t.profileFrames(frames, lines)
}

func (w interrupted) DuringGC() bool {
	return w.t.DuringGC()
}

func (w interrupted) OnNativeThread() bool {
	return true
}
