// Package host describes the services the profiler consumes from the runtime
// it observes: stack walking, symbol resolution, lifecycle and GC
// notifications, allocation tracing and targeted signal delivery.
package host

import (
	"github.com/getsentry/vernier/internal/frame"
)

type (
	// ThreadID identifies a logical runtime thread for its whole life.
	ThreadID uint64

	// NativeThreadID identifies the OS thread currently carrying a runtime
	// thread. It may change every time the thread is scheduled.
	NativeThreadID uint64

	// ObjectID identifies a live heap object.
	ObjectID uintptr
)

// Walker captures the stack of the thread it is invoked on. It is the only
// host service that may be used from a signal handler.
type Walker interface {
	// ProfileFrames writes the current call stack, innermost frame first,
	// into frames and lines and returns the number of frames written. At
	// most len(frames) frames are written; deeper frames are dropped.
	ProfileFrames(frames []frame.Handle, lines []int32) int
	// DuringGC reports whether a garbage collection is in progress, in which
	// case ProfileFrames must not be called.
	DuringGC() bool
	// OnNativeThread reports whether the caller runs on a thread the runtime
	// knows about.
	OnNativeThread() bool
}

// Symbolizer resolves frame handles. It may allocate and must never be called
// from a signal handler.
type Symbolizer interface {
	FrameInfo(h frame.Handle) frame.Info
}

// Thread is the runtime's view of one execution context. Callbacks that
// receive a Thread are invoked on that thread, so its Walker captures the
// thread's own stack.
type Thread interface {
	Walker
	ID() ThreadID
	// NativeID resolves the OS thread the runtime thread is running on right
	// now.
	NativeID() NativeThreadID
	Name() string
}

// SignalHandler runs on the interrupted OS thread. w walks that thread's
// stack.
type SignalHandler func(w Walker)

// Signaler owns the process-wide profiling signal disposition.
type Signaler interface {
	InstallHandler(h SignalHandler) error
	UninstallHandler() error
	// Signal delivers the profiling signal to the given OS thread.
	Signal(tid NativeThreadID) error
}

type ThreadEventKind int

const (
	ThreadStarted ThreadEventKind = iota
	ThreadReady
	ThreadResumed
	ThreadSuspended
	ThreadExited
)

func (k ThreadEventKind) String() string {
	switch k {
	case ThreadStarted:
		return "started"
	case ThreadReady:
		return "ready"
	case ThreadResumed:
		return "resumed"
	case ThreadSuspended:
		return "suspended"
	case ThreadExited:
		return "exited"
	}
	return "no-event"
}

// ThreadEvent is delivered synchronously on the affected thread.
type ThreadEvent struct {
	Kind   ThreadEventKind
	Thread Thread
}

type GCEventKind int

const (
	GCStart GCEventKind = iota
	GCEndMark
	GCEndSweep
	GCEnter
	GCExit
)

type GCEvent struct {
	Kind GCEventKind
}

// ObjectEvent reports an allocation or a free. Thread is the thread doing
// the allocation; it is nil for frees.
type ObjectEvent struct {
	Object ObjectID
	Thread Thread
}

// EventSource delivers scheduling and GC notifications. Subscriptions return
// a function removing the hook; callbacks run synchronously on the thread
// emitting the event and must not block beyond brief lock acquisition.
type EventSource interface {
	SubscribeThreadEvents(fn func(ThreadEvent)) (unsubscribe func())
	SubscribeGCEvents(fn func(GCEvent)) (unsubscribe func())
}

// ObjectSpace exposes allocation tracing and heap introspection.
type ObjectSpace interface {
	SubscribeAllocations(fn func(ObjectEvent)) (unsubscribe func())
	SubscribeFrees(fn func(ObjectEvent)) (unsubscribe func())
	// GC runs a full collection cycle before returning.
	GC()
	// MemsizeOf returns the current byte size of a live object.
	MemsizeOf(obj ObjectID) uint64
}

// Runtime bundles everything the collectors need from the host.
type Runtime interface {
	Symbolizer
	Signaler
	EventSource
	ObjectSpace
	// CurrentThread returns the thread calling into the profiler.
	CurrentThread() Thread
	// MainThread returns the runtime's main thread.
	MainThread() Thread
}
