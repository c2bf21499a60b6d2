// Package simhost is an in-process runtime implementing host.Runtime.
// Threads are goroutines locked to OS threads that maintain an explicit
// call stack, which the profiler samples through a simulated signal.
package simhost

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/host"
)

var (
	ErrHandlerInstalled = errors.New("simhost: signal handler already installed")
	ErrNoHandler        = errors.New("simhost: no signal handler installed")
	ErrUnknownThread    = errors.New("simhost: no such native thread")
)

var syntheticIDs atomic.Uint64

// syntheticThreadID returns ids above the range used by the kernel.
func syntheticThreadID() host.NativeThreadID {
	return host.NativeThreadID(1<<32 + syntheticIDs.Add(1))
}

type (
	Option func(*Runtime)

	object struct {
		size    uint64
		garbage bool
	}

	Runtime struct {
		mu       sync.Mutex
		funcs    []frame.Info
		threads  map[host.NativeThreadID]*Thread
		handler  host.SignalHandler
		objects  map[host.ObjectID]*object
		nextObj  host.ObjectID
		nextID   host.ThreadID
		dropNext int

		main *Thread

		duringGC atomic.Bool
		signals  atomic.Uint64

		threadHooks hooks[host.ThreadEvent]
		gcHooks     hooks[host.GCEvent]
		allocHooks  hooks[host.ObjectEvent]
		freeHooks   hooks[host.ObjectEvent]
	}
)

// WithMainThreadName names the thread representing the caller.
func WithMainThreadName(name string) Option {
	return func(r *Runtime) {
		r.main.SetName(name)
	}
}

func New(opts ...Option) *Runtime {
	r := &Runtime{
		threads: make(map[host.NativeThreadID]*Thread),
		objects: make(map[host.ObjectID]*object),
	}
	r.main = r.newThread("main")
	r.main.native.Store(uint64(syntheticThreadID()))
	r.register(r.main)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Func registers a function and returns the handle frames refer to it by.
func (r *Runtime) Func(name, file string, firstLine int) frame.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs = append(r.funcs, frame.Info{Label: name, File: file, FirstLine: firstLine})
	return frame.Handle(len(r.funcs))
}

func (r *Runtime) FrameInfo(h frame.Handle) frame.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == 0 || int(h) > len(r.funcs) {
		return frame.Info{Label: fmt.Sprintf("<unknown %#x>", uintptr(h))}
	}
	return r.funcs[h-1]
}

func (r *Runtime) newThread(name string) *Thread {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()
	return &Thread{
		rt:   r,
		id:   id,
		name: name,
		done: make(chan struct{}),
	}
}

func (r *Runtime) register(t *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[t.NativeID()] = t
}

func (r *Runtime) unregister(t *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, t.NativeID())
}

// Go starts a thread running body. The thread reports its whole lifecycle
// to thread event subscribers.
func (r *Runtime) Go(name string, body func(t *Thread)) *Thread {
	t := r.newThread(name)
	ready := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(t.done)

		t.native.Store(uint64(osThreadID()))
		r.register(t)
		close(ready)

		r.threadHooks.emit(host.ThreadEvent{Kind: host.ThreadStarted, Thread: t})
		r.threadHooks.emit(host.ThreadEvent{Kind: host.ThreadReady, Thread: t})
		r.threadHooks.emit(host.ThreadEvent{Kind: host.ThreadResumed, Thread: t})
		body(t)
		r.threadHooks.emit(host.ThreadEvent{Kind: host.ThreadExited, Thread: t})
		r.unregister(t)
	}()
	<-ready
	return t
}

func (r *Runtime) CurrentThread() host.Thread {
	return r.main
}

func (r *Runtime) MainThread() host.Thread {
	return r.main
}

// Main returns the thread standing for the goroutine driving the runtime.
func (r *Runtime) Main() *Thread {
	return r.main
}

func (r *Runtime) InstallHandler(h host.SignalHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler != nil {
		return ErrHandlerInstalled
	}
	r.handler = h
	return nil
}

func (r *Runtime) UninstallHandler() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler == nil {
		return ErrNoHandler
	}
	r.handler = nil
	return nil
}

// DropSignals makes the next n signals get lost after being accepted.
func (r *Runtime) DropSignals(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropNext = n
}

// Signal interrupts the target thread: the handler runs with the thread's
// stack frozen, as it would on the interrupted thread itself.
func (r *Runtime) Signal(tid host.NativeThreadID) error {
	r.mu.Lock()
	t, ok := r.threads[tid]
	h := r.handler
	drop := r.dropNext > 0
	if drop {
		r.dropNext--
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownThread, tid)
	}
	if h == nil {
		return ErrNoHandler
	}
	r.signals.Add(1)
	if drop {
		log.Debug().Uint64("tid", uint64(tid)).Msg("dropping signal")
		return nil
	}
	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		h(interrupted{t})
	}()
	return nil
}

// SignalsSent counts the signals accepted for delivery.
func (r *Runtime) SignalsSent() uint64 {
	return r.signals.Load()
}

func (r *Runtime) SubscribeThreadEvents(fn func(host.ThreadEvent)) func() {
	return r.threadHooks.add(fn)
}

func (r *Runtime) SubscribeGCEvents(fn func(host.GCEvent)) func() {
	return r.gcHooks.add(fn)
}

func (r *Runtime) SubscribeAllocations(fn func(host.ObjectEvent)) func() {
	return r.allocHooks.add(fn)
}

func (r *Runtime) SubscribeFrees(fn func(host.ObjectEvent)) func() {
	return r.freeHooks.add(fn)
}

// Subscribers returns the number of live hooks of every kind.
func (r *Runtime) Subscribers() int {
	return r.threadHooks.len() + r.gcHooks.len() + r.allocHooks.len() + r.freeHooks.len()
}

func (r *Runtime) allocate(t *Thread, size uint64) host.ObjectID {
	r.mu.Lock()
	r.nextObj++
	id := r.nextObj
	r.objects[id] = &object{size: size}
	r.mu.Unlock()

	r.allocHooks.emit(host.ObjectEvent{Object: id, Thread: t})
	return id
}

// Free releases obj immediately.
func (r *Runtime) Free(obj host.ObjectID) {
	r.mu.Lock()
	_, ok := r.objects[obj]
	delete(r.objects, obj)
	r.mu.Unlock()

	if ok {
		r.freeHooks.emit(host.ObjectEvent{Object: obj})
	}
}

// Release drops the last reference to obj so the next GC frees it.
func (r *Runtime) Release(obj host.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.objects[obj]; ok {
		o.garbage = true
	}
}

// Resize changes the reported size of a live object.
func (r *Runtime) Resize(obj host.ObjectID, size uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.objects[obj]; ok {
		o.size = size
	}
}

func (r *Runtime) MemsizeOf(obj host.ObjectID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.objects[obj]; ok {
		return o.size
	}
	return 0
}

// Live returns the number of objects not freed yet.
func (r *Runtime) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// GC runs a full collection, freeing every released object.
func (r *Runtime) GC() {
	r.duringGC.Store(true)
	r.gcHooks.emit(host.GCEvent{Kind: host.GCEnter})
	r.gcHooks.emit(host.GCEvent{Kind: host.GCStart})

	r.mu.Lock()
	var garbage []host.ObjectID
	for id, o := range r.objects {
		if o.garbage {
			garbage = append(garbage, id)
			delete(r.objects, id)
		}
	}
	r.mu.Unlock()
	sort.Slice(garbage, func(i, j int) bool { return garbage[i] < garbage[j] })

	r.gcHooks.emit(host.GCEvent{Kind: host.GCEndMark})
	for _, id := range garbage {
		r.freeHooks.emit(host.ObjectEvent{Object: id})
	}
	r.gcHooks.emit(host.GCEvent{Kind: host.GCEndSweep})
	r.gcHooks.emit(host.GCEvent{Kind: host.GCExit})
	r.duringGC.Store(false)
}

// PauseGC holds the runtime in a GC for d without freeing anything.
func (r *Runtime) PauseGC(d time.Duration) {
	r.duringGC.Store(true)
	r.gcHooks.emit(host.GCEvent{Kind: host.GCEnter})
	time.Sleep(d)
	r.gcHooks.emit(host.GCEvent{Kind: host.GCExit})
	r.duringGC.Store(false)
}
