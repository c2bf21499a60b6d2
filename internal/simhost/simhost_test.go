package simhost

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/testutil"
)

func TestThreadLifecycleEvents(t *testing.T) {
	r := New()
	var (
		mu    sync.Mutex
		kinds []host.ThreadEventKind
	)
	unsubscribe := r.SubscribeThreadEvents(func(ev host.ThreadEvent) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})
	th := r.Go("worker", func(th *Thread) {
		th.Sleep(time.Millisecond)
	})
	th.Wait()
	unsubscribe()

	want := []host.ThreadEventKind{
		host.ThreadStarted,
		host.ThreadReady,
		host.ThreadResumed,
		host.ThreadSuspended,
		host.ThreadReady,
		host.ThreadResumed,
		host.ThreadExited,
	}
	if diff := testutil.Diff(kinds, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if r.Subscribers() != 0 {
		t.Fatalf("expected no subscribers left, got %d", r.Subscribers())
	}
}

func TestProfileFramesInnermostFirst(t *testing.T) {
	r := New()
	a := r.Func("a", "a.go", 1)
	b := r.Func("b", "b.go", 10)
	main := r.Main()

	var (
		frames [4]frame.Handle
		lines  [4]int32
		n      int
	)
	main.Call(a, 2, func() {
		main.Call(b, 11, func() {
			n = main.ProfileFrames(frames[:], lines[:])
		})
	})
	if diff := testutil.Diff(frames[:n], []frame.Handle{b, a}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if diff := testutil.Diff(lines[:n], []int32{11, 2}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if main.Depth() != 0 {
		t.Fatalf("expected empty stack, got depth %d", main.Depth())
	}
	if got := r.FrameInfo(b); got.Label != "b" || got.FirstLine != 10 {
		t.Fatalf("unexpected frame info: %+v", got)
	}
	if got := r.FrameInfo(0); got.Label == "" {
		t.Fatalf("expected a placeholder label for an unknown handle")
	}
}

func TestSignal(t *testing.T) {
	r := New()
	fn := r.Func("spin", "spin.go", 1)

	if err := r.Signal(r.Main().NativeID()); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}

	got := make(chan int, 1)
	if err := r.InstallHandler(func(w host.Walker) {
		var (
			frames [8]frame.Handle
			lines  [8]int32
		)
		got <- w.ProfileFrames(frames[:], lines[:])
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.InstallHandler(func(host.Walker) {}); !errors.Is(err, ErrHandlerInstalled) {
		t.Fatalf("expected ErrHandlerInstalled, got %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	th := r.Go("worker", func(th *Thread) {
		th.Call(fn, 1, func() {
			close(started)
			<-release
		})
	})
	<-started
	if err := r.Signal(th.NativeID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := <-got; n != 1 {
		t.Fatalf("expected one frame, got %d", n)
	}
	close(release)
	th.Wait()

	if err := r.Signal(th.NativeID()); !errors.Is(err, ErrUnknownThread) {
		t.Fatalf("expected ErrUnknownThread, got %v", err)
	}
	if err := r.UninstallHandler(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.SignalsSent() != 1 {
		t.Fatalf("expected 1 signal, got %d", r.SignalsSent())
	}
}

func TestObjects(t *testing.T) {
	r := New()
	var (
		allocs []host.ObjectID
		frees  []host.ObjectID
		phases []host.GCEventKind
	)
	r.SubscribeAllocations(func(ev host.ObjectEvent) {
		if ev.Thread == nil {
			t.Errorf("allocation without thread")
		}
		allocs = append(allocs, ev.Object)
	})
	r.SubscribeFrees(func(ev host.ObjectEvent) {
		frees = append(frees, ev.Object)
	})
	r.SubscribeGCEvents(func(ev host.GCEvent) {
		phases = append(phases, ev.Kind)
	})

	a := r.Main().Allocate(10)
	b := r.Main().Allocate(20)
	c := r.Main().Allocate(30)
	r.Free(a)
	r.Release(b)
	r.Resize(c, 35)
	if r.MemsizeOf(b) != 20 {
		t.Fatalf("released object must stay alive until GC")
	}
	r.GC()

	if diff := testutil.Diff(allocs, []host.ObjectID{a, b, c}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if diff := testutil.Diff(frees, []host.ObjectID{a, b}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	wantPhases := []host.GCEventKind{host.GCEnter, host.GCStart, host.GCEndMark, host.GCEndSweep, host.GCExit}
	if diff := testutil.Diff(phases, wantPhases); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if r.MemsizeOf(c) != 35 || r.MemsizeOf(b) != 0 || r.Live() != 1 {
		t.Fatalf("unexpected heap state: live=%d c=%d", r.Live(), r.MemsizeOf(c))
	}
	if r.Main().DuringGC() {
		t.Fatalf("GC flag left set")
	}
}
