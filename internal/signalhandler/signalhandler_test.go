package signalhandler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/testutil"
)

type fakeWalker struct {
	handles []frame.Handle
	gc      bool
}

func (w fakeWalker) ProfileFrames(frames []frame.Handle, lines []int32) int {
	return copy(frames, w.handles)
}
func (w fakeWalker) DuringGC() bool       { return w.gc }
func (w fakeWalker) OnNativeThread() bool { return true }

// fakeSignaler runs the handler on a fresh goroutine standing in for the
// interrupted thread.
type fakeSignaler struct {
	mu          sync.Mutex
	handler     host.SignalHandler
	installs    int
	uninstalls  int
	threads     map[host.NativeThreadID]host.Walker
	deliverErr  error
	dropSignals bool
}

func (s *fakeSignaler) InstallHandler(h host.SignalHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	s.installs++
	return nil
}

func (s *fakeSignaler) UninstallHandler() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
	s.uninstalls++
	return nil
}

func (s *fakeSignaler) Signal(tid host.NativeThreadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliverErr != nil {
		return s.deliverErr
	}
	if s.dropSignals {
		return nil
	}
	h, w := s.handler, s.threads[tid]
	go h(w)
	return nil
}

func TestInstallIsReferenceCounted(t *testing.T) {
	c := New()
	s := &fakeSignaler{}

	for i := 0; i < 3; i++ {
		if err := c.Install(s); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if s.installs != 1 {
		t.Fatalf("wanted the OS handler installed once, got %d", s.installs)
	}
	c.Uninstall()
	c.Uninstall()
	if s.uninstalls != 0 || c.Installed() != 1 {
		t.Fatalf("handler removed while still in use: uninstalls=%d installed=%d", s.uninstalls, c.Installed())
	}
	c.Uninstall()
	if s.uninstalls != 1 || c.Installed() != 0 {
		t.Fatalf("wanted the handler removed, uninstalls=%d installed=%d", s.uninstalls, c.Installed())
	}

	v := testutil.MustPanic(t, func() { c.Uninstall() })
	if err, ok := v.(error); !ok || !errors.Is(err, errorutil.ErrInvariant) {
		t.Fatalf("wanted an invariant error, got %v", v)
	}
}

func TestInstallRejectsSecondRuntime(t *testing.T) {
	c := New()
	if err := c.Install(&fakeSignaler{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Install(&fakeSignaler{}); !errors.Is(err, errorutil.ErrUsage) {
		t.Fatalf("wanted a usage error, got %v", err)
	}
}

func TestRecordSampleRoundTrip(t *testing.T) {
	s := &fakeSignaler{threads: map[host.NativeThreadID]host.Walker{
		1: fakeWalker{handles: []frame.Handle{3, 2, 1}},
		2: fakeWalker{gc: true},
	}}
	c := New(WithTimeout(time.Second), WithFatalHandler(func(err error) {
		t.Errorf("unexpected fatal error: %v", err)
	}))
	if err := c.Install(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Uninstall()

	live := NewLiveSample()
	c.RecordSample(live, 1)
	if live.Sample.Len() != 3 || live.Sample.Frame(0).Handle != 1 {
		t.Fatalf("wanted the 3 frame stack of thread 1, got len %d", live.Sample.Len())
	}

	c.RecordSample(live, 2)
	if !live.Sample.GC || !live.Sample.Empty() {
		t.Fatalf("wanted an empty GC sample, got gc=%v len=%d", live.Sample.GC, live.Sample.Len())
	}
}

func TestRecordSampleConcurrentRequests(t *testing.T) {
	s := &fakeSignaler{threads: map[host.NativeThreadID]host.Walker{
		1: fakeWalker{handles: []frame.Handle{1}},
		2: fakeWalker{handles: []frame.Handle{2, 2}},
	}}
	c := New(WithTimeout(time.Second), WithFatalHandler(func(err error) {
		t.Errorf("unexpected fatal error: %v", err)
	}))
	if err := c.Install(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Uninstall()

	var wg sync.WaitGroup
	for tid := host.NativeThreadID(1); tid <= 2; tid++ {
		wg.Add(1)
		go func(tid host.NativeThreadID) {
			defer wg.Done()
			live := NewLiveSample()
			for i := 0; i < 50; i++ {
				c.RecordSample(live, tid)
				if live.Sample.Len() != int(tid) {
					t.Errorf("thread %d got a stack of %d frames", tid, live.Sample.Len())
					return
				}
			}
		}(tid)
	}
	wg.Wait()
}

func TestRecordSampleFailures(t *testing.T) {
	tests := []struct {
		name     string
		signaler *fakeSignaler
	}{
		{name: "delivery error", signaler: &fakeSignaler{deliverErr: errors.New("ESRCH")}},
		{name: "signal never handled", signaler: &fakeSignaler{dropSignals: true}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got error
			c := New(WithTimeout(10*time.Millisecond), WithFatalHandler(func(err error) {
				got = err
			}))
			if err := c.Install(test.signaler); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer c.Uninstall()

			c.RecordSample(NewLiveSample(), 1)
			if !errors.Is(got, errorutil.ErrResource) {
				t.Fatalf("wanted a resource error, got %v", got)
			}
		})
	}
}

func TestStraySignalIsIgnored(t *testing.T) {
	c := New()
	// Must not panic with no capture in flight.
	c.handle(fakeWalker{handles: []frame.Handle{1}})
}

func TestGlobalIsShared(t *testing.T) {
	if Global() != Global() {
		t.Fatal("Global must return the same coordinator")
	}
}
