package thread

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/marker"
	"github.com/getsentry/vernier/internal/testutil"
	"github.com/getsentry/vernier/internal/timeutil"
)

type fakeThread struct {
	mu     sync.Mutex
	id     host.ThreadID
	tid    host.NativeThreadID
	name   string
	frames []frame.Handle // innermost first
}

func (f *fakeThread) ID() host.ThreadID { return f.id }

func (f *fakeThread) NativeID() host.NativeThreadID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tid
}

func (f *fakeThread) Name() string { return f.name }

func (f *fakeThread) ProfileFrames(frames []frame.Handle, lines []int32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copy(frames, f.frames)
}

func (f *fakeThread) DuringGC() bool       { return false }
func (f *fakeThread) OnNativeThread() bool { return true }

type outcome struct {
	state   State
	markers []marker.Type
	panics  bool
}

func TestTransitionTotality(t *testing.T) {
	states := []State{Started, Running, Ready, Suspended, Stopped}
	want := map[State]map[State]outcome{
		Started: {
			Started:   {state: Started, markers: []marker.Type{marker.GVLThreadStarted}},
			Running:   {panics: true},
			Ready:     {state: Ready},
			Suspended: {state: Suspended, markers: []marker.Type{marker.ThreadRunning}},
			Stopped:   {state: Stopped, markers: []marker.Type{marker.ThreadRunning, marker.GVLThreadExited}},
		},
		Running: {
			Started:   {state: Running, markers: []marker.Type{marker.GVLThreadStarted}},
			Running:   {state: Running, markers: []marker.Type{marker.ThreadStalled}},
			Ready:     {state: Ready, markers: []marker.Type{marker.ThreadRunning}},
			Suspended: {state: Suspended, markers: []marker.Type{marker.ThreadRunning}},
			Stopped:   {state: Stopped, markers: []marker.Type{marker.ThreadRunning, marker.GVLThreadExited}},
		},
		Ready: {
			Started:   {state: Ready, markers: []marker.Type{marker.GVLThreadStarted}},
			Running:   {state: Running, markers: []marker.Type{marker.ThreadStalled}},
			Ready:     {panics: true},
			Suspended: {panics: true},
			Stopped:   {panics: true},
		},
		Suspended: {
			Started:   {state: Suspended, markers: []marker.Type{marker.GVLThreadStarted}},
			Running:   {panics: true},
			Ready:     {state: Ready, markers: []marker.Type{marker.ThreadSuspended}},
			Suspended: {state: Suspended},
			Stopped:   {state: Stopped, markers: []marker.Type{marker.ThreadRunning, marker.GVLThreadExited}},
		},
		Stopped: {
			Started:   {state: Stopped},
			Running:   {state: Stopped},
			Ready:     {state: Stopped},
			Suspended: {state: Stopped},
			Stopped:   {state: Stopped},
		},
	}

	for _, from := range states {
		for _, to := range states {
			t.Run(fmt.Sprintf("%s to %s", from, to), func(t *testing.T) {
				expected, ok := want[from][to]
				if !ok {
					t.Fatal("transition missing from the table")
				}

				th := newThread(Running, &fakeThread{id: 1, tid: 10}, 100)
				th.State = from
				th.Markers = &marker.Table{}

				if expected.panics {
					v := testutil.MustPanic(t, func() { th.setState(to, 200) })
					if err, ok := v.(error); !ok || !errors.Is(err, errorutil.ErrInvariant) {
						t.Fatalf("wanted an invariant error, got %v", v)
					}
					return
				}

				th.setState(to, 200)
				if th.State != expected.state {
					t.Fatalf("wanted state %s, got %s", expected.state, th.State)
				}
				var got []marker.Type
				for _, m := range th.Markers.List() {
					got = append(got, m.Type)
				}
				if diff := testutil.Diff(got, expected.markers); diff != "" {
					t.Fatalf("Result mismatch: got - want +\n%s", diff)
				}
			})
		}
	}
}

func TestStalledSkippedWithoutDelay(t *testing.T) {
	th := newThread(Ready, &fakeThread{id: 1, tid: 10}, 100)
	th.setState(Running, 100)
	if n := th.Markers.Len(); n != 0 {
		t.Fatalf("wanted no stalled marker for a zero-length stall, got %d markers", n)
	}
}

func TestRunningReresolvesNativeID(t *testing.T) {
	ft := &fakeThread{id: 1, tid: 10}
	th := newThread(Ready, ft, 100)

	ft.mu.Lock()
	ft.tid = 11
	ft.mu.Unlock()

	th.setState(Running, 150)
	if th.NativeID != 11 {
		t.Fatalf("wanted native id 11 after resume, got %d", th.NativeID)
	}
}

func TestStopCapturesName(t *testing.T) {
	ft := &fakeThread{id: 1, tid: 10, name: "worker"}
	th := newThread(Running, ft, 100)
	th.setState(Stopped, 300)
	if th.Name != "worker" || th.StoppedAt != 300 {
		t.Fatalf("wanted name and stop time captured, got %q at %v", th.Name, th.StoppedAt)
	}
	if !th.StoppedAt.After(th.StartedAt) {
		t.Fatalf("stopped_at %v must exceed started_at %v", th.StoppedAt, th.StartedAt)
	}
}

func TestTableSuspendCapturesStack(t *testing.T) {
	frames := calltree.NewFrameList()
	table := NewTable(frames)
	ft := &fakeThread{id: 7, tid: 70, frames: []frame.Handle{3, 2, 1}}

	table.Started(ft)
	table.Ready(ft)
	table.Resumed(ft)
	table.Suspended(ft)
	table.Ready(ft)

	var th *Thread
	table.Each(func(t *Thread) { th = t })
	if th == nil || table.Len() != 1 {
		t.Fatalf("wanted exactly one thread, got %d", table.Len())
	}
	if th.StackOnSuspend == calltree.NoStack {
		t.Fatal("suspension must capture a stack")
	}
	got := frames.Frames(th.StackOnSuspend)
	want := []frame.Frame{{Handle: 1}, {Handle: 2}, {Handle: 3}}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	markers := th.Markers.List()
	last := markers[len(markers)-1]
	if last.Type != marker.ThreadSuspended || last.StackIndex != th.StackOnSuspend {
		t.Fatalf("wanted a suspended marker tagged with the suspend stack, got %+v", last)
	}
}

func TestTableCreatesThreadsOnFirstEvent(t *testing.T) {
	table := NewTable(calltree.NewFrameList())
	a := &fakeThread{id: 1, tid: 10}
	b := &fakeThread{id: 2, tid: 20}

	table.HandleEvent(host.ThreadEvent{Kind: host.ThreadStarted, Thread: a})
	table.HandleEvent(host.ThreadEvent{Kind: host.ThreadResumed, Thread: b})
	table.HandleEvent(host.ThreadEvent{Kind: host.ThreadExited, Thread: b})
	table.HandleEvent(host.ThreadEvent{Kind: host.ThreadResumed, Thread: b})

	states := map[host.ThreadID]State{}
	table.Each(func(th *Thread) { states[th.ID] = th.State })
	want := map[host.ThreadID]State{1: Started, 2: Stopped}
	if diff := testutil.Diff(states, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	table.Reset()
	if table.Len() != 0 {
		t.Fatalf("wanted no threads after reset, got %d", table.Len())
	}
}

func TestTableStartedMarker(t *testing.T) {
	table := NewTable(calltree.NewFrameList())
	table.Started(&fakeThread{id: 1, tid: 10})

	var markers []marker.Marker
	table.Each(func(th *Thread) { markers = th.Markers.List() })
	if len(markers) != 1 || markers[0].Type != marker.GVLThreadStarted || markers[0].Phase != marker.Instant {
		t.Fatalf("wanted one GVL_THREAD_STARTED instant, got %+v", markers)
	}
	if markers[0].Timestamp.After(timeutil.Now()) {
		t.Fatal("marker timestamped in the future")
	}
}
