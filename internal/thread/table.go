package thread

import (
	"sync"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/sample"
	"github.com/getsentry/vernier/internal/timeutil"
)

// Table holds every thread seen during a run. Threads are never removed
// until Reset.
type Table struct {
	mu     sync.Mutex
	frames *calltree.FrameList
	list   []*Thread
	byID   map[host.ThreadID]*Thread
}

func NewTable(frames *calltree.FrameList) *Table {
	return &Table{
		frames: frames,
		byID:   make(map[host.ThreadID]*Thread),
	}
}

func (t *Table) Started(h host.Thread) {
	t.setState(Started, h)
}

func (t *Table) Ready(h host.Thread) {
	t.setState(Ready, h)
}

func (t *Table) Resumed(h host.Thread) {
	t.setState(Running, h)
}

func (t *Table) Suspended(h host.Thread) {
	t.setState(Suspended, h)
}

func (t *Table) Stopped(h host.Thread) {
	t.setState(Stopped, h)
}

// HandleEvent dispatches a runtime thread event.
func (t *Table) HandleEvent(ev host.ThreadEvent) {
	switch ev.Kind {
	case host.ThreadStarted:
		t.Started(ev.Thread)
	case host.ThreadReady:
		t.Ready(ev.Thread)
	case host.ThreadResumed:
		t.Resumed(ev.Thread)
	case host.ThreadSuspended:
		t.Suspended(ev.Thread)
	case host.ThreadExited:
		t.Stopped(ev.Thread)
	}
}

// setState runs on the thread h describes, which is what makes capturing
// its stack with h safe without going through a signal.
func (t *Table) setState(next State, h host.Thread) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := timeutil.Now()
	th, ok := t.byID[h.ID()]
	if !ok {
		th = newThread(next, h, now)
		t.list = append(t.list, th)
		t.byID[th.ID] = th
		return
	}

	if next == Suspended && th.State != Stopped {
		var s sample.Raw
		s.Capture(h)
		th.StackOnSuspend = th.Translator.Translate(t.frames, &s)
	}

	th.setState(next, now)
}

// Each calls fn for every thread with the table locked.
func (t *Table) Each(fn func(*Thread)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, th := range t.list {
		fn(th)
	}
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.list)
}

// CaptureNames refreshes the names of threads that are still alive.
func (t *Table) CaptureNames() {
	t.Each(func(th *Thread) {
		if th.Running() {
			th.CaptureName()
		}
	})
}

// Reset forgets every thread.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = nil
	t.byID = make(map[host.ThreadID]*Thread)
}
