package collector

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/sample"
	"github.com/getsentry/vernier/internal/timeutil"
)

// RetainedThreadName names the pseudo thread retained samples belong to.
const RetainedThreadName = "retained memory"

type (
	// RetainedCollector remembers the allocation stack of every object that
	// is still alive and reports them weighted by their size at Stop.
	RetainedCollector struct {
		base

		objMu   sync.Mutex
		raw     sample.Raw
		objects map[host.ObjectID]retainedObject
		seq     uint64

		unsubscribeAllocations func()
		unsubscribeFrees       func()
	}

	retainedObject struct {
		stack int
		// seq keeps allocation order, object ids may be reused.
		seq uint64
	}
)

func newRetainedCollector(rt host.Runtime) *RetainedCollector {
	return &RetainedCollector{
		base:    base{mode: ModeRetained, rt: rt, frames: calltree.NewFrameList()},
		objects: make(map[host.ObjectID]retainedObject),
	}
}

func (c *RetainedCollector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(); err != nil {
		return err
	}
	c.unsubscribeAllocations = c.rt.SubscribeAllocations(c.allocated)
	c.unsubscribeFrees = c.rt.SubscribeFrees(c.freed)
	return nil
}

func (c *RetainedCollector) allocated(ev host.ObjectEvent) {
	if ev.Thread == nil {
		return
	}

	c.objMu.Lock()
	defer c.objMu.Unlock()

	c.raw.Capture(ev.Thread)
	if c.raw.GC || c.raw.Empty() {
		return
	}
	c.seq++
	c.objects[ev.Object] = retainedObject{
		stack: c.frames.StackIndex(&c.raw),
		seq:   c.seq,
	}
}

func (c *RetainedCollector) freed(ev host.ObjectEvent) {
	c.objMu.Lock()
	defer c.objMu.Unlock()
	delete(c.objects, ev.Object)
}

func (c *RetainedCollector) Stop() (*result.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.end(); err != nil {
		return nil, err
	}
	stoppedAt := timeutil.Now()

	// Frees stay tracked until the second collection so objects released
	// while finalizing are not reported.
	c.rt.GC()
	c.unsubscribeAllocations()
	c.frames.Finalize(c.rt)
	c.rt.GC()
	c.unsubscribeFrees()

	c.objMu.Lock()
	live := make([]host.ObjectID, 0, len(c.objects))
	for obj := range c.objects {
		live = append(live, obj)
	}
	sort.Slice(live, func(i, j int) bool {
		return c.objects[live[i]].seq < c.objects[live[j]].seq
	})
	var samples sample.List
	for _, obj := range live {
		samples.RecordWeighted(c.objects[obj].stack, stoppedAt, 0, sample.CategoryNormal, c.rt.MemsizeOf(obj))
	}
	c.objects = make(map[host.ObjectID]retainedObject)
	c.seq = 0
	c.objMu.Unlock()

	r := c.newResult(stoppedAt)
	r.Threads = []result.Thread{
		result.NewThread(0, 0, RetainedThreadName, c.startedAt, 0, &samples),
	}
	c.frames.Reset()

	log.Debug().
		Int("objects", len(live)).
		Uint64("bytes", samples.TotalWeight()).
		Msg("retained collector stopped")
	return r, nil
}
