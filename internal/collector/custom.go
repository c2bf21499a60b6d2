package collector

import (
	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/sample"
	"github.com/getsentry/vernier/internal/timeutil"
)

// CustomCollector records a sample every time Sample is called. Samples
// are reported under a pseudo thread with id 0.
type CustomCollector struct {
	base

	raw     sample.Raw
	samples sample.List
}

func newCustomCollector(rt host.Runtime) *CustomCollector {
	return &CustomCollector{
		base: base{mode: ModeCustom, rt: rt, frames: calltree.NewFrameList()},
	}
}

func (c *CustomCollector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begin()
}

func (c *CustomCollector) Sample(w host.Walker) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return errorutil.ErrNotRunning
	}
	c.raw.Capture(w)
	if c.raw.GC || c.raw.Empty() {
		return nil
	}
	stack := c.frames.StackIndex(&c.raw)
	c.samples.Record(stack, timeutil.Now(), 0, sample.CategoryNormal)
	return nil
}

func (c *CustomCollector) Stop() (*result.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.end(); err != nil {
		return nil, err
	}
	stoppedAt := timeutil.Now()
	c.frames.Finalize(c.rt)

	r := c.newResult(stoppedAt)
	r.Threads = []result.Thread{
		result.NewThread(0, 0, "", c.startedAt, 0, &c.samples),
	}

	c.frames.Reset()
	c.samples = sample.List{}
	return r, nil
}
