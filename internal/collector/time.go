package collector

import (
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/marker"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/sample"
	"github.com/getsentry/vernier/internal/signalhandler"
	"github.com/getsentry/vernier/internal/thread"
	"github.com/getsentry/vernier/internal/timeutil"
)

// TimeCollector samples every running thread at a fixed period from a
// dedicated OS thread.
type TimeCollector struct {
	base

	interval    timeutil.Stamp
	coordinator *signalhandler.Coordinator
	threads     *thread.Table
	gcMarkers   *marker.GCTable

	sampling    atomic.Bool
	stopped     *signalhandler.Semaphore
	unsubscribe []func()

	// passes and resyncs are only touched by the sampling loop until it
	// has been joined.
	passes  uint64
	resyncs uint64
}

func newTimeCollector(rt host.Runtime, interval timeutil.Stamp, c *signalhandler.Coordinator) *TimeCollector {
	frames := calltree.NewFrameList()
	return &TimeCollector{
		base:        base{mode: ModeTime, rt: rt, frames: frames},
		interval:    interval,
		coordinator: c,
		threads:     thread.NewTable(frames),
		gcMarkers:   &marker.GCTable{},
		stopped:     signalhandler.NewSemaphore(),
	}
}

func (c *TimeCollector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(); err != nil {
		return err
	}
	if err := c.coordinator.Install(c.rt); err != nil {
		c.running = false
		return err
	}

	c.sampling.Store(true)
	go c.run()

	// The caller is running, it just called us. Without this a run
	// where no thread ever switches would have nothing to sample.
	c.threads.Resumed(c.rt.CurrentThread())

	c.unsubscribe = append(c.unsubscribe,
		c.rt.SubscribeThreadEvents(c.threads.HandleEvent),
		c.rt.SubscribeGCEvents(c.handleGCEvent),
	)

	log.Debug().
		Uint64("interval_us", c.interval.Microseconds()).
		Msg("time collector started")
	return nil
}

func (c *TimeCollector) handleGCEvent(ev host.GCEvent) {
	switch ev.Kind {
	case host.GCStart:
		c.gcMarkers.Record(marker.GCStart)
	case host.GCEndMark:
		c.gcMarkers.Record(marker.GCEndMark)
	case host.GCEndSweep:
		c.gcMarkers.Record(marker.GCEndSweep)
	case host.GCEnter:
		c.gcMarkers.RecordGCEntered()
	case host.GCExit:
		c.gcMarkers.RecordGCLeave()
	}
}

func (c *TimeCollector) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	live := signalhandler.NewLiveSample()
	next := timeutil.Now()
	for c.sampling.Load() {
		start := timeutil.Now()

		c.threads.Each(func(th *thread.Thread) {
			switch th.State {
			case thread.Running:
				c.coordinator.RecordSample(live, th.NativeID)
				if live.Sample.GC {
					return
				}
				stack := th.Translator.Translate(c.frames, &live.Sample)
				th.Samples.Record(stack, start, th.NativeID, sample.CategoryNormal)
			case thread.Suspended:
				th.Samples.Record(th.StackOnSuspend, start, th.NativeID, sample.CategoryIdle)
			}
		})
		c.passes++

		var resynced bool
		next, resynced = nextSchedule(next, timeutil.Now(), c.interval)
		if resynced {
			c.resyncs++
		}
		timeutil.SleepUntil(next)
	}
	c.stopped.Post()
}

// nextSchedule returns the deadline of the pass after the one scheduled at
// prev, given the current pass completed at complete. A loop that fell
// behind starts over from complete instead of catching up.
func nextSchedule(prev, complete, interval timeutil.Stamp) (timeutil.Stamp, bool) {
	next := prev.Add(interval)
	if next.Before(complete) {
		return complete.Add(interval), true
	}
	return next, false
}

func (c *TimeCollector) Stop() (*result.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.end(); err != nil {
		return nil, err
	}
	stoppedAt := timeutil.Now()

	c.sampling.Store(false)
	c.stopped.Wait()

	c.coordinator.Uninstall()
	for _, unsubscribe := range c.unsubscribe {
		unsubscribe()
	}
	c.unsubscribe = nil

	c.threads.CaptureNames()
	c.frames.Finalize(c.rt)

	r := c.newResult(stoppedAt)
	r.Meta.IntervalNS = c.interval.Nanoseconds()
	c.threads.Each(func(th *thread.Thread) {
		r.Threads = append(r.Threads, result.NewThread(th.ID, th.NativeID, th.Name, th.StartedAt, th.StoppedAt, &th.Samples))
	})
	r.Markers = c.markers()

	log.Debug().
		Uint64("passes", c.passes).
		Uint64("resyncs", c.resyncs).
		Int("threads", len(r.Threads)).
		Int("stacks", len(r.StackTable.Parent)).
		Msg("time collector stopped")

	c.reset()
	return r, nil
}

func (c *TimeCollector) reset() {
	c.frames.Reset()
	c.threads.Reset()
	c.gcMarkers = &marker.GCTable{}
	c.passes = 0
	c.resyncs = 0
}

// Markers returns GC markers, tagged with the main thread, followed by the
// markers of every thread.
func (c *TimeCollector) Markers() []result.Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markers()
}

func (c *TimeCollector) markers() []result.Marker {
	markers := []result.Marker{}
	mainID := c.rt.MainThread().ID()
	for _, m := range c.gcMarkers.List() {
		markers = append(markers, result.NewMarker(mainID, m))
	}
	c.threads.Each(func(th *thread.Thread) {
		for _, m := range th.Markers.List() {
			markers = append(markers, result.NewMarker(th.ID, m))
		}
	})
	return markers
}
