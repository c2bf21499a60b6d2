// Package collector implements the three profiling strategies: interval
// sampling of every running thread, manual sampling and retained allocation
// tracking.
package collector

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/signalhandler"
	"github.com/getsentry/vernier/internal/timeutil"
)

type Mode string

const (
	ModeTime     Mode = "time"
	ModeCustom   Mode = "custom"
	ModeRetained Mode = "retained"

	// ModeWall is accepted as another name for ModeTime.
	ModeWall Mode = "wall"

	// DefaultInterval is the sampling period of the time collector, in
	// microseconds.
	DefaultInterval uint64 = 500
)

// ParseMode resolves a mode selector.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeTime, ModeWall:
		return ModeTime, nil
	case ModeCustom, ModeRetained:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", errorutil.ErrInvalidMode, s)
}

type (
	Collector interface {
		Start() error
		// Stop ends the run and returns everything recorded since Start. The
		// collector can be started again afterwards.
		Stop() (*result.Result, error)
		// Sample captures the stack w walks. Only the custom collector
		// supports it.
		Sample(w host.Walker) error
		// Markers returns the timeline markers recorded so far.
		Markers() []result.Marker
		Mode() Mode
	}

	Option func(*options)

	options struct {
		interval    uint64
		intervalSet bool
		coordinator *signalhandler.Coordinator
	}
)

// WithInterval sets the sampling period of the time collector in
// microseconds.
func WithInterval(us uint64) Option {
	return func(o *options) {
		o.interval = us
		o.intervalSet = true
	}
}

// WithCoordinator replaces the process-wide signal coordinator.
func WithCoordinator(c *signalhandler.Coordinator) Option {
	return func(o *options) {
		o.coordinator = c
	}
}

func New(mode Mode, rt host.Runtime, opts ...Option) (Collector, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	o := options{interval: DefaultInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if o.intervalSet && mode != ModeTime {
		return nil, fmt.Errorf("%w: interval is only supported in %s mode", errorutil.ErrInvalidArgument, ModeTime)
	}
	switch mode {
	case ModeTime:
		if o.interval == 0 {
			return nil, fmt.Errorf("%w: must be greater than 0", errorutil.ErrInvalidInterval)
		}
		if o.interval > math.MaxUint64/1000 {
			return nil, fmt.Errorf("%w: %d microseconds overflows nanoseconds", errorutil.ErrInvalidInterval, o.interval)
		}
		if o.coordinator == nil {
			o.coordinator = signalhandler.Global()
		}
		return newTimeCollector(rt, timeutil.FromMicroseconds(o.interval), o.coordinator), nil
	case ModeCustom:
		return newCustomCollector(rt), nil
	default:
		return newRetainedCollector(rt), nil
	}
}

// base holds what every collector shares: the run flag, the interning
// engine and the run start.
type base struct {
	mu        sync.Mutex
	running   bool
	mode      Mode
	rt        host.Runtime
	frames    *calltree.FrameList
	startedAt timeutil.Stamp
}

// begin must be called with b.mu held.
func (b *base) begin() error {
	if b.running {
		return errorutil.ErrAlreadyRunning
	}
	b.running = true
	b.startedAt = timeutil.Now()
	return nil
}

// end must be called with b.mu held.
func (b *base) end() error {
	if !b.running {
		return errorutil.ErrNotRunning
	}
	b.running = false
	return nil
}

func (b *base) Mode() Mode {
	return b.mode
}

func (b *base) Sample(host.Walker) error {
	return errorutil.ErrManualSampling
}

func (b *base) Markers() []result.Marker {
	return []result.Marker{}
}

// newResult must be called after Finalize.
func (b *base) newResult(stoppedAt timeutil.Stamp) *result.Result {
	return &result.Result{
		Meta: result.Meta{
			ProfileID: strings.ReplaceAll(uuid.New().String(), "-", ""),
			Mode:      string(b.mode),
			StartedAt: b.startedAt.Nanoseconds(),
			StoppedAt: stoppedAt.Nanoseconds(),
		},
		StackTable: b.frames.StackTable(),
		FrameTable: b.frames.FrameTable(),
		FuncTable:  b.frames.FuncTable(),
		Markers:    []result.Marker{},
	}
}
