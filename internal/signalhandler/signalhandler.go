// Package signalhandler lets a profiler thread make another OS thread
// capture its own stack. Only one signal disposition exists per process, so
// the Coordinator returned by Global is shared by every collector.
package signalhandler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/sample"
)

// DefaultTimeout bounds how long RecordSample waits for the target thread.
const DefaultTimeout = 5 * time.Second

// LiveSample is the slot a signal handler fills. It is allocated by the
// requesting thread before the signal is sent.
type LiveSample struct {
	Sample   sample.Raw
	complete *Semaphore
}

func NewLiveSample() *LiveSample {
	return &LiveSample{complete: NewSemaphore()}
}

// sampleCurrentThread runs on the interrupted thread. It must not allocate or
// take locks.
func (s *LiveSample) sampleCurrentThread(w host.Walker) {
	s.Sample.Capture(w)
	s.complete.Post()
}

type (
	Option func(*Coordinator)

	Coordinator struct {
		mu       sync.Mutex
		count    int
		signaler host.Signaler

		live atomic.Pointer[LiveSample]

		timeout time.Duration
		fatal   func(error)
	}
)

// WithTimeout sets the bounded wait of RecordSample. A zero timeout waits
// forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithFatalHandler replaces the default process-terminating failure handler.
func WithFatalHandler(fn func(error)) Option {
	return func(c *Coordinator) {
		c.fatal = fn
	}
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		fatal: func(err error) {
			log.Fatal().Err(err).Msg("profiler can't capture samples")
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	globalOnce sync.Once
	global     *Coordinator
)

// Global returns the process-wide coordinator.
func Global() *Coordinator {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// Install registers the signal handler on the first call and counts the
// others. Every Install must be paired with an Uninstall.
func (c *Coordinator) Install(s host.Signaler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count > 0 {
		if c.signaler != s {
			return fmt.Errorf("%w: signal handler already installed for another runtime", errorutil.ErrUsage)
		}
		c.count++
		return nil
	}
	if err := s.InstallHandler(c.handle); err != nil {
		return err
	}
	c.signaler = s
	c.count = 1
	log.Debug().Msg("profiling signal handler installed")
	return nil
}

// Uninstall removes the signal handler once the last user is gone.
func (c *Coordinator) Uninstall() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		errorutil.Invariant("signal handler uninstalled more times than installed")
	}
	c.count--
	if c.count > 0 {
		return
	}
	if err := c.signaler.UninstallHandler(); err != nil {
		log.Error().Err(err).Msg("can't remove profiling signal handler")
	}
	c.signaler = nil
	log.Debug().Msg("profiling signal handler removed")
}

// Installed returns the number of outstanding Install calls.
func (c *Coordinator) Installed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// RecordSample makes the thread tid capture its own stack into s and waits
// for it to finish. Only one capture is in flight process-wide.
func (c *Coordinator) RecordSample(s *LiveSample, tid host.NativeThreadID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tid == 0 {
		errorutil.Invariant("signal requested for thread without native id")
	}
	if c.count == 0 {
		errorutil.Invariant("sample requested without an installed signal handler")
	}

	s.complete.drain()
	c.live.Store(s)
	defer c.live.Store(nil)

	if err := c.signaler.Signal(tid); err != nil {
		c.fatal(fmt.Errorf("%w: signal delivery to thread %d: %v", errorutil.ErrResource, tid, err))
		return
	}
	if c.timeout == 0 {
		s.complete.Wait()
		return
	}
	if !s.complete.WaitTimeout(c.timeout) {
		c.fatal(fmt.Errorf("%w: thread %d did not answer the profiling signal within %v", errorutil.ErrResource, tid, c.timeout))
	}
}

// handle is the signal handler. A signal arriving with no capture in flight
// is ignored.
func (c *Coordinator) handle(w host.Walker) {
	if s := c.live.Load(); s != nil {
		s.sampleCurrentThread(w)
	}
}
