package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/vernier/internal/collector"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/signalhandler"
	"github.com/getsentry/vernier/internal/simhost"
	"github.com/getsentry/vernier/internal/workload"
)

type environment struct {
	config ServiceConfig

	runtime     *simhost.Runtime
	coordinator *signalhandler.Coordinator

	profilesBucket  *blob.Bucket
	profilingWriter *kafka.Writer
}

var release string

func newEnvironment(ctx context.Context, cfg ServiceConfig) (*environment, error) {
	if _, err := collector.ParseMode(cfg.Mode); err != nil {
		return nil, err
	}
	if err := validateFormat(cfg.Format); err != nil {
		return nil, err
	}
	e := environment{
		config:  cfg,
		runtime: simhost.New(),
		coordinator: signalhandler.New(
			signalhandler.WithTimeout(cfg.CaptureTimeout),
			signalhandler.WithFatalHandler(func(err error) {
				sentry.CaptureException(err)
				sentry.Flush(5 * time.Second)
				log.Fatal().Err(err).Msg("profiler can't capture samples")
			}),
		),
	}
	if cfg.ProfilesBucket != "" {
		b, err := blob.OpenBucket(ctx, cfg.ProfilesBucket)
		if err != nil {
			return nil, fmt.Errorf("can't open profiles bucket: %w", err)
		}
		e.profilesBucket = b
	}
	if len(cfg.ProfilingKafkaBrokers) > 0 {
		e.profilingWriter = &kafka.Writer{
			Addr:         kafka.TCP(cfg.ProfilingKafkaBrokers...),
			Balancer:     kafka.CRC32Balancer{},
			BatchSize:    10,
			Compression:  kafka.Lz4,
			ReadTimeout:  3 * time.Second,
			Topic:        cfg.ProfilesKafkaTopic,
			WriteTimeout: 3 * time.Second,
		}
	}
	return &e, nil
}

func (e *environment) shutdown() {
	if e.profilesBucket != nil {
		if err := e.profilesBucket.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	if e.profilingWriter != nil {
		if err := e.profilingWriter.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

type profileRequest struct {
	Mode       collector.Mode
	IntervalUS uint64
	Duration   time.Duration
	Workload   string
}

// profile starts a collector, then runs the requested workload on the
// environment's runtime until the duration elapses or ctx is done. Custom
// mode samples the workload threads at the requested interval.
func (e *environment) profile(ctx context.Context, req profileRequest) (*result.Result, error) {
	mode, err := collector.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	opts := []collector.Option{collector.WithCoordinator(e.coordinator)}
	if mode == collector.ModeTime {
		opts = append(opts, collector.WithInterval(req.IntervalUS))
	}
	c, err := collector.New(mode, e.runtime, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Duration)
	defer cancel()
	w, err := workload.Start(runCtx, e.runtime, req.Workload)
	if err != nil {
		if _, stopErr := c.Stop(); stopErr != nil {
			log.Err(stopErr).Msg("can't stop collector")
		}
		return nil, err
	}

	if mode == collector.ModeCustom {
		interval := time.Duration(req.IntervalUS) * time.Microsecond
		if interval <= 0 {
			interval = time.Duration(collector.DefaultInterval) * time.Microsecond
		}
		ticker := time.NewTicker(interval)
	loop:
		for {
			select {
			case <-runCtx.Done():
				break loop
			case <-ticker.C:
				for _, t := range w.Threads() {
					if err := c.Sample(t); err != nil {
						log.Err(err).Str("thread", t.Name()).Msg("can't sample thread")
					}
				}
			}
		}
		ticker.Stop()
	} else {
		<-runCtx.Done()
	}
	w.Wait()

	return c.Stop()
}
