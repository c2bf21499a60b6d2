package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/getsentry/vernier/internal/collector"
	"github.com/getsentry/vernier/internal/workload"
)

func newRecordCommand(cfg *ServiceConfig) *cobra.Command {
	var (
		flagCfg ServiceConfig
		output  string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Profile a workload and write the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyRecordFlags(cmd, cfg, flagCfg)
			env, err := newEnvironment(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer env.shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return env.record(ctx, w)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&flagCfg.Mode, "mode", "time", "collection mode: time, custom or retained")
	flags.Uint64Var(&flagCfg.IntervalUS, "interval", collector.DefaultInterval, "sampling interval in microseconds")
	flags.DurationVar(&flagCfg.Duration, "duration", time.Second, "how long to profile")
	flags.StringVar(&flagCfg.Workload, "workload", "mixed", "workload to profile: "+strings.Join(workload.Names(), ", "))
	flags.StringVar(&flagCfg.Format, "format", formatJSON, "output format: json, speedscope, pprof, tree or functions")
	flags.StringVarP(&output, "output", "o", "", "output file, stdout when empty")

	return cmd
}

// applyRecordFlags overrides the loaded configuration with the flags set on
// the command line.
func applyRecordFlags(cmd *cobra.Command, cfg *ServiceConfig, flagCfg ServiceConfig) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = flagCfg.Mode
	}
	if flags.Changed("interval") {
		cfg.IntervalUS = flagCfg.IntervalUS
	}
	if flags.Changed("duration") {
		cfg.Duration = flagCfg.Duration
	}
	if flags.Changed("workload") {
		cfg.Workload = flagCfg.Workload
	}
	if flags.Changed("format") {
		cfg.Format = flagCfg.Format
	}
}

func (e *environment) record(ctx context.Context, w io.Writer) error {
	mode, err := collector.ParseMode(e.config.Mode)
	if err != nil {
		return err
	}
	res, err := e.profile(ctx, profileRequest{
		Mode:       mode,
		IntervalUS: e.config.IntervalUS,
		Duration:   e.config.Duration,
		Workload:   e.config.Workload,
	})
	if err != nil {
		return err
	}

	path, err := e.storeResult(ctx, res)
	if err != nil {
		log.Err(err).Str("profile_id", res.Meta.ProfileID).Msg("can't store profile")
	} else if path != "" {
		log.Info().Str("path", path).Msg("profile stored")
	}

	if err := writeResult(w, res, e.config.Format); err != nil {
		return fmt.Errorf("can't write profile: %w", err)
	}
	return nil
}
