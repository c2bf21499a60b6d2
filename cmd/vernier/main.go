package main

import (
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/getsentry/vernier/internal/httputil"
	"github.com/getsentry/vernier/internal/logutil"
)

func newRootCommand() *cobra.Command {
	var (
		cfg        ServiceConfig
		configPath string
	)
	root := &cobra.Command{
		Use:           "vernier",
		Short:         "Sampling profiler for runtime threads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			cfg, err = loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := logutil.ConfigureLogger(cfg.LogLevel); err != nil {
				return err
			}
			return sentry.Init(sentry.ClientOptions{
				BeforeSend:       httputil.TagEvent,
				Dsn:              cfg.SentryDSN,
				EnableTracing:    true,
				Environment:      cfg.Environment,
				Release:          release,
				TracesSampleRate: 1.0,
			})
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	root.AddCommand(newRecordCommand(&cfg), newServeCommand(&cfg))
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("vernier failed")
		os.Exit(1)
	}
}
