package logutil

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cloud.google.com/go/compute/metadata"
)

// ConfigureLogger sets up the global logger. An empty level keeps the
// zerolog default (debug).
func ConfigureLogger(level string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if level != "" {
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(lvl)
	}
	log.Logger = log.With().Caller().Stack().Logger()
	if metadata.OnGCE() {
		log.Logger = log.Hook(ErrorHook{})
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

type ErrorHook struct{}

func (h ErrorHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	e.Str("severity", level.String())
}
