package main

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type ServiceConfig struct {
	Environment string `yaml:"environment" env:"SENTRY_ENVIRONMENT" env-default:"development"`
	SentryDSN   string `yaml:"sentry_dsn" env:"SENTRY_DSN"`
	LogLevel    string `yaml:"log_level" env:"VERNIER_LOG_LEVEL" env-default:"info"`
	Port        string `yaml:"port" env:"PORT" env-default:"8085"`

	Mode           string        `yaml:"mode" env:"VERNIER_MODE" env-default:"time"`
	IntervalUS     uint64        `yaml:"interval_us" env:"VERNIER_INTERVAL_US" env-default:"500"`
	Duration       time.Duration `yaml:"duration" env:"VERNIER_DURATION" env-default:"1s"`
	MaxDuration    time.Duration `yaml:"max_duration" env:"VERNIER_MAX_DURATION" env-default:"30s"`
	Format         string        `yaml:"format" env:"VERNIER_FORMAT" env-default:"json"`
	Workload       string        `yaml:"workload" env:"VERNIER_WORKLOAD" env-default:"mixed"`
	CaptureTimeout time.Duration `yaml:"capture_timeout" env:"VERNIER_CAPTURE_TIMEOUT" env-default:"5s"`

	// ProfilesBucket is a gocloud bucket URL, for example gs://profiles or
	// file:///tmp/profiles. Results are not stored when it is empty.
	ProfilesBucket        string   `yaml:"profiles_bucket" env:"VERNIER_PROFILES_BUCKET"`
	ProfilingKafkaBrokers []string `yaml:"kafka_brokers" env:"VERNIER_KAFKA_BROKERS" env-separator:","`
	ProfilesKafkaTopic    string   `yaml:"profiles_kafka_topic" env:"VERNIER_PROFILES_KAFKA_TOPIC" env-default:"processed-profiles"`
}

// loadConfig reads the configuration file at path, if any, then the
// environment, which takes precedence.
func loadConfig(path string) (ServiceConfig, error) {
	var cfg ServiceConfig
	if path != "" {
		return cfg, cleanenv.ReadConfig(path, &cfg)
	}
	return cfg, cleanenv.ReadEnv(&cfg)
}
