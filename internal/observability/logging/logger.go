// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
	Service    string // stamped on every line when set

	// Output defaults to os.Stdout.
	Output io.Writer
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
		Service:    "voicetotext-service",
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		}
	}

	ctx := zerolog.New(out).
		With().
		Timestamp().
		Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithJob returns a logger scoped to one transcription job.
func WithJob(jobId, fileName string) zerolog.Logger {
	return log.With().
		Str("component", "transcription").
		Str("jobId", jobId).
		Str("fileName", fileName).
		Logger()
}

// WithRecord returns a logger scoped to one persisted record.
func WithRecord(recordId string) zerolog.Logger {
	return log.With().
		Str("component", "history").
		Str("recordId", recordId).
		Logger()
}

// WithObserver returns a logger scoped to one progress observer connection.
func WithObserver(observerId, remoteAddr string) zerolog.Logger {
	return log.With().
		Str("component", "progress").
		Str("observerId", observerId).
		Str("remoteAddr", remoteAddr).
		Logger()
}
