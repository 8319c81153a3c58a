// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/config"
)

// New returns a configured zerolog.Logger: console-pretty in
// development, and leveled per cfg.LogLevel otherwise.
func New(cfg *config.Config) zerolog.Logger {
	var out zerolog.ConsoleWriter
	var log zerolog.Logger

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		log = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(lvl)
	return log
}
