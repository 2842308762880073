// SPDX-License-Identifier: Apache-2.0

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls logger construction.
type Options struct {
	Level   string // "debug", "info", "warn", ...; empty means info
	Console bool   // human-readable console writer instead of JSON
	Output  io.Writer
}

// New builds a logger and installs it as the zerolog global.
func New(opts Options) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}
