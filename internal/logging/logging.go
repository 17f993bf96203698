/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process: console output, Unix timestamps,
// debug level in development.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter additionally tees the raw JSON stream into extra (the
// in-memory log ring behind /api/logs). The console keeps its human-readable
// formatting; extra receives every event as JSON regardless.
//
// Playback components must never log from the audio callback; everything
// here is for the control and decode planes.
func SetupWithWriter(environment string, extra io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if extra != nil {
		writers = append(writers, extra)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger().
		Level(levelFor(environment))
	log.Logger = logger
	return logger
}

func levelFor(environment string) zerolog.Level {
	if environment == "development" {
		return zerolog.DebugLevel
	}
	// MELISMA_LOG_LEVEL overrides outside development (e.g. "warn" on a
	// small host where info-rate decode logging is noise).
	if raw := os.Getenv("MELISMA_LOG_LEVEL"); raw != "" {
		if level, err := zerolog.ParseLevel(raw); err == nil {
			return level
		}
	}
	return zerolog.InfoLevel
}
