/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config covers process level configuration read from environment variables.
// Runtime audio settings (volume, crossfade time, buffer thresholds) are
// database-first and live in the settings table; this struct only carries
// what is needed before the database is open.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// DBPath is the sqlite database file holding settings and the queue.
	DBPath string

	// MediaRoot restricts enqueue paths; empty disables the check.
	MediaRoot string

	// DecoderWorkers sets the decode pool size. Default 2, tuned for
	// resource-constrained hosts.
	DecoderWorkers int

	// BufferSeconds sizes each passage ring buffer.
	BufferSeconds int

	// DeviceID overrides the persisted audio device for this process.
	DeviceID string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    getEnv("MELISMA_ENV", "development"),
		HTTPBind:       getEnv("MELISMA_HTTP_BIND", "0.0.0.0"),
		HTTPPort:       getEnvInt("MELISMA_HTTP_PORT", 5720),
		MetricsBind:    getEnv("MELISMA_METRICS_BIND", "127.0.0.1:9100"),
		DBPath:         getEnv("MELISMA_DB_PATH", "./melisma.db"),
		MediaRoot:      getEnv("MELISMA_MEDIA_ROOT", ""),
		DecoderWorkers: getEnvInt("MELISMA_DECODER_WORKERS", 2),
		BufferSeconds:  getEnvInt("MELISMA_BUFFER_SECONDS", 15),
		DeviceID:       getEnv("MELISMA_AUDIO_DEVICE", ""),
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("MELISMA_DB_PATH must not be empty")
	}

	if cfg.DecoderWorkers < 1 {
		return nil, fmt.Errorf("MELISMA_DECODER_WORKERS must be >= 1, got %d", cfg.DecoderWorkers)
	}

	if cfg.BufferSeconds < 1 {
		return nil, fmt.Errorf("MELISMA_BUFFER_SECONDS must be >= 1, got %d", cfg.BufferSeconds)
	}

	if cfg.MediaRoot != "" {
		cfg.MediaRoot = strings.TrimRight(cfg.MediaRoot, "/")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
