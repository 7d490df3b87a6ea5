// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Config holds all treewalk configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (empty = metrics endpoint disabled)
	MetricsAddr string

	// Parallelism
	Procs int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:    envOr("TREEWALK_LOG_LEVEL", "info"),
		LogFormat:   envOr("TREEWALK_LOG_FORMAT", "console"),
		MetricsAddr: envOr("TREEWALK_METRICS_ADDR", ""),
		Procs:       envInt("TREEWALK_PROCS", runtime.GOMAXPROCS(0)),
	}

	if cfg.Procs < 1 {
		return nil, fmt.Errorf("TREEWALK_PROCS must be at least 1, got %d", cfg.Procs)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
