// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the prepare server configuration.
type Config struct {
	ListenAddr      string        `env:"PREPARE_LISTEN_ADDR" envDefault:":8080"`
	DBPath          string        `env:"PREPARE_DB_PATH" envDefault:"prepare.db"`
	LogLevel        string        `env:"PREPARE_LOG_LEVEL" envDefault:"info"`
	Concurrency     int           `env:"PREPARE_CONCURRENCY" envDefault:"0"`
	ShutdownTimeout time.Duration `env:"PREPARE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"PREPARE_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing is off unless an OTLP endpoint is configured.
	OTelEndpoint string `env:"PREPARE_OTEL_ENDPOINT"`
	ServiceName  string `env:"PREPARE_SERVICE_NAME" envDefault:"prepare"`
}

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Concurrency < 0 {
		return Config{}, fmt.Errorf("PREPARE_CONCURRENCY must not be negative, got %d", cfg.Concurrency)
	}
	return cfg, nil
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
