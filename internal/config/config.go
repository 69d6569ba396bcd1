// Package config loads process configuration from RESYNC_* environment
// variables and builds the structured logger every command shares.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/resync/internal/channel"
)

// Config holds settings shared by every command. Flags override it.
type Config struct {
	LogLevel    string        `env:"RESYNC_LOG_LEVEL"    envDefault:"info"`
	LogFormat   string        `env:"RESYNC_LOG_FORMAT"   envDefault:"text"`
	Journal     string        `env:"RESYNC_JOURNAL"`
	Codec       string        `env:"RESYNC_CODEC"        envDefault:"cbor"`
	ClientID    string        `env:"RESYNC_CLIENT_ID"    envDefault:"cli"`
	StepTimeout time.Duration `env:"RESYNC_STEP_TIMEOUT" envDefault:"5s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated values.
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("RESYNC_LOG_FORMAT: must be text or json, got %q", c.LogFormat)
	}
	if _, err := channel.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("RESYNC_CODEC: %w", err)
	}
	if c.ClientID == "" {
		return fmt.Errorf("RESYNC_CLIENT_ID: must not be empty")
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("RESYNC_STEP_TIMEOUT: must be positive, got %s", c.StepTimeout)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("RESYNC_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// NewLogger builds a text or JSON slog logger writing to w.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch c.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}
