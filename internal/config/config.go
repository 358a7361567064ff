// Package config loads node settings from defaults, an optional YAML file
// and DURABLE_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/oplog"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "DURABLE_"

// Config holds everything a node needs to open storage and run workers.
type Config struct {
	DBPath            string                      `yaml:"db_path" env:"DB_PATH"`
	RedisAddr         string                      `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPrefix       string                      `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	MaxInlinePayload  int                         `yaml:"max_inline_payload" env:"MAX_INLINE_PAYLOAD"`
	AssumeIdempotence bool                        `yaml:"assume_idempotence" env:"ASSUME_IDEMPOTENCE"`
	PersistenceLevel  durability.PersistenceLevel `yaml:"persistence_level" env:"PERSISTENCE_LEVEL"`
	Retry             oplog.RetryPolicy           `yaml:"retry" envPrefix:"RETRY_"`
	ListenAddr        string                      `yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel          slog.Level                  `yaml:"log_level" env:"LOG_LEVEL"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		DBPath:            "durable.db",
		RedisPrefix:       "durable",
		MaxInlinePayload:  oplog.DefaultMaxInlinePayload,
		AssumeIdempotence: true,
		PersistenceLevel:  durability.Smart,
		Retry:             oplog.DefaultRetryPolicy(),
		ListenAddr:        "127.0.0.1:8080",
		LogLevel:          slog.LevelInfo,
	}
}

// Load reads path (when non-empty) over the defaults, applies the process
// environment and validates the result.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg, environ); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ParseEnv overlays DURABLE_* variables onto target. A nil environ means the
// process environment.
func ParseEnv(target any, environ map[string]string) error {
	opts := env.Options{
		Prefix:                EnvPrefix,
		UseFieldNameByDefault: true,
		Environment:           environ,
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("config: db_path is required")
	case c.MaxInlinePayload <= 0:
		return fmt.Errorf("config: max_inline_payload must be positive, got %d", c.MaxInlinePayload)
	case c.Retry.MaxAttempts == 0:
		return errors.New("config: retry.max_attempts must be at least 1")
	case c.Retry.Multiplier < 1:
		return fmt.Errorf("config: retry.multiplier must be at least 1, got %g", c.Retry.Multiplier)
	case c.Retry.MinDelay < 0 || c.Retry.MaxDelay < c.Retry.MinDelay:
		return fmt.Errorf("config: retry delays out of order (%s, %s)", c.Retry.MinDelay, c.Retry.MaxDelay)
	case c.ListenAddr == "":
		return errors.New("config: listen_addr is required")
	}
	return nil
}
