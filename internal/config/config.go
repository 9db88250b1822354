// Package config loads salesync configuration from a YAML file with
// environment overrides. A .env file in the working directory is
// loaded first when present, so SALESYNC_* variables can live there
// during development.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full salesync configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Journal  JournalConfig  `yaml:"journal"`
	Registry RegistryConfig `yaml:"registry"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Auth     AuthConfig     `yaml:"auth"`
	Listen   ListenConfig   `yaml:"listen"`
}

// ServerConfig points the HTTP facade at the remote sale service.
type ServerConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Token          string `yaml:"token"`
}

// JournalConfig locates the operation journal database.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// RegistryConfig controls the today's-sales listing.
type RegistryConfig struct {
	FilterByOperator bool `yaml:"filter_by_operator"`
}

// CatalogConfig locates the CUE product catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds the token-signing settings for the dev server and
// the today --mine lookup.
type AuthConfig struct {
	Secret          string `yaml:"secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// ListenConfig is the dev server bind address.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file and no
// environment overrides are present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:        "http://localhost:8380",
			TimeoutSeconds: 10,
		},
		Journal: JournalConfig{Path: "salesync.db"},
		Auth:    AuthConfig{TokenTTLMinutes: 480},
		Listen:  ListenConfig{Addr: ":8380"},
	}
}

// Load reads configuration in precedence order: defaults, then the
// YAML file at path (when non-empty), then SALESYNC_* environment
// variables. Unknown YAML keys are rejected.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.TimeoutSeconds < 1 {
		cfg.Server.TimeoutSeconds = Default().Server.TimeoutSeconds
	}
	if cfg.Auth.TokenTTLMinutes < 1 {
		cfg.Auth.TokenTTLMinutes = Default().Auth.TokenTTLMinutes
	}

	return cfg, nil
}

// ServerTimeout returns the HTTP facade request timeout.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// TokenTTL returns the operator token lifetime.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Server.BaseURL, "SALESYNC_SERVER_BASE_URL")
	overrideInt(&cfg.Server.TimeoutSeconds, "SALESYNC_SERVER_TIMEOUT_SECONDS")
	overrideString(&cfg.Server.Token, "SALESYNC_SERVER_TOKEN")
	overrideString(&cfg.Journal.Path, "SALESYNC_JOURNAL_PATH")
	overrideBool(&cfg.Registry.FilterByOperator, "SALESYNC_REGISTRY_FILTER_BY_OPERATOR")
	overrideString(&cfg.Catalog.Path, "SALESYNC_CATALOG_PATH")
	overrideString(&cfg.Auth.Secret, "SALESYNC_AUTH_SECRET")
	overrideInt(&cfg.Auth.TokenTTLMinutes, "SALESYNC_AUTH_TOKEN_TTL_MINUTES")
	overrideString(&cfg.Listen.Addr, "SALESYNC_LISTEN_ADDR")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric environment override", "key", key, "value", v)
		return
	}
	*dst = n
}

func overrideBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring non-boolean environment override", "key", key, "value", v)
		return
	}
	*dst = b
}
