// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads service configuration from defaults, an optional YAML
// file, the environment and command-line flags, in that order of precedence.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load. Sections are
// separated by a double underscore: SECRETS_HTTP__ADDR sets http.addr.
const EnvPrefix = "SECRETS_"

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig                `koanf:"http"`
	Metrics   MetricsConfig             `koanf:"metrics"`
	Database  DatabaseConfig            `koanf:"database"`
	Store     StoreConfig               `koanf:"store"`
	Session   SessionConfig             `koanf:"session"`
	Password  PasswordConfig            `koanf:"password"`
	Log       LogConfig                 `koanf:"log"`
	Providers map[string]ProviderConfig `koanf:"providers"`
}

// HTTPConfig configures the web listener.
type HTTPConfig struct {
	Addr          string `koanf:"addr"`
	SecureCookies bool   `koanf:"secure_cookies"`
	// BaseURL is the externally visible origin, used to build provider
	// callback URLs.
	BaseURL string `koanf:"base_url"`
	// TrustProxyHeaders takes client addresses from X-Forwarded-For and
	// X-Real-IP.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`
}

// MetricsConfig configures the observability listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures PostgreSQL access.
type DatabaseConfig struct {
	URL            string `koanf:"url"`
	ConnectRetries uint64 `koanf:"connect_retries"`
}

// StoreConfig selects the repository implementation.
type StoreConfig struct {
	Driver      string `koanf:"driver"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// SessionConfig configures session lifetime.
type SessionConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// PasswordConfig holds argon2id cost parameters. Memory is in KiB.
type PasswordConfig struct {
	Time    uint32 `koanf:"time"`
	Memory  uint32 `koanf:"memory"`
	Threads uint8  `koanf:"threads"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// ProviderConfig describes one OAuth2 identity provider.
type ProviderConfig struct {
	ClientID     string   `koanf:"client_id"`
	ClientSecret string   `koanf:"client_secret"`
	AuthURL      string   `koanf:"auth_url"`
	TokenURL     string   `koanf:"token_url"`
	UserinfoURL  string   `koanf:"userinfo_url"`
	Scopes       []string `koanf:"scopes"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":3000", BaseURL: "http://localhost:3000"},
		Metrics:  MetricsConfig{Addr: ""},
		Database: DatabaseConfig{ConnectRetries: 5},
		Store:    StoreConfig{Driver: DriverPostgres, AutoMigrate: true},
		Session:  SessionConfig{TTL: 24 * time.Hour},
		Password: PasswordConfig{Time: 1, Memory: 64 * 1024, Threads: 4},
		Log:      LogConfig{Format: "json", Level: "info"},
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"http-addr":           "http.addr",
	"base-url":            "http.base_url",
	"secure-cookies":      "http.secure_cookies",
	"trust-proxy-headers": "http.trust_proxy_headers",
	"metrics-addr":        "metrics.addr",
	"database-url":        "database.url",
	"store-driver":        "store.driver",
	"auto-migrate":        "store.auto_migrate",
	"session-ttl":         "session.ttl",
	"log-format":          "log.format",
	"log-level":           "log.level",
}

// RegisterFlags adds the flags Load understands to fs, with defaults taken
// from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "web listen address")
	fs.String("base-url", d.HTTP.BaseURL, "externally visible origin for provider callbacks")
	fs.Bool("secure-cookies", d.HTTP.SecureCookies, "mark cookies Secure (requires HTTPS)")
	fs.Bool("trust-proxy-headers", d.HTTP.TrustProxyHeaders, "take client addresses from X-Forwarded-For (only behind a rewriting proxy)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics and health listen address (empty disables)")
	fs.String("database-url", "", "PostgreSQL connection string (or DATABASE_URL)")
	fs.String("store-driver", d.Store.Driver, "account store: postgres or memory")
	fs.Bool("auto-migrate", d.Store.AutoMigrate, "apply pending migrations on startup")
	fs.Duration("session-ttl", d.Session.TTL, "session validity")
	fs.String("log-format", d.Log.Format, "log format: json or text")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
}

// Load builds a Config. path may be empty to skip the file; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider("DATABASE_URL", ".", func(s string) string {
		if s == "DATABASE_URL" {
			return "database.url"
		}
		return ""
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "DATABASE_URL").Wrap(err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode configuration").Wrap(err)
	}
	return &cfg, nil
}

// envKey maps SECRETS_DATABASE__CONNECT_RETRIES to database.connect_retries.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "must not be empty")
	}
	if _, err := url.ParseRequestURI(c.HTTP.BaseURL); err != nil {
		return invalid("http.base_url", "must be an absolute URL")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "is required for the postgres store")
		}
	default:
		return invalid("store.driver", "must be postgres or memory")
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "must be positive")
	}
	if c.Password.Time == 0 || c.Password.Threads == 0 || c.Password.Memory < 8*uint32(c.Password.Threads) {
		return invalid("password", "time and threads must be positive and memory at least 8 KiB per thread")
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return invalid("log.format", "must be json or text")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return invalid("log.level", "must be debug, info, warn or error")
	}
	for name, p := range c.Providers {
		if err := p.validate(); err != nil {
			return oops.Code("CONFIG_INVALID").With("provider", name).Wrap(err)
		}
	}
	return nil
}

func (p ProviderConfig) validate() error {
	if p.ClientID == "" {
		return invalid("client_id", "is required")
	}
	for key, raw := range map[string]string{
		"auth_url":     p.AuthURL,
		"token_url":    p.TokenURL,
		"userinfo_url": p.UserinfoURL,
	} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return invalid(key, "must be an absolute URL")
		}
	}
	return nil
}

func invalid(key, reason string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s %s", key, reason)
}
