// Package config defines the engine's configuration and validation
// helpers. Fields are populated from a TOML file and then overridden by
// PERC_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Market   MarketConfig   `toml:"market"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds the ledger database connection parameters.
type PostgresConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the lock-manager and event-bus connection.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the archive object-store connection. Archival is
// optional; an empty bucket disables it.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// AuthConfig controls request-signature verification and the engine's
// own key material (used by the keygen mode and local tooling).
type AuthConfig struct {
	// Enabled turns signature verification on. Off is development only.
	Enabled bool `toml:"enabled"`
	// MaxSkew bounds request timestamp drift.
	MaxSkew duration `toml:"max_skew"`

	RawPrivateKey string `toml:"raw_private_key"`
	KeyFilePath   string `toml:"key_file_path"`
	KeyPassword   string `toml:"key_password"`
}

// MarketConfig tunes market-level limits.
type MarketConfig struct {
	// MaxBetAmount caps a single stake; zero means uncapped.
	MaxBetAmount uint64 `toml:"max_bet_amount"`
	// LockTTL is the distributed lock expiry for market operations.
	LockTTL duration `toml:"lock_ttl"`
}

// NotifyConfig holds operator alert channels. Empty Events forwards
// every event type.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML text unmarshalling ("10s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "percolator",
			User:          "percolator",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   8,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Auth: AuthConfig{
			Enabled: true,
			MaxSkew: duration{30 * time.Second},
		},
		Market: MarketConfig{
			LockTTL: duration{10 * time.Second},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for operational mistakes.
func (c *Config) Validate() error {
	var problems []string

	switch c.Mode {
	case "serve", "migrate", "keygen":
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q (serve, migrate, keygen)", c.Mode))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		problems = append(problems, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}

	if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
		problems = append(problems, "postgres host, database, and user are required")
	}
	if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid postgres port %d", c.Postgres.Port))
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis addr is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid server port %d", c.Server.Port))
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		problems = append(problems, "s3 region is required when a bucket is configured")
	}
	if c.Auth.Enabled && c.Auth.MaxSkew.Duration <= 0 {
		problems = append(problems, "auth max_skew must be positive when auth is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ArchiveEnabled reports whether snapshot archival is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.S3.Bucket != ""
}
