package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "serve"
log_level = "debug"

[postgres]
host = "db.internal"
database = "markets"
user = "engine"

[market]
max_bet_amount = 1000000
lock_ttl = "5s"

[auth]
enabled = true
max_skew = "45s"
`), 0o600))

	t.Setenv("PERC_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("PERC_SERVER_PORT", "9090")
	t.Setenv("PERC_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	// Defaults survive where neither file nor env set a value.
	assert.Equal(t, 5432, cfg.Postgres.Port)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	assert.Equal(t, uint64(1_000_000), cfg.Market.MaxBetAmount)
	assert.Equal(t, 5*time.Second, cfg.Market.LockTTL.Duration)
	assert.Equal(t, 45*time.Second, cfg.Auth.MaxSkew.Duration)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "daemon" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"missing postgres", func(c *Config) { c.Postgres.Host = "" }, "postgres"},
		{"missing redis", func(c *Config) { c.Redis.Addr = "" }, "redis addr"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"bucket without region", func(c *Config) { c.S3.Bucket = "archive" }, "s3 region"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
