package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path, merges it on top of the built-in
// defaults, and applies PERC_* environment overrides. The caller should
// invoke Validate afterwards. An empty path skips the file and loads
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present; ignore when missing.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites config fields from well-known PERC_*
// environment variables, so operators can inject secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.Host, "PERC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERC_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERC_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERC_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERC_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERC_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PERC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PERC_SERVER_CORS_ORIGINS")

	// ── Auth ──
	setBool(&cfg.Auth.Enabled, "PERC_AUTH_ENABLED")
	setDuration(&cfg.Auth.MaxSkew, "PERC_AUTH_MAX_SKEW")
	setStr(&cfg.Auth.RawPrivateKey, "PERC_AUTH_RAW_PRIVATE_KEY")
	setStr(&cfg.Auth.KeyFilePath, "PERC_AUTH_KEY_FILE_PATH")
	setStr(&cfg.Auth.KeyPassword, "PERC_AUTH_KEY_PASSWORD")

	// ── Market ──
	setUint64(&cfg.Market.MaxBetAmount, "PERC_MARKET_MAX_BET_AMOUNT")
	setDuration(&cfg.Market.LockTTL, "PERC_MARKET_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERC_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERC_MODE")
	setStr(&cfg.LogLevel, "PERC_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable
// is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
