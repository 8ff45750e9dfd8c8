package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, then applies BIDENGINE_*
// environment overrides (a .env file in the working directory is read
// first). A missing file is not an error when path is empty. The result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose BIDENGINE_* variable is set and
// non-empty, so secrets can be injected without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "BIDENGINE_MODE")
	setStr(&cfg.LogLevel, "BIDENGINE_LOG_LEVEL")

	setStr(&cfg.Storage.Driver, "BIDENGINE_STORAGE_DRIVER")
	setStr(&cfg.Storage.BoltPath, "BIDENGINE_STORAGE_BOLT_PATH")

	setStr(&cfg.Postgres.DSN, "BIDENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BIDENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BIDENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BIDENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BIDENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BIDENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BIDENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BIDENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BIDENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BIDENGINE_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "BIDENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BIDENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BIDENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BIDENGINE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "BIDENGINE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "BIDENGINE_REDIS_CACHE_TTL")

	setStr(&cfg.S3.Endpoint, "BIDENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BIDENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BIDENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BIDENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BIDENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BIDENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BIDENGINE_S3_FORCE_PATH_STYLE")

	setStr(&cfg.NATS.URL, "BIDENGINE_NATS_URL")
	setStr(&cfg.NATS.Stream, "BIDENGINE_NATS_STREAM")
	setStr(&cfg.NATS.SubjectPrefix, "BIDENGINE_NATS_SUBJECT_PREFIX")

	setDuration(&cfg.Engine.GracePeriod, "BIDENGINE_ENGINE_GRACE_PERIOD")
	setDuration(&cfg.Engine.Extension, "BIDENGINE_ENGINE_EXTENSION")
	setInt(&cfg.Engine.MaxExtensions, "BIDENGINE_ENGINE_MAX_EXTENSIONS")
	setDuration(&cfg.Engine.LockTimeout, "BIDENGINE_ENGINE_LOCK_TIMEOUT")
	setDuration(&cfg.Engine.LockTTL, "BIDENGINE_ENGINE_LOCK_TTL")
	setBool(&cfg.Engine.DistributedLock, "BIDENGINE_ENGINE_DISTRIBUTED_LOCK")
	setInt(&cfg.Engine.BidRateLimit, "BIDENGINE_ENGINE_BID_RATE_LIMIT")
	setDuration(&cfg.Engine.BidRateWindow, "BIDENGINE_ENGINE_BID_RATE_WINDOW")

	setDuration(&cfg.Closer.Interval, "BIDENGINE_CLOSER_INTERVAL")
	setInt(&cfg.Closer.BatchSize, "BIDENGINE_CLOSER_BATCH_SIZE")

	setDuration(&cfg.Outbox.Interval, "BIDENGINE_OUTBOX_INTERVAL")
	setInt(&cfg.Outbox.BatchSize, "BIDENGINE_OUTBOX_BATCH_SIZE")
	setInt(&cfg.Outbox.MaxAttempts, "BIDENGINE_OUTBOX_MAX_ATTEMPTS")

	setBool(&cfg.Archive.Enabled, "BIDENGINE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BIDENGINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "BIDENGINE_ARCHIVE_BATCH_SIZE")

	setInt(&cfg.Server.Port, "BIDENGINE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BIDENGINE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BIDENGINE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BIDENGINE_SERVER_RATE_LIMIT")

	setStr(&cfg.Notify.TelegramToken, "BIDENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BIDENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BIDENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.BaseURL, "BIDENGINE_NOTIFY_BASE_URL")
	setStringSlice(&cfg.Notify.Events, "BIDENGINE_NOTIFY_EVENTS")
}

// Typed env helpers. Each leaves dst alone when the variable is unset, empty
// or unparsable.

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
