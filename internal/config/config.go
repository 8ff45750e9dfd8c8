// Package config defines the engine configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/auction"
)

// Config is the root configuration. Fields come from defaults, then a TOML
// file, then BIDENGINE_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	NATS     NATSConfig     `toml:"nats"`
	Engine   EngineConfig   `toml:"engine"`
	Closer   CloserConfig   `toml:"closer"`
	Outbox   OutboxConfig   `toml:"outbox"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// StorageConfig picks the authoritative store.
type StorageConfig struct {
	Driver   string `toml:"driver"` // "postgres" or "bolt"
	BoltPath string `toml:"bolt_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
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

// RedisConfig holds Redis connection parameters. An empty Addr runs the
// engine without cache, pub/sub, rate limiting or distributed locks.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NATSConfig enables JetStream delivery of notifications.
type NATSConfig struct {
	URL           string   `toml:"url"`
	Stream        string   `toml:"stream"`
	SubjectPrefix string   `toml:"subject_prefix"`
	MaxAge        duration `toml:"max_age"`
}

// Enabled reports whether a NATS URL is configured.
func (n NATSConfig) Enabled() bool { return strings.TrimSpace(n.URL) != "" }

// IncrementTier is one row of the increment table: bids on a current price
// below Below must raise it by at least Step.
type IncrementTier struct {
	Below decimal.Decimal `toml:"below"`
	Step  decimal.Decimal `toml:"step"`
}

// EngineConfig holds the bidding rules and concurrency settings.
type EngineConfig struct {
	GracePeriod     duration `toml:"grace_period"`
	Extension       duration `toml:"extension"`
	MaxExtensions   int      `toml:"max_extensions"` // 0 means unbounded
	LockTimeout     duration `toml:"lock_timeout"`
	LockTTL         duration `toml:"lock_ttl"`
	DistributedLock bool     `toml:"distributed_lock"`
	BidRateLimit    int      `toml:"bid_rate_limit"` // bids per bidder per BidRateWindow; 0 disables
	BidRateWindow   duration `toml:"bid_rate_window"`

	// Increments overrides the built-in tier table when non-empty.
	Increments []IncrementTier  `toml:"increments"`
	TopStep    *decimal.Decimal `toml:"top_step"`
}

// CloserConfig controls the activation and closing ticker.
type CloserConfig struct {
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

// OutboxConfig controls the notification relay.
type OutboxConfig struct {
	Interval    duration `toml:"interval"`
	BatchSize   int      `toml:"batch_size"`
	MaxAttempts int      `toml:"max_attempts"`
}

// ArchiveConfig controls copying closed auctions to S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per client per RateWindow; 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channels. Events filters which
// notification kinds are mirrored to Telegram or Discord.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	BaseURL           string   `toml:"base_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "5m" decode into it.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for a single-node bolt deployment.
func Defaults() Config {
	return Config{
		Mode:     "serve",
		LogLevel: "info",
		Storage: StorageConfig{
			Driver:   "bolt",
			BoltPath: "data/bidengine.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bidengine",
			User:          "bidengine",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			CacheTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		NATS: NATSConfig{
			Stream:        "AUCTION_NOTIFICATIONS",
			SubjectPrefix: "auction.notify",
			MaxAge:        duration{7 * 24 * time.Hour},
		},
		Engine: EngineConfig{
			GracePeriod:   duration{5 * time.Minute},
			Extension:     duration{5 * time.Minute},
			LockTimeout:   duration{2 * time.Second},
			LockTTL:       duration{10 * time.Second},
			BidRateLimit:  10,
			BidRateWindow: duration{10 * time.Second},
		},
		Closer: CloserConfig{
			Interval:  duration{time.Second},
			BatchSize: 100,
		},
		Outbox: OutboxConfig{
			Interval:    duration{2 * time.Second},
			BatchSize:   100,
			MaxAttempts: 10,
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			BatchSize: 50,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"item_sold", "reserve_not_met"},
		},
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"worker":  true,
	"close":   true,
	"migrate": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks c for invalid or missing values and returns one error
// listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, worker, close, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Storage.Driver {
	case "bolt":
		if strings.TrimSpace(c.Storage.BoltPath) == "" {
			errs = append(errs, "storage: bolt_path must not be empty for driver bolt")
		}
		if c.Engine.DistributedLock {
			errs = append(errs, "engine: distributed_lock requires storage driver postgres")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, bolt)", c.Storage.Driver))
	}
	if strings.EqualFold(c.Mode, "migrate") && c.Storage.Driver != "postgres" {
		errs = append(errs, "mode migrate requires storage driver postgres")
	}

	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Engine.DistributedLock && !c.Redis.Enabled() {
		errs = append(errs, "engine: distributed_lock requires redis.addr")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 || c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: interval and batch_size must be positive")
		}
	}

	errs = append(errs, c.Engine.validate()...)

	if c.Closer.Interval.Duration <= 0 {
		errs = append(errs, "closer: interval must be > 0")
	}
	if c.Closer.BatchSize < 1 {
		errs = append(errs, "closer: batch_size must be >= 1")
	}
	if c.Outbox.Interval.Duration <= 0 {
		errs = append(errs, "outbox: interval must be > 0")
	}
	if c.Outbox.BatchSize < 1 || c.Outbox.MaxAttempts < 1 {
		errs = append(errs, "outbox: batch_size and max_attempts must be >= 1")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (e EngineConfig) validate() []string {
	var errs []string
	if e.GracePeriod.Duration < 0 || e.Extension.Duration < 0 {
		errs = append(errs, "engine: grace_period and extension must not be negative")
	}
	if e.MaxExtensions < 0 {
		errs = append(errs, "engine: max_extensions must be >= 0")
	}
	if e.LockTimeout.Duration <= 0 {
		errs = append(errs, "engine: lock_timeout must be > 0")
	}
	if e.DistributedLock && e.LockTTL.Duration <= e.LockTimeout.Duration {
		errs = append(errs, "engine: lock_ttl must exceed lock_timeout")
	}
	if e.BidRateLimit > 0 && e.BidRateWindow.Duration <= 0 {
		errs = append(errs, "engine: bid_rate_window must be > 0 when bid_rate_limit is set")
	}
	if _, err := e.Schedule(); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

// Schedule builds the increment schedule, falling back to the built-in tier
// table when no increments are configured.
func (e EngineConfig) Schedule() (auction.Schedule, error) {
	if len(e.Increments) == 0 {
		return auction.DefaultSchedule(), nil
	}
	if e.TopStep == nil {
		return auction.Schedule{}, fmt.Errorf("engine: top_step is required with custom increments")
	}
	tiers := make([]auction.Tier, 0, len(e.Increments))
	for _, t := range e.Increments {
		tiers = append(tiers, auction.Tier{Below: t.Below, Step: t.Step})
	}
	return auction.NewSchedule(tiers, *e.TopStep)
}

// Policy returns the anti-sniping policy.
func (e EngineConfig) Policy() auction.Policy {
	return auction.Policy{
		GracePeriod:   e.GracePeriod.Duration,
		Extension:     e.Extension.Duration,
		MaxExtensions: e.MaxExtensions,
	}
}
