package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	s3blob "github.com/alanyoungcy/bidengine/internal/blob/s3"
	"github.com/alanyoungcy/bidengine/internal/cache/redis"
	"github.com/alanyoungcy/bidengine/internal/config"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/lock"
	"github.com/alanyoungcy/bidengine/internal/notify"
	"github.com/alanyoungcy/bidengine/internal/server/handler"
	"github.com/alanyoungcy/bidengine/internal/service"
	boltstore "github.com/alanyoungcy/bidengine/internal/store/bolt"
	"github.com/alanyoungcy/bidengine/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. Optional
// collaborators are nil when their backend is not configured.
type Dependencies struct {
	Store  domain.Store
	Locker domain.KeyedLocker

	// Redis-backed; nil without redis.addr.
	ItemCache   domain.ItemCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// HealthChecks ping each connected backend.
	HealthChecks map[string]handler.HealthCheck

	// migrate applies the postgres schema; nil for bolt.
	migrate func(ctx context.Context) error
}

// Wire connects every configured backend and returns the dependencies and a
// cleanup func that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: map[string]handler.HealthCheck{}}

	// --- Authoritative store ---
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		deps.migrate = pg.RunMigrations

		if cfg.Postgres.RunMigrations && !strings.EqualFold(cfg.Mode, "migrate") {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = pg.Store()
		deps.HealthChecks["postgres"] = pg.Pool().Ping

	case "bolt":
		st, err := boltstore.Open(cfg.Storage.BoltPath)
		if err != nil {
			return fail(fmt.Errorf("wire: bolt: %w", err))
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.Store = st

	default:
		return fail(fmt.Errorf("wire: unknown storage driver %q", cfg.Storage.Driver))
	}

	// --- Redis ---
	var bus *redis.SignalBus
	var lockManager domain.LockManager
	if cfg.Redis.Enabled() {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			TLSEnabled:  cfg.Redis.TLSEnabled,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		bus = redis.NewSignalBus(rc)
		deps.SignalBus = bus
		deps.ItemCache = redis.NewItemCache(rc, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		lockManager = redis.NewLockManager(rc)
		deps.HealthChecks["redis"] = rc.Ping
	}

	// --- Per-item serialization ---
	if cfg.Engine.DistributedLock && lockManager != nil {
		deps.Locker = lock.NewDistributed(lockManager, "item:", cfg.Engine.LockTTL.Duration, cfg.Engine.LockTimeout.Duration)
	} else {
		deps.Locker = lock.NewKeyed(cfg.Engine.LockTimeout.Duration)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3c), s3blob.NewReader(s3c), deps.Store.Audit())
		deps.HealthChecks["s3"] = s3c.Health
	}

	// --- Notification channels ---
	var channels []notify.Channel
	if bus != nil {
		channels = append(channels, notify.NewStreamChannel(bus))
	}
	if cfg.NATS.Enabled() {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("bidengine"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fail(fmt.Errorf("wire: nats: %w", err))
		}
		closers = append(closers, func() { _ = nc.Drain() })

		js, err := jetstream.New(nc)
		if err != nil {
			return fail(fmt.Errorf("wire: jetstream: %w", err))
		}
		jsc, err := notify.NewJetStreamChannel(ctx, js, notify.JetStreamConfig{
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxAge:        cfg.NATS.MaxAge.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		channels = append(channels, jsc)
		deps.HealthChecks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats: connection %v", nc.Status())
			}
			return nil
		}
	}
	if len(channels) == 0 {
		channels = append(channels, notify.NewLogChannel(logger))
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.BaseURL))
	}
	deps.Notifier = notify.NewNotifier(channels, senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// Services are the engine services built over Dependencies.
type Services struct {
	Bids    *service.BidService
	Closing *service.ClosingService
	Relay   *service.OutboxRelay
	Archive *service.ArchiveService // nil when archiving is disabled
}

// BuildServices constructs the engine services from cfg and deps.
func BuildServices(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Services, error) {
	schedule, err := cfg.Engine.Schedule()
	if err != nil {
		return nil, fmt.Errorf("app: increment schedule: %w", err)
	}

	bids := service.NewBidService(deps.Store, deps.Locker, service.BidServiceConfig{
		Schedule: schedule,
		Policy:   cfg.Engine.Policy(),
		RateLimit: service.RateLimit{
			Limit:  cfg.Engine.BidRateLimit,
			Window: cfg.Engine.BidRateWindow.Duration,
		},
	}, logger)
	closing := service.NewClosingService(deps.Store, deps.Locker, cfg.Closer.Interval.Duration, cfg.Closer.BatchSize, logger)

	if deps.ItemCache != nil {
		bids.WithCache(deps.ItemCache)
		closing.WithCache(deps.ItemCache)
	}
	if deps.SignalBus != nil {
		bids.WithSignalBus(deps.SignalBus)
		closing.WithSignalBus(deps.SignalBus)
	}
	if deps.RateLimiter != nil {
		bids.WithRateLimiter(deps.RateLimiter)
	}

	svcs := &Services{
		Bids:    bids,
		Closing: closing,
		Relay: service.NewOutboxRelay(deps.Store.Outbox(), deps.Notifier,
			cfg.Outbox.Interval.Duration, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts, logger),
	}
	if deps.Archiver != nil {
		svcs.Archive = service.NewArchiveService(deps.Store, deps.Archiver,
			cfg.Archive.Interval.Duration, cfg.Archive.BatchSize, logger)
	}
	return svcs, nil
}
