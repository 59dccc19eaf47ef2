package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/percmarket/percolator-markets/internal/blob/s3"
	"github.com/percmarket/percolator-markets/internal/cache/redis"
	"github.com/percmarket/percolator-markets/internal/config"
	"github.com/percmarket/percolator-markets/internal/domain"
	"github.com/percmarket/percolator-markets/internal/notify"
	"github.com/percmarket/percolator-markets/internal/service"
	"github.com/percmarket/percolator-markets/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. Constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client

	LockManager domain.LockManager
	EventBus    domain.EventBus
	Notifier    *notify.Notifier
	Archiver    *s3blob.Archiver

	Markets    *service.MarketService
	Settlement *service.SettlementService
	Queries    *service.QueryService
}

// Wire constructs the concrete dependency graph from the configuration
// and returns it with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL: the authoritative ledger ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	// --- Redis: lock manager and event bus ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- S3 archive (optional) ---
	if cfg.ArchiveEnabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), pgClient.Stores(), logger)
	}

	// --- Services ---
	clock := domain.ClockFunc(time.Now)

	deps.Markets = service.NewMarketService(
		pgClient, deps.LockManager, deps.EventBus, deps.Notifier, clock,
		service.MarketConfig{
			MaxBetAmount: cfg.Market.MaxBetAmount,
			LockTTL:      cfg.Market.LockTTL.Duration,
		},
		logger,
	)

	// The Archiver interface must stay nil when archival is disabled;
	// a typed nil pointer would defeat the service's nil check.
	var archiver service.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	deps.Settlement = service.NewSettlementService(
		pgClient, deps.LockManager, deps.EventBus, deps.Notifier, archiver,
		clock, cfg.Market.LockTTL.Duration, logger,
	)

	deps.Queries = service.NewQueryService(pgClient.Stores())

	return deps, cleanup, nil
}
