package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/oddsync/oddsync/internal/blob/s3"
	"github.com/oddsync/oddsync/internal/cache/redis"
	"github.com/oddsync/oddsync/internal/config"
	"github.com/oddsync/oddsync/internal/domain"
	"github.com/oddsync/oddsync/internal/notify"
	"github.com/oddsync/oddsync/internal/platform/kalshi"
	"github.com/oddsync/oddsync/internal/platform/manifold"
	"github.com/oddsync/oddsync/internal/platform/polymarket"
	"github.com/oddsync/oddsync/internal/platform/predictit"
	"github.com/oddsync/oddsync/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	RawStore       domain.RawStore
	CanonicalStore domain.CanonicalStore
	RunStore       domain.RunStore

	// Redis-backed infrastructure
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	MarketCache domain.MarketCache

	// Cold storage
	Archiver domain.PageArchiver

	// Source clients, one per enabled platform
	Clients []domain.SourceClient

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.RawStore = postgres.NewRawStore(pool)
	deps.CanonicalStore = postgres.NewCanonicalStore(pool)
	deps.RunStore = postgres.NewRunStore(pool)

	// --- Redis ---
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

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	if cfg.Cache.Enabled {
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Cache.TTL.Duration)
	}

	// --- S3 page archive (optional) ---
	if cfg.S3.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewPageArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Source clients ---
	deps.Clients = buildClients(cfg, deps.RateLimiter)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildClients constructs one SourceClient per enabled platform.
func buildClients(cfg *config.Config, limiter domain.RateLimiter) []domain.SourceClient {
	var clients []domain.SourceClient

	if s := cfg.Sources.Polymarket; s.Enabled {
		clients = append(clients, polymarket.NewClient(
			s.BaseURL, limiter, s.RateLimit, s.RateWindow.Duration, s.PageTimeout.Duration,
		))
	}
	if s := cfg.Sources.Kalshi; s.Enabled {
		clients = append(clients, kalshi.NewClient(
			s.BaseURL, s.APIKey, limiter, s.RateLimit, s.RateWindow.Duration, s.PageTimeout.Duration,
		))
	}
	if s := cfg.Sources.Manifold; s.Enabled {
		clients = append(clients, manifold.NewClient(
			s.BaseURL, limiter, s.RateLimit, s.RateWindow.Duration, s.PageTimeout.Duration,
		))
	}
	if s := cfg.Sources.PredictIt; s.Enabled {
		clients = append(clients, predictit.NewClient(
			s.BaseURL, limiter, s.RateLimit, s.RateWindow.Duration, s.PageTimeout.Duration,
		))
	}

	return clients
}
