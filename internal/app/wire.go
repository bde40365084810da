package app

import (
	"context"
	"fmt"

	s3blob "github.com/btorressz/milestone-amm/internal/blob/s3"
	"github.com/btorressz/milestone-amm/internal/cache/redis"
	"github.com/btorressz/milestone-amm/internal/config"
	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/server/handler"
	"github.com/btorressz/milestone-amm/internal/store/memory"
	"github.com/btorressz/milestone-amm/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Transactor commits market, position, ledger, and fill writes
	// atomically. In server mode this is the Postgres client; in ephemeral
	// mode it is the in-memory store.
	Transactor domain.Transactor

	// Stores
	Markets   domain.MarketStore
	Positions domain.PositionStore
	Fills     domain.FillStore
	Ledger    domain.CollateralLedger
	Audit     domain.AuditStore

	// Coordination and caching. Prices, Bus, and RateLimiter are nil in
	// ephemeral mode.
	Locks       domain.LockManager
	Prices      domain.PriceCache
	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter

	// Archiver snapshots resolved markets to object storage. Nil unless an
	// S3 bucket is configured.
	Archiver domain.Archiver

	// Pingers feed the health endpoint, keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// pingerFunc adapts a bare function to the handler.Pinger interface.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations for the configured
// mode and returns them together with a cleanup function that should be
// called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	if cfg.Mode == "ephemeral" {
		return wireEphemeral()
	}
	return wireServer(ctx, cfg)
}

// wireEphemeral builds a fully in-process dependency set: in-memory stores,
// local locks, no cache, no event bus, no archival.
func wireEphemeral() (*Dependencies, func(), error) {
	store := memory.New()

	deps := &Dependencies{
		Transactor: store,
		Markets:    store.Markets(),
		Positions:  store.Positions(),
		Fills:      store.Fills(),
		Ledger:     store.Ledger(),
		Audit:      store.Audit(),
		Locks:      memory.NewLockManager(),
		Pingers:    map[string]handler.Pinger{},
	}
	return deps, func() {}, nil
}

// wireServer builds the production dependency set: Postgres stores, Redis
// coordination, and optional S3 archival.
func wireServer(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

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

	deps := &Dependencies{
		Transactor: pgClient,
		Markets:    pgClient.Markets(),
		Positions:  pgClient.Positions(),
		Fills:      pgClient.Fills(),
		Ledger:     pgClient.Ledger(),
		Audit:      pgClient.Audit(),
		Pingers: map[string]handler.Pinger{
			"postgres": pgClient,
		},
	}

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

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Prices = redis.NewPriceCache(redisClient, cfg.Engine.PriceCacheTTL.Duration)
	deps.Bus = redis.NewSignalBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Pingers["redis"] = redisClient

	// --- S3 blob storage (archival is optional) ---
	if cfg.S3.Bucket != "" {
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

		deps.Archiver = s3blob.NewMarketArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Markets,
			deps.Positions,
			deps.Fills,
			deps.Audit,
		)
		deps.Pingers["s3"] = pingerFunc(s3Client.Health)
	}

	return deps, cleanup, nil
}
