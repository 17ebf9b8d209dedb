package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/syport/internal/blob/s3"
	"github.com/alanyoungcy/syport/internal/cache/redis"
	"github.com/alanyoungcy/syport/internal/config"
	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/platform/goldsky"
	"github.com/alanyoungcy/syport/internal/platform/smartyield"
	"github.com/alanyoungcy/syport/internal/portfolio"
	"github.com/alanyoungcy/syport/internal/registry"
	"github.com/alanyoungcy/syport/internal/server/handler"
	"github.com/alanyoungcy/syport/internal/store/postgres"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Upstream clients
	SmartYield *smartyield.Client
	Subgraph   *goldsky.Client // nil unless the indexer runs

	// Stores (nil when Postgres is not wired)
	RedeemStore *postgres.RedeemStore
	PoolStore   domain.PoolStore

	// Caches
	PageCache   domain.PageCache
	PoolCache   domain.PoolCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Blob storage (nil when s3.enabled is false)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Registry is the in-process pool registry shared by every consumer.
	Registry *registry.Registry

	// Source serves redemption pages to the assembler: the REST API or the
	// local mirror, behind the Redis page cache.
	Source portfolio.Source

	// Pingers are reported by the health endpoint.
	Pingers map[string]handler.Pinger
}

// pingFunc adapts a function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsPostgres reports whether the configuration reads from or writes to the
// local redemption mirror.
func needsPostgres(cfg *config.Config) bool {
	return strings.EqualFold(cfg.Source, "postgres") || cfg.RunsIndexer()
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry: registry.New(),
		Pingers:  make(map[string]handler.Pinger),
	}

	deps.SmartYield = smartyield.NewClient(smartyield.Config{
		BaseURL:   cfg.SmartYield.BaseURL,
		Timeout:   cfg.SmartYield.Timeout.Duration,
		RateLimit: cfg.SmartYield.RateLimit,
		Burst:     cfg.SmartYield.Burst,
	})

	// --- PostgreSQL (only when the mirror is read or written) ---
	if needsPostgres(cfg) {
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
		deps.RedeemStore = postgres.NewRedeemStore(pool)
		deps.PoolStore = postgres.NewPoolStore(pool)
		deps.Pingers["postgres"] = pgClient
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

	deps.PageCache = redis.NewPageCache(redisClient, cfg.Redis.PageTTL.Duration)
	deps.PoolCache = redis.NewPoolCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Pingers["redis"] = redisClient

	// --- S3 blob storage (only when statement exports are enabled) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
	}

	// --- Subgraph (only when the indexer runs) ---
	if cfg.RunsIndexer() {
		deps.Subgraph = goldsky.NewClient(cfg.Subgraph.URL, cfg.Subgraph.APIKey, cfg.Subgraph.Timeout.Duration).
			WithLogger(logger)
		deps.Pingers["subgraph"] = pingFunc(func(ctx context.Context) error {
			_, err := deps.Subgraph.FetchLatestBlock(ctx)
			return err
		})
	}

	// --- Redemption source ---
	var next redis.RedeemSource = deps.SmartYield
	if strings.EqualFold(cfg.Source, "postgres") {
		next = deps.RedeemStore
	}
	deps.Source = redis.NewCachedSource(next, deps.PageCache, logger)

	return deps, cleanup, nil
}
