package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/syport/internal/domain"
)

const (
	refreshLockKey = "registry:refresh"
	refreshLockTTL = 30 * time.Second
)

// PoolSource lists the pools known upstream.
type PoolSource interface {
	FetchPools(ctx context.Context) ([]domain.Pool, error)
}

// Refresher periodically reloads the registry from a PoolSource. When several
// instances share a Redis cache only the lock holder hits the upstream API;
// the others read the cached list. cache, store and locks may be nil.
type Refresher struct {
	reg      *Registry
	source   PoolSource
	cache    domain.PoolCache
	store    domain.PoolStore
	locks    domain.LockManager
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a Refresher. interval defaults to five minutes.
func NewRefresher(
	reg *Registry,
	source PoolSource,
	cache domain.PoolCache,
	store domain.PoolStore,
	locks domain.LockManager,
	interval time.Duration,
	logger *slog.Logger,
) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Refresher{
		reg:      reg,
		source:   source,
		cache:    cache,
		store:    store,
		locks:    locks,
		interval: interval,
		logger:   logger.With(slog.String("component", "registry_refresher")),
	}
}

// Run warms the registry from the cache or store, refreshes it immediately,
// then again on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.warm(ctx)

	if err := r.Refresh(ctx); err != nil {
		r.logger.WarnContext(ctx, "initial registry refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.WarnContext(ctx, "registry refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh loads the pool list once. If another instance holds the refresh
// lock, the cached list is used instead of the upstream source.
func (r *Refresher) Refresh(ctx context.Context) error {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, refreshLockKey, refreshLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return r.loadCached(ctx)
		}
		if err != nil {
			return fmt.Errorf("registry: acquire refresh lock: %w", err)
		}
		defer unlock()
	}

	pools, err := r.source.FetchPools(ctx)
	if err != nil {
		return fmt.Errorf("registry: fetch pools: %w", err)
	}
	if len(pools) == 0 {
		// Keep the previous contents rather than blanking the registry.
		r.logger.WarnContext(ctx, "upstream returned no pools")
		return nil
	}

	r.reg.Replace(pools)

	if r.cache != nil {
		if err := r.cache.Save(ctx, pools); err != nil {
			r.logger.WarnContext(ctx, "registry cache save failed", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.UpsertBatch(ctx, pools); err != nil {
			r.logger.WarnContext(ctx, "registry store upsert failed", slog.String("error", err.Error()))
		}
	}

	r.logger.InfoContext(ctx, "registry refreshed", slog.Int("pools", len(pools)))
	return nil
}

// warm fills an empty registry from the cache, falling back to the store.
func (r *Refresher) warm(ctx context.Context) {
	if r.cache != nil {
		if err := r.loadCached(ctx); err == nil && r.reg.Len() > 0 {
			return
		}
	}
	if r.store == nil {
		return
	}
	pools, err := r.store.List(ctx)
	if err != nil {
		r.logger.DebugContext(ctx, "registry store warm-up failed", slog.String("error", err.Error()))
		return
	}
	if len(pools) > 0 {
		r.reg.Replace(pools)
		r.logger.InfoContext(ctx, "registry warmed from store", slog.Int("pools", len(pools)))
	}
}

func (r *Refresher) loadCached(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	pools, err := r.cache.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("registry: load cached pools: %w", err)
	}
	if len(pools) > 0 {
		r.reg.Replace(pools)
	}
	return nil
}
