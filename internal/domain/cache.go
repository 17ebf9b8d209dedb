package domain

import (
	"context"
	"time"
)

// PageCache caches redemption pages per query.
type PageCache interface {
	Get(ctx context.Context, q RedeemQuery) (RedeemPage, error)
	Set(ctx context.Context, q RedeemQuery, page RedeemPage) error
	InvalidateAccount(ctx context.Context, account string) error
}

// PoolCache shares the pool registry between service instances.
type PoolCache interface {
	Save(ctx context.Context, pools []Pool) error
	Load(ctx context.Context) ([]Pool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
