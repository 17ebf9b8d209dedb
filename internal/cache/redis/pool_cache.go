package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/syport/internal/domain"
)

const poolsTTL = 24 * time.Hour

var poolsKey = key("pools")

// PoolCache implements domain.PoolCache. The registry instance holding the
// refresh lock saves the pool list; the others load it.
type PoolCache struct {
	rdb *redis.Client
}

// NewPoolCache creates a PoolCache backed by the given Client.
func NewPoolCache(c *Client) *PoolCache {
	return &PoolCache{rdb: c.Underlying()}
}

// Save replaces the cached pool list.
func (pc *PoolCache) Save(ctx context.Context, pools []domain.Pool) error {
	data, err := json.Marshal(pools)
	if err != nil {
		return fmt.Errorf("redis: marshal pools: %w", err)
	}
	if err := pc.rdb.Set(ctx, poolsKey, data, poolsTTL).Err(); err != nil {
		return fmt.Errorf("redis: save pools: %w", err)
	}
	return nil
}

// Load returns the cached pool list, or domain.ErrNotFound.
func (pc *PoolCache) Load(ctx context.Context) ([]domain.Pool, error) {
	data, err := pc.rdb.Get(ctx, poolsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: load pools: %w", err)
	}

	var pools []domain.Pool
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("redis: unmarshal pools: %w", err)
	}
	return pools, nil
}

var _ domain.PoolCache = (*PoolCache)(nil)
