// Package redis implements the redemption page cache, the pool snapshot, the
// API rate limiter and the indexer lock on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key written by this service.
const keyPrefix = "syport:"

// defaultClientName is reported by CLIENT LIST so the service's connections
// are recognisable on a shared Redis.
const defaultClientName = "syport"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	ClientName string
}

// Client wraps the go-redis client shared by the page cache, pool cache,
// rate limiter and lock manager.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and pings it so a misconfigured address fails at
// startup instead of on the first cached request.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	name := cfg.ClientName
	if name == "" {
		name = defaultClientName
	}
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: name,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := NewFromClient(redis.NewClient(opts))
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewFromClient wraps an existing go-redis client without pinging it.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping checks the Redis connection. It backs the "redis" health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.rdb.Options().Addr, err)
	}
	return nil
}

// Close closes the Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

// key joins parts below the service namespace, e.g. key("lock", "indexer")
// is "syport:lock:indexer".
func key(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}
