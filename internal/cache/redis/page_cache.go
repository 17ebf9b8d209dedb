package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/syport/internal/domain"
)

// DefaultPageTTL bounds how stale a cached redemption page can be.
const DefaultPageTTL = time.Minute

// PageCache implements domain.PageCache. Every page is its own string key
// with its own TTL, so a page is never served more than ttl after it was
// fetched no matter how often other pages of the account are written.
//
// Key schema:
//
//	syport:redeems:{account}                                  - set of page keys of the account
//	syport:redeems:{account}:{page}:{size}:{originator}:{token} - JSON RedeemPage, TTL ttl
type PageCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPageCache creates a PageCache. A non-positive ttl uses DefaultPageTTL.
func NewPageCache(c *Client, ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = DefaultPageTTL
	}
	return &PageCache{rdb: c.Underlying(), ttl: ttl}
}

// accountIndexKey names the set listing the page keys of account.
func accountIndexKey(account string) string {
	return key("redeems", domain.AddressKey(account))
}

// pageField identifies one page within an account. Filter values keep their
// case: the upstream sources treat "compound/v2" and "COMPOUND/V2" as
// different filters, so they must not share an entry.
func pageField(q domain.RedeemQuery) string {
	q = q.Normalized()
	return strconv.Itoa(q.Page) + ":" + strconv.Itoa(q.PageSize) + ":" + q.Originator + ":" + q.Token
}

func pageKey(q domain.RedeemQuery) string {
	return accountIndexKey(q.Account) + ":" + pageField(q)
}

// Get returns the cached page for q, or domain.ErrNotFound.
func (pc *PageCache) Get(ctx context.Context, q domain.RedeemQuery) (domain.RedeemPage, error) {
	data, err := pc.rdb.Get(ctx, pageKey(q)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RedeemPage{}, domain.ErrNotFound
		}
		return domain.RedeemPage{}, fmt.Errorf("redis: get redeem page %s: %w", q.Account, err)
	}

	var page domain.RedeemPage
	if err := json.Unmarshal(data, &page); err != nil {
		return domain.RedeemPage{}, fmt.Errorf("redis: unmarshal redeem page %s: %w", q.Account, err)
	}
	return page, nil
}

// Set stores page for q with a fresh TTL and records its key in the account
// index. The index outlives its newest page by one ttl at most.
func (pc *PageCache) Set(ctx context.Context, q domain.RedeemQuery, page domain.RedeemPage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("redis: marshal redeem page %s: %w", q.Account, err)
	}

	pk := pageKey(q)
	idx := accountIndexKey(q.Account)
	pipe := pc.rdb.TxPipeline()
	pipe.Set(ctx, pk, data, pc.ttl)
	pipe.SAdd(ctx, idx, pk)
	pipe.Expire(ctx, idx, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set redeem page %s: %w", q.Account, err)
	}
	return nil
}

// InvalidateAccount drops every cached page of account.
func (pc *PageCache) InvalidateAccount(ctx context.Context, account string) error {
	idx := accountIndexKey(account)
	keys, err := pc.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("redis: list redeem pages %s: %w", account, err)
	}
	if err := pc.rdb.Del(ctx, append(keys, idx)...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate redeem pages %s: %w", account, err)
	}
	return nil
}

var _ domain.PageCache = (*PageCache)(nil)
