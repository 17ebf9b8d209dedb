package redis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/syport/internal/domain"
)

// RedeemSource is anything that serves redemption pages.
type RedeemSource interface {
	FetchSeniorRedeems(ctx context.Context, q domain.RedeemQuery) (domain.RedeemPage, error)
}

// CachedSource is a read-through page cache in front of a RedeemSource.
// Cache failures are logged and never fail the read.
type CachedSource struct {
	next   RedeemSource
	cache  domain.PageCache
	logger *slog.Logger
}

// NewCachedSource wraps next with cache.
func NewCachedSource(next RedeemSource, cache domain.PageCache, logger *slog.Logger) *CachedSource {
	return &CachedSource{
		next:   next,
		cache:  cache,
		logger: logger.With(slog.String("component", "redeem_page_cache")),
	}
}

// FetchSeniorRedeems serves q from the cache when possible.
func (cs *CachedSource) FetchSeniorRedeems(ctx context.Context, q domain.RedeemQuery) (domain.RedeemPage, error) {
	q = q.Normalized()

	page, err := cs.cache.Get(ctx, q)
	if err == nil {
		return page, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		cs.logger.WarnContext(ctx, "page cache read failed",
			slog.String("account", q.Account),
			slog.String("error", err.Error()),
		)
	}

	page, err = cs.next.FetchSeniorRedeems(ctx, q)
	if err != nil {
		return domain.RedeemPage{}, err
	}

	if err := cs.cache.Set(ctx, q, page); err != nil {
		cs.logger.WarnContext(ctx, "page cache write failed",
			slog.String("account", q.Account),
			slog.String("error", err.Error()),
		)
	}
	return page, nil
}
