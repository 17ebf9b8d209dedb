package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/platform/goldsky"
)

const (
	indexLockKey = "indexer:senior_redeems"
	indexLockTTL = 5 * time.Minute
)

// RedeemFetcher retrieves raw senior redemption events.
type RedeemFetcher interface {
	// FetchSeniorRedeems returns events at or after since, oldest first.
	FetchSeniorRedeems(ctx context.Context, since time.Time, first int) ([]goldsky.RawSeniorRedeem, error)
	// FetchSeniorRedeemsAt returns events of exactly ts with an id after
	// afterID, ordered by id.
	FetchSeniorRedeemsAt(ctx context.Context, ts time.Time, afterID string, first int) ([]goldsky.RawSeniorRedeem, error)
}

// RedeemSink persists indexed redemptions and reports the cursor.
type RedeemSink interface {
	UpsertBatch(ctx context.Context, redeems []domain.SeniorRedeem) (int64, error)
	LastBlockTimestamp(ctx context.Context) (time.Time, error)
}

// PoolLookup resolves a pool by address.
type PoolLookup interface {
	Get(addr string) (domain.Pool, bool)
}

// IndexerConfig tunes the indexer.
type IndexerConfig struct {
	BatchSize int
	// StartFrom is the cursor used when nothing has been indexed yet.
	StartFrom time.Time
	// MaxBatches bounds one run.
	MaxBatches int
}

// Indexer mirrors senior redemptions from the subgraph into the store.
// Subgraph amounts are raw token integers and are scaled by the pool's
// underlying decimals, so redemptions of pools missing from the registry are
// skipped until the registry knows them.
type Indexer struct {
	fetcher RedeemFetcher
	sink    RedeemSink
	pools   PoolLookup
	pages   domain.PageCache   // optional
	locks   domain.LockManager // optional
	cfg     IndexerConfig
	logger  *slog.Logger
}

// NewIndexer creates a new Indexer. pages and locks may be nil.
func NewIndexer(
	fetcher RedeemFetcher,
	sink RedeemSink,
	pools PoolLookup,
	pages domain.PageCache,
	locks domain.LockManager,
	cfg IndexerConfig,
	logger *slog.Logger,
) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 50
	}
	return &Indexer{
		fetcher: fetcher,
		sink:    sink,
		pools:   pools,
		pages:   pages,
		locks:   locks,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "redeem_indexer")),
	}
}

// RunOnce indexes everything newer than the stored cursor and returns the
// number of new rows.
func (ix *Indexer) RunOnce(ctx context.Context) (int64, error) {
	if ix.locks != nil {
		unlock, err := ix.locks.Acquire(ctx, indexLockKey, indexLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				ix.logger.DebugContext(ctx, "indexer lock held elsewhere, skipping run")
				return 0, nil
			}
			return 0, fmt.Errorf("pipeline: index lock: %w", err)
		}
		defer unlock()
	}

	since, err := ix.sink.LastBlockTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("pipeline: index cursor: %w", err)
	}
	if since.IsZero() {
		since = ix.cfg.StartFrom
	}

	var total int64
	touched := make(map[string]struct{})

	for batch := 0; batch < ix.cfg.MaxBatches; batch++ {
		raw, err := ix.fetcher.FetchSeniorRedeems(ctx, since, ix.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("pipeline: fetch senior redeems since %v: %w", since, err)
		}
		if len(raw) == 0 {
			break
		}

		n, err := ix.store(ctx, raw, touched)
		total += n
		if err != nil {
			return total, err
		}

		next := latestRedeemTimestamp(raw, since)
		if len(raw) < ix.cfg.BatchSize {
			break
		}
		if !next.After(since) {
			// A full batch sharing one timestamp: the >= cursor cannot pass
			// it, so page through that second by id and resume after it.
			n, complete, err := ix.drainTimestamp(ctx, since, touched)
			total += n
			if err != nil {
				return total, err
			}
			if !complete {
				ix.logger.WarnContext(ctx, "indexer timestamp not drained within one run", slog.Time("since", since))
				break
			}
			next = since.Add(time.Second)
		}
		since = next
	}

	ix.invalidate(ctx, touched)

	ix.logger.InfoContext(ctx, "senior redeems indexed",
		slog.Int64("inserted", total),
		slog.Int("accounts", len(touched)),
		slog.Time("cursor", since),
	)
	return total, nil
}

// RunLoop runs the indexer immediately, then on every tick and on every
// trigger until ctx is done.
func (ix *Indexer) RunLoop(ctx context.Context, interval time.Duration, trigger <-chan struct{}) error {
	run := func() {
		if _, err := ix.RunOnce(ctx); err != nil && ctx.Err() == nil {
			ix.logger.ErrorContext(ctx, "indexer run failed", slog.String("error", err.Error()))
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ix.logger.Info("indexer loop stopped")
			return ctx.Err()
		case <-ticker.C:
			run()
		case <-trigger:
			ix.logger.InfoContext(ctx, "indexer run triggered")
			run()
		}
	}
}

// store scales raw events, upserts them and records the touched accounts.
func (ix *Indexer) store(ctx context.Context, raw []goldsky.RawSeniorRedeem, touched map[string]struct{}) (int64, error) {
	redeems, skipped := ix.scale(raw)
	if skipped > 0 {
		ix.logger.WarnContext(ctx, "skipped redemptions of unknown pools", slog.Int("count", skipped))
	}

	n, err := ix.sink.UpsertBatch(ctx, redeems)
	if err != nil {
		return 0, fmt.Errorf("pipeline: store senior redeems: %w", err)
	}
	for _, r := range redeems {
		touched[r.AccountAddress] = struct{}{}
	}
	return n, nil
}

// drainTimestamp indexes every event of block time ts using id paging. It
// reports whether the timestamp was exhausted within MaxBatches.
func (ix *Indexer) drainTimestamp(ctx context.Context, ts time.Time, touched map[string]struct{}) (int64, bool, error) {
	var (
		total   int64
		afterID string
	)
	for batch := 0; batch < ix.cfg.MaxBatches; batch++ {
		raw, err := ix.fetcher.FetchSeniorRedeemsAt(ctx, ts, afterID, ix.cfg.BatchSize)
		if err != nil {
			return total, false, fmt.Errorf("pipeline: fetch senior redeems at %v after %q: %w", ts, afterID, err)
		}

		n, err := ix.store(ctx, raw, touched)
		total += n
		if err != nil {
			return total, false, err
		}

		if len(raw) < ix.cfg.BatchSize {
			return total, true, nil
		}
		last := raw[len(raw)-1].ID
		if last <= afterID {
			return total, false, fmt.Errorf("pipeline: id paging at %v did not advance past %q", ts, afterID)
		}
		afterID = last
	}
	return total, false, nil
}

// scale converts raw events to domain redemptions in underlying units.
func (ix *Indexer) scale(raw []goldsky.RawSeniorRedeem) ([]domain.SeniorRedeem, int) {
	out := make([]domain.SeniorRedeem, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		pool, ok := ix.pools.Get(r.SmartYieldAddress)
		if !ok {
			skipped++
			continue
		}
		exp := -int32(pool.UnderlyingDecimals)
		out = append(out, domain.SeniorRedeem{
			SmartYieldAddress: r.SmartYieldAddress,
			AccountAddress:    domain.AddressKey(r.AccountAddress),
			SeniorBondID:      r.SeniorBondID,
			UnderlyingIn:      r.UnderlyingIn.Shift(exp),
			Gain:              r.Gain.Shift(exp),
			Fee:               r.Fee.Shift(exp),
			ForDays:           r.ForDays,
			TransactionHash:   r.TransactionHash,
			BlockTimestamp:    r.BlockTimestamp,
		})
	}
	return out, skipped
}

func (ix *Indexer) invalidate(ctx context.Context, accounts map[string]struct{}) {
	if ix.pages == nil {
		return
	}
	for a := range accounts {
		if err := ix.pages.InvalidateAccount(ctx, a); err != nil {
			ix.logger.WarnContext(ctx, "page cache invalidation failed",
				slog.String("account", a),
				slog.String("error", err.Error()),
			)
		}
	}
}

// latestRedeemTimestamp returns the newest block time in raw, or fallback.
func latestRedeemTimestamp(raw []goldsky.RawSeniorRedeem, fallback time.Time) time.Time {
	latest := fallback
	for _, r := range raw {
		ts := time.Unix(r.BlockTimestamp, 0).UTC()
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}
