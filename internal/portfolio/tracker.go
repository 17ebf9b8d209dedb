package portfolio

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/syport/internal/domain"
)

// PoolSet is the read side of the pool registry.
type PoolSet interface {
	Snapshot() map[string]domain.Pool
	Len() int
}

// Tracker owns the refetch policy of one positions view session.
//
// A fetch is issued when the query changes or when the pool registry becomes
// non-empty for the first time, and never while the account or the registry
// is empty. Every fetch supersedes the previous one: its context is canceled
// and a late completion is discarded, so the published state always belongs
// to the newest request.
type Tracker struct {
	asm    *Assembler
	pools  PoolSet
	logger *slog.Logger

	mu        sync.Mutex
	query     domain.RedeemQuery
	havePools bool
	gen       uint64
	cancel    context.CancelFunc
	settled   chan struct{}
	state     State
	last      Result
	subs      map[int]chan State
	nextSub   int
	closed    bool

	wg sync.WaitGroup
}

// NewTracker creates a Tracker with an empty state.
func NewTracker(asm *Assembler, pools PoolSet, logger *slog.Logger) *Tracker {
	settled := make(chan struct{})
	close(settled)
	return &Tracker{
		asm:     asm,
		pools:   pools,
		logger:  logger.With(slog.String("component", "portfolio_tracker")),
		settled: settled,
		state:   EmptyState(),
		subs:    make(map[int]chan State),
	}
}

// SetQuery updates the session inputs. Filters default to "all" and the page
// to 1. Nothing happens if the normalized query equals the current one.
func (t *Tracker) SetQuery(ctx context.Context, q domain.RedeemQuery) {
	q = q.Normalized()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || q == t.query {
		return
	}
	t.query = q
	if t.pools.Len() > 0 {
		t.havePools = true
	}

	if q.Account == "" {
		t.supersedeLocked()
		t.state = EmptyState()
		t.publishLocked()
		return
	}
	t.fetchLocked(ctx)
}

// PoolsChanged tells the tracker the registry may have been populated. Only
// the first transition to non-empty triggers a fetch.
func (t *Tracker) PoolsChanged(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.havePools || t.pools.Len() == 0 {
		return
	}
	t.havePools = true
	t.fetchLocked(ctx)
}

// State returns the currently published state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastResult returns the result of the last completed, non-superseded fetch,
// including its error.
func (t *Tracker) LastResult() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Wait blocks until no fetch is in flight and returns the settled state.
func (t *Tracker) Wait(ctx context.Context) (State, error) {
	for {
		t.mu.Lock()
		st, ch := t.state, t.settled
		t.mu.Unlock()
		if !st.Loading {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Subscribe returns a channel receiving every published state and a function
// that ends the subscription. Slow subscribers lose the oldest states.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan State, 8)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Close cancels any in-flight fetch, waits for it to return, and closes all
// subscriptions.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.supersedeLocked()
	if t.state.Loading {
		t.state.Loading = false
	}
	for id, c := range t.subs {
		delete(t.subs, id)
		close(c)
	}
	t.mu.Unlock()

	t.wg.Wait()
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// supersedeLocked invalidates the in-flight fetch, if any.
func (t *Tracker) supersedeLocked() {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	select {
	case <-t.settled:
	default:
		close(t.settled)
	}
}

func (t *Tracker) fetchLocked(parent context.Context) {
	if t.query.Account == "" || !t.havePools {
		return
	}

	t.supersedeLocked()
	gen := t.gen
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	t.settled = make(chan struct{})

	q := t.query
	pools := t.pools.Snapshot()

	t.state = State{Query: q, Loading: true, Data: t.state.Data, Total: t.state.Total}
	t.publishLocked()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		t.complete(gen, t.asm.Assemble(ctx, q, pools))
	}()
}

func (t *Tracker) complete(gen uint64, res Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		t.logger.Debug("discarding superseded result",
			slog.Uint64("generation", gen),
			slog.Uint64("current", t.gen),
			slog.Bool("canceled", errors.Is(res.Err, context.Canceled)),
		)
		return
	}

	t.cancel = nil
	t.last = res
	t.state = res.State()
	close(t.settled)
	t.publishLocked()
}

func (t *Tracker) publishLocked() {
	for _, ch := range t.subs {
		select {
		case ch <- t.state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- t.state:
			default:
			}
		}
	}
}
