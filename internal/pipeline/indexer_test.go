package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/platform/goldsky"
	"github.com/alanyoungcy/syport/internal/registry"
)

const (
	syUSDC = "0x4b8d90d68f26def303dcb6cfc9b63a1aaec15840"
	syDAI  = "0x673f9488619821aa4f7f7ba4b3e7a3b4e4c0e3a7"
	alice  = "0x1111111111111111111111111111111111111111"
	bob    = "0x2222222222222222222222222222222222222222"
)

var testLogger = slog.New(slog.DiscardHandler)

type fakeFetcher struct {
	batches   [][]goldsky.RawSeniorRedeem
	since     []time.Time
	err       error
	atBatches [][]goldsky.RawSeniorRedeem
	atCalls   []string
}

func (f *fakeFetcher) FetchSeniorRedeemsAt(_ context.Context, ts time.Time, afterID string, _ int) ([]goldsky.RawSeniorRedeem, error) {
	f.atCalls = append(f.atCalls, fmt.Sprintf("%d/%s", ts.Unix(), afterID))
	if len(f.atBatches) == 0 {
		return nil, nil
	}
	b := f.atBatches[0]
	f.atBatches = f.atBatches[1:]
	return b, nil
}

func (f *fakeFetcher) FetchSeniorRedeems(_ context.Context, since time.Time, _ int) ([]goldsky.RawSeniorRedeem, error) {
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

type memSink struct {
	rows   map[string]domain.SeniorRedeem
	cursor time.Time
}

func (s *memSink) UpsertBatch(_ context.Context, redeems []domain.SeniorRedeem) (int64, error) {
	var n int64
	for _, r := range redeems {
		key := r.SmartYieldAddress + "/" + r.SeniorBondID
		if _, ok := s.rows[key]; ok {
			continue
		}
		s.rows[key] = r
		n++
	}
	return n, nil
}

func (s *memSink) LastBlockTimestamp(context.Context) (time.Time, error) { return s.cursor, nil }

type recordingPages struct {
	invalidated []string
}

func (p *recordingPages) Get(context.Context, domain.RedeemQuery) (domain.RedeemPage, error) {
	return domain.RedeemPage{}, domain.ErrNotFound
}
func (p *recordingPages) Set(context.Context, domain.RedeemQuery, domain.RedeemPage) error {
	return nil
}
func (p *recordingPages) InvalidateAccount(_ context.Context, account string) error {
	p.invalidated = append(p.invalidated, account)
	return nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func raw(pool, owner, bond string, ts int64) goldsky.RawSeniorRedeem {
	return goldsky.RawSeniorRedeem{
		SmartYieldAddress: pool,
		AccountAddress:    owner,
		SeniorBondID:      bond,
		UnderlyingIn:      decimal.NewFromInt(1_000_000_000),
		Gain:              decimal.NewFromInt(50_000_000),
		Fee:               decimal.NewFromInt(5_000_000),
		ForDays:           365,
		BlockTimestamp:    ts,
	}
}

func rawID(id, pool, owner, bond string, ts int64) goldsky.RawSeniorRedeem {
	r := raw(pool, owner, bond, ts)
	r.ID = id
	return r
}

func usdcRegistry() *registry.Registry {
	reg := registry.New()
	reg.Replace([]domain.Pool{{ProtocolID: "compound/v2", SmartYieldAddress: syUSDC, UnderlyingSymbol: "USDC", UnderlyingDecimals: 6}})
	return reg
}

func TestIndexer_RunOnce(t *testing.T) {
	start := time.Unix(1_600_000_000, 0).UTC()
	fetcher := &fakeFetcher{batches: [][]goldsky.RawSeniorRedeem{
		{raw(syUSDC, alice, "1", 1_610_000_000), raw(syUSDC, bob, "2", 1_620_000_000)},
		{raw(syUSDC, bob, "2", 1_620_000_000), raw(syDAI, alice, "7", 1_630_000_000)},
	}}
	sink := &memSink{rows: map[string]domain.SeniorRedeem{}}
	pages := &recordingPages{}

	ix := NewIndexer(fetcher, sink, usdcRegistry(), pages, nil, IndexerConfig{BatchSize: 2, StartFrom: start}, testLogger)
	n, err := ix.RunOnce(context.Background())
	require.NoError(t, err)

	// Bond 2 is returned twice; the DAI pool is unknown.
	assert.Equal(t, int64(2), n)
	require.Len(t, fetcher.since, 3)
	assert.Equal(t, start, fetcher.since[0])
	assert.Equal(t, time.Unix(1_620_000_000, 0).UTC(), fetcher.since[1])

	r := sink.rows[syUSDC+"/1"]
	assert.True(t, r.UnderlyingIn.Equal(decimal.NewFromInt(1000)), r.UnderlyingIn.String())
	assert.True(t, r.Gain.Equal(decimal.NewFromInt(50)))
	assert.True(t, r.Fee.Equal(decimal.NewFromInt(5)))

	assert.ElementsMatch(t, []string{alice, bob}, pages.invalidated)
}

func TestIndexer_UsesStoredCursor(t *testing.T) {
	cursor := time.Unix(1_650_000_000, 0).UTC()
	fetcher := &fakeFetcher{}
	sink := &memSink{rows: map[string]domain.SeniorRedeem{}, cursor: cursor}

	ix := NewIndexer(fetcher, sink, usdcRegistry(), nil, nil, IndexerConfig{StartFrom: time.Unix(0, 0)}, testLogger)
	n, err := ix.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []time.Time{cursor}, fetcher.since)
}

func TestIndexer_FullBatchAtOneTimestampPagesByID(t *testing.T) {
	const ts = 1_610_000_000
	fetcher := &fakeFetcher{
		batches: [][]goldsky.RawSeniorRedeem{
			{rawID("0x01-0", syUSDC, alice, "1", ts), rawID("0x02-0", syUSDC, alice, "2", ts)},
			{rawID("0x04-0", syUSDC, bob, "4", ts+5)},
		},
		atBatches: [][]goldsky.RawSeniorRedeem{
			{rawID("0x01-0", syUSDC, alice, "1", ts), rawID("0x02-0", syUSDC, alice, "2", ts)},
			{rawID("0x03-0", syUSDC, bob, "3", ts)},
		},
	}
	sink := &memSink{rows: map[string]domain.SeniorRedeem{}, cursor: time.Unix(ts, 0).UTC()}
	pages := &recordingPages{}

	ix := NewIndexer(fetcher, sink, usdcRegistry(), pages, nil, IndexerConfig{BatchSize: 2}, testLogger)
	n, err := ix.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), n)
	assert.Contains(t, sink.rows, syUSDC+"/3", "redemption beyond the first batch of the timestamp is indexed")
	assert.Equal(t, []string{"1610000000/", "1610000000/0x02-0"}, fetcher.atCalls)
	assert.Equal(t, []time.Time{time.Unix(ts, 0).UTC(), time.Unix(ts+1, 0).UTC()}, fetcher.since)
	assert.ElementsMatch(t, []string{alice, bob}, pages.invalidated)
}

func TestIndexer_UndrainedTimestampStopsRun(t *testing.T) {
	const ts = 1_610_000_000
	full := []goldsky.RawSeniorRedeem{rawID("0x01-0", syUSDC, alice, "1", ts), rawID("0x02-0", syUSDC, alice, "2", ts)}
	fetcher := &fakeFetcher{
		batches:   [][]goldsky.RawSeniorRedeem{full, full},
		atBatches: [][]goldsky.RawSeniorRedeem{full, full},
	}
	sink := &memSink{rows: map[string]domain.SeniorRedeem{}, cursor: time.Unix(ts, 0).UTC()}

	ix := NewIndexer(fetcher, sink, usdcRegistry(), nil, nil, IndexerConfig{BatchSize: 2, MaxBatches: 1}, testLogger)
	n, err := ix.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, fetcher.since, 1)
	assert.Len(t, fetcher.atCalls, 1)
}

func TestIndexer_IDPagingMustAdvance(t *testing.T) {
	const ts = 1_610_000_000
	noIDs := []goldsky.RawSeniorRedeem{raw(syUSDC, alice, "1", ts), raw(syUSDC, alice, "2", ts)}
	fetcher := &fakeFetcher{
		batches:   [][]goldsky.RawSeniorRedeem{noIDs},
		atBatches: [][]goldsky.RawSeniorRedeem{noIDs},
	}
	sink := &memSink{rows: map[string]domain.SeniorRedeem{}, cursor: time.Unix(ts, 0).UTC()}

	ix := NewIndexer(fetcher, sink, usdcRegistry(), nil, nil, IndexerConfig{BatchSize: 2}, testLogger)
	_, err := ix.RunOnce(context.Background())
	assert.ErrorContains(t, err, "did not advance")
}

func TestIndexer_LockHeldSkips(t *testing.T) {
	fetcher := &fakeFetcher{}
	ix := NewIndexer(fetcher, &memSink{}, usdcRegistry(), nil, heldLocks{}, IndexerConfig{}, testLogger)
	n, err := ix.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fetcher.since)
}

func TestIndexer_FetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("subgraph down")}
	ix := NewIndexer(fetcher, &memSink{rows: map[string]domain.SeniorRedeem{}}, usdcRegistry(), nil, nil, IndexerConfig{}, testLogger)
	_, err := ix.RunOnce(context.Background())
	assert.ErrorContains(t, err, "subgraph down")
}

type stubRefresher struct{}

func (stubRefresher) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestrator_CleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{}
	ix := NewIndexer(fetcher, &memSink{rows: map[string]domain.SeniorRedeem{}}, usdcRegistry(), nil, nil, IndexerConfig{}, testLogger)
	trigger := make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- NewOrchestrator(stubRefresher{}, ix, time.Hour, trigger, testLogger).Run(ctx) }()

	trigger <- struct{}{}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.GreaterOrEqual(t, len(fetcher.since), 2)
}

type signalFetcher struct{ calls chan struct{} }

func (f signalFetcher) FetchSeniorRedeems(context.Context, time.Time, int) ([]goldsky.RawSeniorRedeem, error) {
	f.calls <- struct{}{}
	return nil, nil
}

func (f signalFetcher) FetchSeniorRedeemsAt(context.Context, time.Time, string, int) ([]goldsky.RawSeniorRedeem, error) {
	return nil, nil
}

func TestOrchestrator_IndexerWaitsForRegistry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := signalFetcher{calls: make(chan struct{}, 4)}
	ix := NewIndexer(fetcher, &memSink{rows: map[string]domain.SeniorRedeem{}}, usdcRegistry(), nil, nil, IndexerConfig{}, testLogger)
	ready := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- NewOrchestrator(stubRefresher{}, ix, time.Hour, nil, testLogger).WithRegistryReady(ready).Run(ctx)
	}()

	select {
	case <-fetcher.calls:
		t.Fatal("indexer ran before the registry was ready")
	case <-time.After(50 * time.Millisecond):
	}

	close(ready)
	select {
	case <-fetcher.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not start after the registry became ready")
	}

	cancel()
	require.NoError(t, <-done)
}
