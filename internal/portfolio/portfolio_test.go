package portfolio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/registry"
)

const (
	account = "0x1234567890123456789012345678901234567890"
	syUSDC  = "0x4B8d90D68F26DEF303Dcb6CFc9b63A1aAEC15840"
)

var testLogger = slog.New(slog.DiscardHandler)

// gatedSource serves canned pages keyed by page number. A page with a gate
// blocks until the gate is closed, ignoring cancellation.
type gatedSource struct {
	mu    sync.Mutex
	calls []domain.RedeemQuery
	gates map[int]chan struct{}
	pages map[int]domain.RedeemPage
	errs  map[int]error
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		gates: make(map[int]chan struct{}),
		pages: make(map[int]domain.RedeemPage),
		errs:  make(map[int]error),
	}
}

func (s *gatedSource) FetchSeniorRedeems(_ context.Context, q domain.RedeemQuery) (domain.RedeemPage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, q)
	gate, page, err := s.gates[q.Page], s.pages[q.Page], s.errs[q.Page]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return page, err
}

func (s *gatedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func redeem(bondID string) domain.SeniorRedeem {
	return domain.SeniorRedeem{
		SmartYieldAddress: syUSDC,
		AccountAddress:    account,
		SeniorBondID:      bondID,
		UnderlyingIn:      decimal.NewFromInt(1000),
		Gain:              decimal.NewFromInt(50),
		Fee:               decimal.NewFromInt(5),
		ForDays:           365,
	}
}

func populatedRegistry() *registry.Registry {
	reg := registry.New()
	reg.Replace([]domain.Pool{{ProtocolID: "compound/v2", SmartYieldAddress: syUSDC, UnderlyingSymbol: "USDC"}})
	return reg
}

func waitState(t *testing.T, tr *Tracker) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := tr.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestAssemble_Success(t *testing.T) {
	src := newGatedSource()
	src.pages[1] = domain.RedeemPage{Data: []domain.SeniorRedeem{redeem("1")}, Count: 12}

	asm := NewAssembler(src, testLogger)
	res := asm.Assemble(context.Background(), domain.RedeemQuery{Account: account}, populatedRegistry().Snapshot())

	require.True(t, res.OK())
	assert.Equal(t, 12, res.Total)
	require.Len(t, res.Data, 1)
	require.NotNil(t, res.Data[0].Pool)
	assert.True(t, res.Data[0].Redeemed.Equal(decimal.NewFromInt(1045)))
	assert.True(t, res.Data[0].APY.Decimal.Equal(decimal.NewFromInt(5)))

	require.Len(t, src.calls, 1)
	assert.Equal(t, domain.RedeemQuery{Account: account, Page: 1, PageSize: 10, Originator: "all", Token: "all"}, src.calls[0])
}

func TestAssemble_FailureCollapsesToEmpty(t *testing.T) {
	src := newGatedSource()
	src.errs[1] = errors.New("boom")

	res := NewAssembler(src, testLogger).Assemble(context.Background(), domain.RedeemQuery{Account: account}, nil)

	assert.False(t, res.OK())
	assert.ErrorContains(t, res.Err, "boom")

	st := res.State()
	assert.Equal(t, []domain.PositionSummary{}, st.Data)
	assert.Equal(t, 0, st.Total)
	assert.False(t, st.Loading)
}

func TestAssemble_EmptyAccount(t *testing.T) {
	src := newGatedSource()
	res := NewAssembler(src, testLogger).Assemble(context.Background(), domain.RedeemQuery{}, nil)
	assert.ErrorIs(t, res.Err, domain.ErrInvalidQuery)
	assert.Zero(t, src.callCount())
}

func TestTracker_FetchesAndPublishes(t *testing.T) {
	src := newGatedSource()
	src.pages[1] = domain.RedeemPage{Data: []domain.SeniorRedeem{redeem("1"), redeem("2")}, Count: 2}

	tr := NewTracker(NewAssembler(src, testLogger), populatedRegistry(), testLogger)
	defer tr.Close()

	updates, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account})
	st := waitState(t, tr)

	assert.Equal(t, 2, st.Total)
	assert.Len(t, st.Data, 2)

	first := <-updates
	assert.True(t, first.Loading)
	second := <-updates
	assert.False(t, second.Loading)
	assert.Equal(t, 2, second.Total)
}

func TestTracker_RejectedFetch(t *testing.T) {
	src := newGatedSource()
	src.pages[1] = domain.RedeemPage{Data: []domain.SeniorRedeem{redeem("1")}, Count: 1}
	src.errs[2] = errors.New("upstream down")

	tr := NewTracker(NewAssembler(src, testLogger), populatedRegistry(), testLogger)
	defer tr.Close()

	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account, Page: 1})
	require.Equal(t, 1, waitState(t, tr).Total)

	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account, Page: 2})
	st := waitState(t, tr)

	assert.Equal(t, []domain.PositionSummary{}, st.Data)
	assert.Equal(t, 0, st.Total)
	assert.False(t, st.Loading)
	assert.ErrorContains(t, tr.LastResult().Err, "upstream down")
}

func TestTracker_NewestRequestWins(t *testing.T) {
	src := newGatedSource()
	gate := make(chan struct{})
	src.gates[1] = gate
	src.pages[1] = domain.RedeemPage{Data: []domain.SeniorRedeem{redeem("stale")}, Count: 1}
	src.pages[2] = domain.RedeemPage{Data: []domain.SeniorRedeem{redeem("fresh")}, Count: 11}

	tr := NewTracker(NewAssembler(src, testLogger), populatedRegistry(), testLogger)
	defer tr.Close()

	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account, Page: 1})
	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account, Page: 2})

	st := waitState(t, tr)
	require.Len(t, st.Data, 1)
	assert.Equal(t, "fresh", st.Data[0].SeniorBondID)

	// Let the first request finish late and wait for its goroutine.
	close(gate)
	tr.wg.Wait()

	st = tr.State()
	require.Len(t, st.Data, 1)
	assert.Equal(t, "fresh", st.Data[0].SeniorBondID)
	assert.Equal(t, 11, st.Total)
	assert.Equal(t, 2, st.Query.Page)
}

func TestTracker_NoRefetchWhenUnchanged(t *testing.T) {
	src := newGatedSource()
	tr := NewTracker(NewAssembler(src, testLogger), populatedRegistry(), testLogger)
	defer tr.Close()

	q := domain.RedeemQuery{Account: account, Page: 1, PageSize: 10}
	tr.SetQuery(context.Background(), q)
	waitState(t, tr)

	// Equal after defaults are applied.
	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account, Originator: "all"})
	tr.PoolsChanged(context.Background())
	waitState(t, tr)

	assert.Equal(t, 1, src.callCount())

	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account, Token: "DAI"})
	waitState(t, tr)
	assert.Equal(t, 2, src.callCount())
}

func TestTracker_WaitsForAccountAndRegistry(t *testing.T) {
	src := newGatedSource()
	reg := registry.New()
	tr := NewTracker(NewAssembler(src, testLogger), reg, testLogger)
	defer tr.Close()

	tr.SetQuery(context.Background(), domain.RedeemQuery{})
	tr.PoolsChanged(context.Background())
	assert.Zero(t, src.callCount())

	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account})
	st := waitState(t, tr)
	assert.Zero(t, src.callCount())
	assert.False(t, st.Loading)
	assert.Equal(t, []domain.PositionSummary{}, st.Data)

	reg.Replace([]domain.Pool{{SmartYieldAddress: syUSDC, UnderlyingSymbol: "USDC"}})
	tr.PoolsChanged(context.Background())
	waitState(t, tr)
	assert.Equal(t, 1, src.callCount())

	// Later registry refreshes do not refetch.
	tr.PoolsChanged(context.Background())
	waitState(t, tr)
	assert.Equal(t, 1, src.callCount())
}

func TestTracker_ClearingAccountResets(t *testing.T) {
	src := newGatedSource()
	src.pages[1] = domain.RedeemPage{Data: []domain.SeniorRedeem{redeem("1")}, Count: 1}

	tr := NewTracker(NewAssembler(src, testLogger), populatedRegistry(), testLogger)
	defer tr.Close()

	tr.SetQuery(context.Background(), domain.RedeemQuery{Account: account})
	require.Equal(t, 1, waitState(t, tr).Total)

	tr.SetQuery(context.Background(), domain.RedeemQuery{})
	st := tr.State()
	assert.Equal(t, 0, st.Total)
	assert.Empty(t, st.Data)
	assert.Equal(t, 1, src.callCount())
}
