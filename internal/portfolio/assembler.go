// Package portfolio runs the fetch-and-assemble cycle behind the past senior
// positions view: one page of redemptions is fetched from a Source, joined
// with the pool registry, and published as a single State.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/summary"
)

// Source returns one page of an account's senior redemptions.
type Source interface {
	FetchSeniorRedeems(ctx context.Context, q domain.RedeemQuery) (domain.RedeemPage, error)
}

// Result is the outcome of one Assemble call. Err is nil on success.
type Result struct {
	Query domain.RedeemQuery
	Data  []domain.PositionSummary
	Total int
	Err   error
}

// OK reports whether the fetch succeeded.
func (r Result) OK() bool { return r.Err == nil }

// State returns the published view of the result. A failed fetch collapses
// to an empty page with a zero total.
func (r Result) State() State {
	if r.Err != nil {
		return State{Query: r.Query, Data: []domain.PositionSummary{}}
	}
	data := r.Data
	if data == nil {
		data = []domain.PositionSummary{}
	}
	return State{Query: r.Query, Data: data, Total: r.Total}
}

// State is what subscribers of the positions view observe.
type State struct {
	Query   domain.RedeemQuery       `json:"query"`
	Loading bool                     `json:"loading"`
	Data    []domain.PositionSummary `json:"data"`
	Total   int                      `json:"total"`
}

// EmptyState is the state before the first fetch.
func EmptyState() State {
	return State{Data: []domain.PositionSummary{}}
}

// Assembler fetches one page and joins it with the pool registry.
type Assembler struct {
	source Source
	logger *slog.Logger
}

// NewAssembler creates an Assembler reading from source.
func NewAssembler(source Source, logger *slog.Logger) *Assembler {
	return &Assembler{
		source: source,
		logger: logger.With(slog.String("component", "portfolio_assembler")),
	}
}

// Assemble issues exactly one Source request for q and builds the page's
// summaries against pools. Failures are logged and returned on Result.Err;
// Assemble itself never fails.
func (a *Assembler) Assemble(ctx context.Context, q domain.RedeemQuery, pools map[string]domain.Pool) Result {
	q = q.Normalized()
	res := Result{Query: q}

	if q.Account == "" {
		res.Err = fmt.Errorf("portfolio: assemble: %w: empty account", domain.ErrInvalidQuery)
		return res
	}

	page, err := a.source.FetchSeniorRedeems(ctx, q)
	if err != nil {
		res.Err = fmt.Errorf("portfolio: assemble: %w", err)
		if errors.Is(err, context.Canceled) {
			a.logger.DebugContext(ctx, "senior redeems fetch canceled",
				slog.String("account", q.Account),
				slog.Int("page", q.Page),
			)
			return res
		}
		a.logger.WarnContext(ctx, "senior redeems fetch failed",
			slog.String("account", q.Account),
			slog.Int("page", q.Page),
			slog.Int("page_size", q.PageSize),
			slog.String("originator", q.Originator),
			slog.String("token", q.Token),
			slog.String("error", err.Error()),
		)
		return res
	}

	res.Data = summary.BuildPage(page.Data, pools)
	res.Total = page.Count
	return res
}
