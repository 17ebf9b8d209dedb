package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/portfolio"
	"github.com/alanyoungcy/syport/internal/view"
)

// RedeemHandler serves the past senior positions of an account.
type RedeemHandler struct {
	asm      *portfolio.Assembler
	pools    PoolRegistry
	explorer string
	pageSize int
	logger   *slog.Logger
}

// NewRedeemHandler creates a RedeemHandler. explorer is the block explorer
// base URL used for transaction links.
func NewRedeemHandler(asm *portfolio.Assembler, pools PoolRegistry, explorer string, logger *slog.Logger) *RedeemHandler {
	return &RedeemHandler{asm: asm, pools: pools, explorer: explorer, logger: logHandler(logger, "redeems")}
}

// WithPageSize sets the page size used when a request has no limit
// parameter.
func (h *RedeemHandler) WithPageSize(n int) *RedeemHandler {
	h.pageSize = n
	return h
}

// redeemsResponse is one page of past senior positions.
type redeemsResponse struct {
	Data     []domain.PositionSummary `json:"data"`
	Cards    []view.Card              `json:"cards"`
	Total    int                      `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"pageSize"`
}

// ListSeniorRedeems returns one page of the account's past senior positions
// with derived figures. A failed upstream fetch yields an empty page.
// GET /api/portfolio/{account}/senior/redeems
func (h *RedeemHandler) ListSeniorRedeems(w http.ResponseWriter, r *http.Request) {
	q, err := parseRedeemQuery(r, h.pageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.pools.Len() == 0 {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "pool registry not ready")
		return
	}

	state := h.asm.Assemble(r.Context(), q, h.pools.Snapshot()).State()

	writeJSON(w, http.StatusOK, redeemsResponse{
		Data:     state.Data,
		Cards:    view.NewCards(state.Data, h.explorer),
		Total:    state.Total,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
}
