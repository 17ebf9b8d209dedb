package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/registry"
)

// PoolRegistry is the read side of the pool registry used by handlers.
type PoolRegistry interface {
	Snapshot() map[string]domain.Pool
	Len() int
	List() []domain.Pool
	Filters() registry.Filters
}

// PoolHandler serves pool listings.
type PoolHandler struct {
	pools  PoolRegistry
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolRegistry, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logHandler(logger, "pools")}
}

// ListPools returns every known pool with its display metadata.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := h.pools.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  pools,
		"count": len(pools),
	})
}

// Filters returns the originator and token values accepted by the
// redemption endpoints.
// GET /api/pools/filters
func (h *PoolHandler) Filters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pools.Filters())
}
