package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is a dependency whose liveness is reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	pools   PoolRegistry
	pingers map[string]Pinger
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. pingers are checked on every
// request and keyed by the name reported in the response.
func NewHealthHandler(pools PoolRegistry, pingers map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{pools: pools, pingers: pingers, logger: logHandler(logger, "health")}
}

// HealthCheck reports liveness, pool registry readiness and dependency
// status. It answers 503 when a dependency is down.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.pingers))
	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":       state,
		"pools":        h.pools.Len(),
		"pools_ready":  h.pools.Len() > 0,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
