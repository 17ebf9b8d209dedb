package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// IndexerHandler serves the indexer trigger endpoint.
type IndexerHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending triggers one indexer run
}

// NewIndexerHandler creates an IndexerHandler with the given logger.
func NewIndexerHandler(logger *slog.Logger) *IndexerHandler {
	return &IndexerHandler{logger: logHandler(logger, "indexer")}
}

// WithTriggerChannel sets the channel the indexer loop receives triggers on.
func (h *IndexerHandler) WithTriggerChannel(ch chan<- struct{}) *IndexerHandler {
	h.triggerCh = ch
	return h
}

// Trigger enqueues one indexer run with a non-blocking send. It answers 503
// when this instance does not run the indexer.
// POST /api/indexer/trigger
func (h *IndexerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not running on this instance")
		return
	}

	h.logger.InfoContext(r.Context(), "indexer trigger requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// already triggered and not yet consumed
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
