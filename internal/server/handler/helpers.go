package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/syport/internal/domain"
)

// maxPageSize caps the limit query parameter.
const maxPageSize = 100

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseRedeemQuery reads the account path parameter and the page, limit,
// originator and token query parameters. Defaults: page=1, limit=pageSize
// (or 10 when pageSize is not positive, max 100), filters "all".
func parseRedeemQuery(r *http.Request, pageSize int) (domain.RedeemQuery, error) {
	account, err := domain.NormalizeAddress(pathParam(r, "account"))
	if err != nil {
		return domain.RedeemQuery{}, err
	}

	v := r.URL.Query()
	q := domain.RedeemQuery{
		Account:    account,
		Originator: strings.TrimSpace(v.Get("originator")),
		Token:      strings.TrimSpace(v.Get("token")),
		PageSize:   min(pageSize, maxPageSize),
	}

	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return domain.RedeemQuery{}, fmt.Errorf("%w: page %q", domain.ErrInvalidQuery, s)
		}
		q.Page = n
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return domain.RedeemQuery{}, fmt.Errorf("%w: limit %q", domain.ErrInvalidQuery, s)
		}
		q.PageSize = min(n, maxPageSize)
	}

	return q.Normalized(), nil
}

// pathParam extracts a named path parameter using Go 1.22+ routing.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
