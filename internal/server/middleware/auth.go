package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig configures the API key check.
type AuthConfig struct {
	// APIKey is the shared secret. Empty disables authentication.
	APIKey string
	// Public paths are served without a key.
	Public []string
	// QueryTokenPaths additionally accept the key as ?token=. Browsers
	// cannot set headers on a WebSocket handshake, so /ws goes here.
	QueryTokenPaths []string
}

// Auth returns middleware that requires the API key as a Bearer token or in
// the X-API-Key header.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	public := pathSet(cfg.Public)
	queryToken := pathSet(cfg.QueryTokenPaths)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.APIKey == "" || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" && queryToken[r.URL.Path] {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="syport"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
