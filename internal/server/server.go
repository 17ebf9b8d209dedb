// Package server is the HTTP and WebSocket front of the portfolio service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/server/handler"
	"github.com/alanyoungcy/syport/internal/server/middleware"
	"github.com/alanyoungcy/syport/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per window and client; 0 disables
	RateLimitWindow time.Duration
	// TrustedProxies are the networks whose X-Forwarded-For is believed
	// when attributing requests to clients.
	TrustedProxies []netip.Prefix
}

// Handlers aggregates the HTTP handlers the server registers. Exports and
// Hub may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Pools   *handler.PoolHandler
	Redeems *handler.RedeemHandler
	Exports *handler.ExportHandler
	Indexer *handler.IndexerHandler
	Hub     *ws.Hub
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, limiter, logger),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with its middleware chain.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/filters", handlers.Pools.Filters)

	mux.HandleFunc("GET /api/portfolio/{account}/senior/redeems", handlers.Redeems.ListSeniorRedeems)

	if handlers.Exports != nil {
		mux.HandleFunc("POST /api/portfolio/{account}/senior/redeems/export", handlers.Exports.CreateExport)
		mux.HandleFunc("GET /api/portfolio/{account}/senior/redeems/exports", handlers.Exports.ListExports)
		mux.HandleFunc("GET /api/portfolio/{account}/senior/redeems/exports/{id}", handlers.Exports.GetExport)
	}

	if handlers.Indexer != nil {
		mux.HandleFunc("POST /api/indexer/trigger", handlers.Indexer.Trigger)
	}

	if handlers.Hub != nil {
		mux.HandleFunc("GET /ws", handlers.Hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, middleware.NewClientIP(cfg.TrustedProxies), logger)(h)
	}
	h = middleware.Auth(middleware.AuthConfig{
		APIKey:          cfg.APIKey,
		Public:          []string{"/api/health"},
		QueryTokenPaths: []string{"/ws"},
	})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
