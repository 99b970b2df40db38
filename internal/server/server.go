// Package server exposes the pool orchestrator, trading and finalization
// over HTTP and streams step events over WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/server/handler"
	"github.com/alanyoungcy/ideapool/internal/server/middleware"
	"github.com/alanyoungcy/ideapool/internal/server/ws"
	"github.com/go-chi/chi/v5"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, non-admin authentication is disabled
	AdminAPIKey string // if empty, admin routes are unreachable

	// Limiter applies a per-IP request limit when set.
	Limiter        domain.RateLimiter
	RequestsPerMin int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Ideas    *handler.IdeaHandler
	Trades   *handler.TradeHandler
	Finalize *handler.FinalizeHandler
	Receipts *handler.ReceiptHandler
	Audit    *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewRouter builds the route tree. Health and the WebSocket stream are
// public; everything under /api/ideas needs the API key and the finalize
// and audit routes need the admin key.
func NewRouter(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Logging(logger))

	r.Get("/api/health", h.Health.HealthCheck)
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.APIKey, cfg.AdminAPIKey))
		r.Use(middleware.RateLimit(cfg.Limiter, cfg.RequestsPerMin, time.Minute))

		r.Route("/api/ideas/{id}", func(r chi.Router) {
			r.Get("/", h.Ideas.GetIdea)
			r.Post("/pool", h.Ideas.CreatePool)
			r.Get("/stats", h.Trades.Stats)
			r.Post("/trades", h.Trades.Trade)
			r.Get("/receipts", h.Receipts.List)
			r.Get("/receipts/{name}", h.Receipts.Get)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/finalize", h.Finalize.Finalize)
				r.Post("/finalize/sync", h.Finalize.RetrySync)
			})
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/audit", h.Audit.List)
		})
	})

	return r
}

// NewServer creates a Server serving NewRouter on cfg.Port. Write timeouts
// leave room for a full pool-creation saga.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, h, hub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
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
