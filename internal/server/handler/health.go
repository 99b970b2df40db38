package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Check
	signer func() bool
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. signer reports whether a signing
// wallet is connected and may be nil for read-only deployments.
func NewHealthHandler(checks map[string]Check, signer func() bool, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, signer: signer, logger: logHandler(logger, "health")}
}

// HealthCheck reports the status of every registered dependency. Any failing
// check turns the response into a 503 with status "degraded".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":          status,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"signerConnected": h.signer != nil && h.signer(),
		"checks":          results,
	})
}
