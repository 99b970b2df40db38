package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/service"
)

// Finalizer closes proposals. *service.FinalizeService satisfies it.
type Finalizer interface {
	Finalize(ctx context.Context, ideaID string, decision domain.Decision) (service.FinalizeResult, error)
	RetrySync(ctx context.Context, ideaID string, decision domain.Decision, signature string) (service.FinalizeResult, error)
}

// FinalizeHandler serves the admin finalization endpoints.
type FinalizeHandler struct {
	finalizer Finalizer
	logger    *slog.Logger
}

// NewFinalizeHandler creates a FinalizeHandler.
func NewFinalizeHandler(finalizer Finalizer, logger *slog.Logger) *FinalizeHandler {
	return &FinalizeHandler{finalizer: finalizer, logger: logHandler(logger, "finalize")}
}

type finalizeBody struct {
	Decision  string `json:"decision"`
	Signature string `json:"signature,omitempty"`
}

// Finalize finalizes the idea's proposal and records the decision.
// POST /api/ideas/{id}/finalize
func (h *FinalizeHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var body finalizeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.finalizer.Finalize(r.Context(), pathParam(r, "id"), domain.Decision(body.Decision))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RetrySync records an already confirmed finalization in the idea store.
// POST /api/ideas/{id}/finalize/sync
func (h *FinalizeHandler) RetrySync(w http.ResponseWriter, r *http.Request) {
	var body finalizeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}
	res, err := h.finalizer.RetrySync(r.Context(), pathParam(r, "id"), domain.Decision(body.Decision), body.Signature)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
