package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ideapool/internal/domain"
)

// PoolCreator runs the pool-creation saga. *service.PoolService satisfies it.
type PoolCreator interface {
	CreatePool(ctx context.Context, ideaID string) (domain.PoolMapping, error)
}

// IdeaHandler serves idea lookups and pool creation.
type IdeaHandler struct {
	store  domain.IdeaStore
	pools  PoolCreator
	logger *slog.Logger
}

// NewIdeaHandler creates an IdeaHandler.
func NewIdeaHandler(store domain.IdeaStore, pools PoolCreator, logger *slog.Logger) *IdeaHandler {
	return &IdeaHandler{store: store, pools: pools, logger: logHandler(logger, "idea")}
}

// GetIdea returns one idea from the idea store.
// GET /api/ideas/{id}
func (h *IdeaHandler) GetIdea(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	idea, err := h.store.GetIdea(r.Context(), id).Unwrap()
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

// CreatePool creates (or resumes) the decision pool of an idea. The request
// runs until the mapping is persisted; progress is streamed on /ws.
// POST /api/ideas/{id}/pool
func (h *IdeaHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if h.pools == nil {
		writeError(w, http.StatusServiceUnavailable, "pool creation is disabled in this mode")
		return
	}
	mapping, err := h.pools.CreatePool(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapping)
}
