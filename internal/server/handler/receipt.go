package handler

import (
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/alanyoungcy/ideapool/internal/domain"
)

// ReceiptHandler lists and downloads archived receipts.
type ReceiptHandler struct {
	archive domain.ReceiptArchive
	logger  *slog.Logger
}

// NewReceiptHandler creates a ReceiptHandler. archive may be nil when object
// storage is disabled.
func NewReceiptHandler(archive domain.ReceiptArchive, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{archive: archive, logger: logHandler(logger, "receipt")}
}

type receiptItem struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"`
}

// List returns the receipts archived for an idea.
// GET /api/ideas/{id}/receipts
func (h *ReceiptHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusOK, []receiptItem{})
		return
	}
	infos, err := h.archive.List(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	items := make([]receiptItem, 0, len(infos))
	for _, info := range infos {
		items = append(items, receiptItem{
			Name:         path.Base(info.Path),
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Get streams one receipt.
// GET /api/ideas/{id}/receipts/{name}
func (h *ReceiptHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "receipt archive is disabled")
		return
	}
	rc, err := h.archive.Open(r.Context(), pathParam(r, "id"), pathParam(r, "name"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "stream receipt failed", slog.String("error", err.Error()))
	}
}
