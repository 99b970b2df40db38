package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/ledger"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

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
	writeJSON(w, status, errorBody{Error: msg})
}

// errorBody is the JSON shape of every error response. Signature and the
// saga fields are set when the failure happened after a ledger write, so
// the caller can look the transaction up instead of retrying blindly.
type errorBody struct {
	Error       string              `json:"error"`
	Kind        string              `json:"kind,omitempty"`
	Signature   string              `json:"signature,omitempty"`
	ExplorerURL string              `json:"explorerUrl,omitempty"`
	FailedStep  string              `json:"failedStep,omitempty"`
	Completed   []domain.StepResult `json:"completed,omitempty"`
}

// writeServiceError maps a service error onto a status code and a body
// carrying whatever on-chain evidence the error holds.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status, kind := classify(err)
	body := errorBody{Error: err.Error(), Kind: kind}

	var sagaErr *domain.SagaError
	if errors.As(err, &sagaErr) {
		body.FailedStep = string(sagaErr.Step)
		body.Completed = sagaErr.Completed
	}
	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		body.Signature = syncErr.Signature
	}
	var txErr *ledger.TxError
	if errors.As(err, &txErr) && txErr.HasSignature() {
		body.Signature = txErr.Signature.String()
		body.ExplorerURL = txErr.ExplorerURL
	}

	if status >= http.StatusInternalServerError {
		logger.WarnContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", kind),
			slog.String("signature", body.Signature),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, body)
}

// classify returns the HTTP status and a stable error kind for err. Sync
// failures are checked first because a SyncError also wraps the store's
// rejection.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSyncFailed):
		return http.StatusServiceUnavailable, "sync_failed"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict, "in_progress"
	case errors.Is(err, domain.ErrPoolAlreadyActive):
		return http.StatusConflict, "pool_active"
	case errors.Is(err, domain.ErrAlreadyFinalized):
		return http.StatusConflict, "finalized"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrWalletNotConnected):
		return http.StatusServiceUnavailable, "signing_unavailable"
	case domain.IsPrecondition(err):
		return http.StatusBadRequest, "precondition"
	case errors.Is(err, domain.ErrTradeUnconfirmed), domain.IsIndeterminate(err):
		return http.StatusGatewayTimeout, "unconfirmed"
	case errors.Is(err, domain.ErrExecutionReverted):
		return http.StatusUnprocessableEntity, "reverted"
	case errors.Is(err, domain.ErrSubmissionFailed):
		return http.StatusBadGateway, "submission_failed"
	case errors.Is(err, domain.ErrStoreRejected):
		return http.StatusBadGateway, "store_rejected"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts pagination and filter parameters from the query
// string. Defaults: limit=50 (max 500), offset=0. since/until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
		Event:  strings.TrimSpace(q.Get("event")),
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%s: %w", name, err)
		}
		*dst = &t
	}
	return opts, nil
}

// pathParam extracts a named chi path parameter.
func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("handler", handler))
}
