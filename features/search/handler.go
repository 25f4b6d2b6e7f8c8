// Package search exposes tenant-scoped similarity queries over HTTP.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/embedding"
	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/retrieval"
)

type Querier interface {
	Query(ctx context.Context, text, tenantID string) ([]retrieval.Result, error)
}

type Handler struct {
	querier Querier
}

func NewHandler(q Querier) *Handler {
	return &Handler{querier: q}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query().Get("q")

	slog.InfoContext(ctx, "search requested", "query_length", len(query))

	results, err := h.querier.Query(ctx, query, middleware.GetTenantID(ctx))
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "search failed", "error", err)
		} else {
			slog.WarnContext(ctx, "search refused", "error", err)
		}
		h.writeError(ctx, w, code, err.Error(), status)
		return
	}

	if results == nil {
		results = []retrieval.Result{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, retrieval.ErrQueryRejected):
		return http.StatusUnprocessableEntity, "QUERY_REJECTED"
	case errors.Is(err, catalog.ErrMissingTenant):
		return http.StatusBadRequest, "MISSING_TENANT"
	case errors.Is(err, retrieval.ErrEmptyQuery):
		return http.StatusBadRequest, "EMPTY_QUERY"
	case errors.Is(err, retrieval.ErrGateUnavailable),
		errors.Is(err, embedding.ErrUnavailable),
		errors.Is(err, catalog.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
