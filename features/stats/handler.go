package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/record"
)

type UploadCounter interface {
	Count(ctx context.Context, tenantID string) (int, error)
}

type JobCounter interface {
	Count(ctx context.Context, tenantID string) (int, error)
}

// EntryCounter counts a tenant's catalog entries.
type EntryCounter interface {
	Count(ctx context.Context, collection, tenantID string) (int, error)
}

type Handler struct {
	uploads    UploadCounter
	jobs       JobCounter
	catalog    EntryCounter
	collection string
}

func NewHandler(u UploadCounter, j JobCounter, c EntryCounter, collection string) *Handler {
	return &Handler{uploads: u, jobs: j, catalog: c, collection: collection}
}

type StatsResponse struct {
	Uploads    int `json:"uploads"`
	Entries    int `json:"entries"`
	FailedJobs int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	if !record.ValidTenant(tenantID) {
		h.writeError(ctx, w, "MISSING_TENANT", "X-Tenant-ID header is required", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "getting stats")

	uCount, err := h.uploads.Count(ctx, tenantID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count uploads", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count uploads", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobs.Count(ctx, tenantID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	eCount, err := h.catalog.Count(ctx, h.collection, tenantID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count catalog entries", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count catalog entries", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Uploads:    uCount,
		Entries:    eCount,
		FailedJobs: jCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
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
