// Package catalog defines the vector catalog contract shared by the ingestion
// worker, the query service and the storage adapters.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"prodsync/apps/backend/internal/record"
)

var (
	// ErrMissingTenant is a contract violation: every read and write is
	// tenant-scoped.
	ErrMissingTenant = errors.New("catalog: missing or invalid tenant")

	// ErrUnavailable marks a transient catalog failure.
	ErrUnavailable = errors.New("catalog unavailable")
)

// Payload keys written with every entry.
const (
	KeyID       = "id"
	KeyTenantID = "tenant_id"
	KeyTitle    = "title"
	KeyText     = "text"
	KeyUploadID = "upload_id"
)

// Distance is a similarity metric where a higher score means closer.
type Distance string

const (
	Cosine Distance = "cosine"
	Dot    Distance = "dot"
)

// Entry is one point: a vector plus the payload returned with search hits.
type Entry struct {
	PointID  string
	RecordID string
	TenantID string
	Vector   []float32
	Payload  map[string]string
}

// Hit is one search result.
type Hit struct {
	RecordID string
	Score    float32
	Payload  map[string]any
}

// Catalog is implemented by every storage adapter.
type Catalog interface {
	EnsureCollection(ctx context.Context, name string, size int, distance Distance) error
	Upsert(ctx context.Context, collection string, entries []Entry) error
	Search(ctx context.Context, collection string, vector []float32, tenantID string, limit int, threshold float32) ([]Hit, error)
	ExistsByID(ctx context.Context, collection, tenantID, recordID string) (bool, error)
	Count(ctx context.Context, collection, tenantID string) (int, error)
}

// CheckTenant returns ErrMissingTenant unless tenantID is a valid partition key.
func CheckTenant(tenantID string) error {
	if !record.ValidTenant(tenantID) {
		return fmt.Errorf("%w: %q", ErrMissingTenant, tenantID)
	}
	return nil
}

// CheckEntries validates a batch before it is written.
func CheckEntries(entries []Entry) error {
	for i, e := range entries {
		if err := CheckTenant(e.TenantID); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if e.PointID == "" || e.RecordID == "" {
			return fmt.Errorf("entry %d: point and record id are required", i)
		}
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %d: empty vector", i)
		}
	}
	return nil
}

// NewEntry builds the catalog entry for a record. The payload carries
// id, tenant_id and text plus every non-empty field.
func NewEntry(r record.Record, text string, vector []float32, uploadID string) Entry {
	payload := make(map[string]string, len(r.Fields)+4)
	for k, v := range r.Fields {
		if v != "" {
			payload[k] = v
		}
	}
	payload[KeyID] = r.ID
	payload[KeyTenantID] = r.TenantID
	payload[KeyText] = text
	if _, ok := payload[KeyTitle]; !ok {
		payload[KeyTitle] = ""
	}
	if uploadID != "" {
		payload[KeyUploadID] = uploadID
	}
	return Entry{
		PointID:  record.PointID(r.TenantID, r.ID),
		RecordID: r.ID,
		TenantID: r.TenantID,
		Vector:   vector,
		Payload:  payload,
	}
}

// FilterThreshold drops hits scoring strictly below threshold, sorts the rest
// by descending score and truncates to limit. Adapters whose backend cannot
// apply an inclusive threshold use it as a final pass.
func FilterThreshold(hits []Hit, limit int, threshold float32) []Hit {
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
