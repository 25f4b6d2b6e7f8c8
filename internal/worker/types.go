// Package worker holds the queue consumers of the ingestion pipeline: the
// file consumer fans an upload out into record messages and the ingest
// consumer turns each record into at most one catalog entry.
package worker

import (
	"context"
	"encoding/json"

	"prodsync/apps/backend/features/job"
)

// DeadLetterSink stores messages that will never be processed.
type DeadLetterSink interface {
	Record(ctx context.Context, j *job.Job) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// UploadTracker receives fan-out progress for an upload.
type UploadTracker interface {
	MarkSplitting(ctx context.Context, id string) error
	Finish(ctx context.Context, id string, published, failed int, errMsg string) error
}

// peekTenant extracts tenant_id from a body that failed strict decoding, so
// the dead-lettered job is still visible to its tenant.
func peekTenant(body []byte) string {
	var head struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return ""
	}
	return head.TenantID
}
