package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"prodsync/apps/backend/features/job"
	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/config"
	"prodsync/apps/backend/internal/embedding"
	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/record"
	"prodsync/apps/backend/internal/text"
)

// State is a step of record processing. Only terminal states acknowledge.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateNormalized       State = "NORMALIZED"
	StateEmbedded         State = "EMBEDDED"
	StateDedupChecked     State = "DEDUP_CHECKED"
	StateUpserted         State = "UPSERTED"
	StateSkippedDuplicate State = "SKIPPED_DUPLICATE"
	StateSkippedEmpty     State = "SKIPPED_EMPTY"
	StateDeadLettered     State = "DEAD_LETTERED"
)

const ingestHandlerName = "ingest-worker"

type IngestConfig struct {
	Collection string
	// MaxAttempts dead-letters a message on its last failing delivery.
	// Zero retries forever.
	MaxAttempts    int
	CatalogTimeout time.Duration
}

type IngestConsumer struct {
	normalizer *text.Normalizer
	embedder   embedding.Embedder
	catalog    catalog.Catalog
	dlq        DeadLetterSink
	cfg        IngestConfig
}

func NewIngestConsumer(n *text.Normalizer, e embedding.Embedder, c catalog.Catalog, dlq DeadLetterSink, cfg IngestConfig) *IngestConsumer {
	if n == nil {
		n = text.NewNormalizer(text.DefaultFields, "")
	}
	return &IngestConsumer{normalizer: n, embedder: e, catalog: c, dlq: dlq, cfg: cfg}
}

// HandleMessage processes a first delivery.
func (h *IngestConsumer) HandleMessage(ctx context.Context, body []byte) error {
	return h.Handle(ctx, body, 1)
}

// Handle is the queue handler. nil acknowledges; an error leaves the message
// for redelivery.
func (h *IngestConsumer) Handle(ctx context.Context, body []byte, attempt int) error {
	msg, err := record.Decode(body)
	if err != nil {
		slog.ErrorContext(ctx, "poison record message", "error", err, "attempt", attempt)
		return h.deadLetter(ctx, peekTenant(body), body, err, attempt)
	}

	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx = middleware.WithCorrelationID(ctx, correlationID)
	ctx = middleware.WithTenantID(ctx, msg.TenantID)

	state, err := h.process(ctx, msg)
	if err != nil {
		if h.cfg.MaxAttempts > 0 && attempt >= h.cfg.MaxAttempts {
			slog.ErrorContext(ctx, "record attempts exhausted", "record_id", msg.ID, "state", state, "attempt", attempt, "error", err)
			return h.deadLetter(ctx, msg.TenantID, body, err, attempt)
		}
		slog.WarnContext(ctx, "record processing failed, will retry", "record_id", msg.ID, "state", state, "attempt", attempt, "error", err)
		return err
	}

	slog.InfoContext(ctx, "record processed", "record_id", msg.ID, "state", state)
	return nil
}

// process runs the record through the pipeline. On error the returned state
// is the last one reached.
func (h *IngestConsumer) process(ctx context.Context, msg record.Message) (State, error) {
	r := msg.Record()

	doc := h.normalizer.Normalize(r.Fields)
	if doc == "" {
		return StateSkippedEmpty, nil
	}

	vec, err := h.embedder.Embed(ctx, doc)
	if err != nil {
		return StateNormalized, fmt.Errorf("embedding record %s: %w", r.ID, err)
	}

	exists, err := h.exists(ctx, r)
	if err != nil {
		return StateEmbedded, fmt.Errorf("dedup check for %s: %w", r.ID, err)
	}
	if exists {
		return StateSkippedDuplicate, nil
	}

	if err := h.upsert(ctx, catalog.NewEntry(r, doc, vec, msg.UploadID)); err != nil {
		return StateDedupChecked, fmt.Errorf("upserting %s: %w", r.ID, err)
	}
	return StateUpserted, nil
}

func (h *IngestConsumer) catalogContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.CatalogTimeout > 0 {
		return context.WithTimeout(ctx, h.cfg.CatalogTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *IngestConsumer) exists(ctx context.Context, r record.Record) (bool, error) {
	ctx, cancel := h.catalogContext(ctx)
	defer cancel()
	return h.catalog.ExistsByID(ctx, h.cfg.Collection, r.TenantID, r.ID)
}

func (h *IngestConsumer) upsert(ctx context.Context, e catalog.Entry) error {
	ctx, cancel := h.catalogContext(ctx)
	defer cancel()
	return h.catalog.Upsert(ctx, h.cfg.Collection, []catalog.Entry{e})
}

// deadLetter acknowledges only once the DLQ write succeeded.
func (h *IngestConsumer) deadLetter(ctx context.Context, tenantID string, body []byte, cause error, attempt int) error {
	j := &job.Job{
		TenantID: tenantID,
		Topic:    config.TopicIngestRecord,
		Handler:  ingestHandlerName,
		Payload:  body,
		Error:    cause.Error(),
		Attempts: attempt,
	}
	if err := h.dlq.Record(ctx, j); err != nil {
		return errors.Join(fmt.Errorf("dead-lettering message: %w", err), cause)
	}
	return nil
}
