package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"prodsync/apps/backend/features/job"
	"prodsync/apps/backend/internal/config"
	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/record"
	"prodsync/apps/backend/internal/splitter"
)

const fileHandlerName = "file-worker"

// interruptGrace bounds the bookkeeping done after the handler's context was
// cancelled mid-file.
const interruptGrace = 5 * time.Second

// ErrInterrupted marks a file that stopped mid-stream after some rows were
// already published.
var ErrInterrupted = errors.New("file split interrupted")

type FileConfig struct {
	IDPolicy       string
	FailurePolicy  string
	PublishTimeout time.Duration
	MaxAttempts    int
}

// FileConsumer fans a file task out into one records-to-index message per
// row. It never retries a publish itself.
type FileConsumer struct {
	pub     Publisher
	uploads UploadTracker
	dlq     DeadLetterSink
	opener  SourceOpener
	cfg     FileConfig
}

func NewFileConsumer(pub Publisher, uploads UploadTracker, dlq DeadLetterSink, opener SourceOpener, cfg FileConfig) *FileConsumer {
	if opener == nil {
		opener = LocationOpener{}
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = config.PublishContinue
	}
	return &FileConsumer{pub: pub, uploads: uploads, dlq: dlq, opener: opener, cfg: cfg}
}

// SplitResult summarizes one pass over a file.
type SplitResult struct {
	Published int
	Failed    int
	// Aborted is set when the abort policy stopped the file.
	Aborted error
}

func (h *FileConsumer) Handle(ctx context.Context, body []byte, attempt int) error {
	task, err := record.DecodeFileTask(body)
	if err != nil {
		slog.ErrorContext(ctx, "poison file task", "error", err)
		return h.deadLetter(ctx, peekTenant(body), body, err, attempt)
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx = middleware.WithCorrelationID(ctx, correlationID)
	ctx = middleware.WithTenantID(ctx, task.TenantID)

	src, err := h.opener.Open(ctx, task.FilePath)
	if err != nil {
		if errors.Is(err, ErrSourceNotFound) || (h.cfg.MaxAttempts > 0 && attempt >= h.cfg.MaxAttempts) {
			h.finish(ctx, task, SplitResult{}, err)
			return h.deadLetter(ctx, task.TenantID, body, err, attempt)
		}
		slog.WarnContext(ctx, "opening source failed, will retry", "path", task.FilePath, "attempt", attempt, "error", err)
		return err
	}
	defer src.Close()

	h.markSplitting(ctx, task)

	res, err := h.split(ctx, task, src, correlationID)
	if err != nil {
		if ctx.Err() != nil {
			if res.Published == 0 {
				// Nothing left the worker yet, so redelivery is safe.
				return err
			}
			// Redelivery would publish the same rows again under new ids.
			cause := fmt.Errorf("%w after %d rows: %v", ErrInterrupted, res.Published, err)
			slog.WarnContext(ctx, "file split interrupted", "upload_id", task.UploadID, "published", res.Published)
			bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptGrace)
			defer cancel()
			h.finish(bctx, task, res, cause)
			return h.deadLetter(bctx, task.TenantID, body, cause, attempt)
		}
		// The source is not restartable: rows already published would be
		// published again, so the task is dead-lettered instead.
		h.finish(ctx, task, res, err)
		return h.deadLetter(ctx, task.TenantID, body, err, attempt)
	}
	if res.Aborted != nil {
		h.finish(ctx, task, res, res.Aborted)
		return h.deadLetter(ctx, task.TenantID, body, res.Aborted, attempt)
	}

	h.finish(ctx, task, res, nil)
	slog.InfoContext(ctx, "file split", "upload_id", task.UploadID, "published", res.Published, "failed", res.Failed)
	return nil
}

// split returns an error only for file-level failures.
func (h *FileConsumer) split(ctx context.Context, task record.FileTask, src io.Reader, correlationID string) (SplitResult, error) {
	var res SplitResult
	for rec, err := range splitter.Split(ctx, src, task.TenantID, splitter.Options{IDPolicy: h.cfg.IDPolicy}) {
		if err != nil {
			var rowErr *splitter.RowError
			if errors.As(err, &rowErr) {
				res.Failed++
				slog.WarnContext(ctx, "skipping malformed row", "upload_id", task.UploadID, "line", rowErr.Line, "error", rowErr.Err)
				continue
			}
			return res, err
		}

		if err := h.publish(ctx, rec, task, correlationID); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			slog.ErrorContext(ctx, "record publish failed", "upload_id", task.UploadID, "record_id", rec.ID, "error", err)
			if h.cfg.FailurePolicy == config.PublishAbort {
				res.Aborted = err
				return res, nil
			}
			continue
		}
		res.Published++
	}
	return res, nil
}

func (h *FileConsumer) publish(ctx context.Context, rec record.Record, task record.FileTask, correlationID string) error {
	body, err := json.Marshal(record.Message{
		ID:            rec.ID,
		TenantID:      rec.TenantID,
		Fields:        rec.Fields,
		UploadID:      task.UploadID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", splitter.ErrPublishFailed, rec.ID, err)
	}

	if h.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.PublishTimeout)
		defer cancel()
	}
	if err := h.pub.Publish(ctx, config.TopicIngestRecord, body); err != nil {
		return fmt.Errorf("%w: record %s: %v", splitter.ErrPublishFailed, rec.ID, err)
	}
	return nil
}

func (h *FileConsumer) markSplitting(ctx context.Context, task record.FileTask) {
	if task.UploadID == "" || h.uploads == nil {
		return
	}
	if err := h.uploads.MarkSplitting(ctx, task.UploadID); err != nil {
		slog.WarnContext(ctx, "failed to update upload status", "upload_id", task.UploadID, "error", err)
	}
}

func (h *FileConsumer) finish(ctx context.Context, task record.FileTask, res SplitResult, cause error) {
	if task.UploadID == "" || h.uploads == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := h.uploads.Finish(ctx, task.UploadID, res.Published, res.Failed, msg); err != nil {
		slog.WarnContext(ctx, "failed to record upload result", "upload_id", task.UploadID, "error", err)
	}
}

func (h *FileConsumer) deadLetter(ctx context.Context, tenantID string, body []byte, cause error, attempt int) error {
	j := &job.Job{
		TenantID: tenantID,
		Topic:    config.TopicIngestFile,
		Handler:  fileHandlerName,
		Payload:  body,
		Error:    cause.Error(),
		Attempts: attempt,
	}
	if err := h.dlq.Record(ctx, j); err != nil {
		return errors.Join(fmt.Errorf("dead-lettering file task: %w", err), cause)
	}
	return nil
}
