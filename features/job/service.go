package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotRetryable is returned for jobs whose payload can never succeed, such
// as bodies that were not valid JSON or carry no origin topic.
var ErrNotRetryable = errors.New("job is not retryable")

type EventPublisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	timeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, publishTimeout time.Duration) *Service {
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}
	return &Service{repo: repo, pub: pub, timeout: publishTimeout}
}

// Record dead-letters a message. It implements the worker's DLQ sink.
func (s *Service) Record(ctx context.Context, j *Job) error {
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("saving failed job: %w", err)
	}
	slog.WarnContext(ctx, "message dead-lettered", "job_id", j.ID, "topic", j.Topic, "error", j.Error, "attempts", j.Attempts)
	return nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]Job, error) {
	return s.repo.List(ctx, tenantID)
}

// Retry republishes the stored body to its original topic and removes the row
// once the broker has confirmed the publish.
func (s *Service) Retry(ctx context.Context, tenantID, id string) error {
	job, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if job.Topic == "" || len(job.Payload) == 0 || job.Payload[0] != '{' {
		return ErrNotRetryable
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.pub.Publish(pubCtx, job.Topic, job.Payload); err != nil {
		return fmt.Errorf("republishing job %s: %w", id, err)
	}

	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context, tenantID string) (int, error) {
	return s.repo.Count(ctx, tenantID)
}
