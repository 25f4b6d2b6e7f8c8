package upload

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"prodsync/apps/backend/internal/config"
	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/record"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	dir            string
	publishTimeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, uploadDir string, publishTimeout time.Duration) *Service {
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}
	return &Service{repo: repo, pub: pub, dir: uploadDir, publishTimeout: publishTimeout}
}

// Store writes src under the tenant's upload directory and returns the path
// and the sha256 of the content.
func (s *Service) Store(tenantID, filename string, src io.Reader) (string, string, error) {
	dir := filepath.Join(s.dir, tenantID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", fmt.Errorf("creating upload directory: %w", err)
	}

	path := filepath.Clean(filepath.Join(dir, fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(filename))))
	dst, err := os.Create(path) // #nosec G304 -- path is UUID + basename under the configured directory
	if err != nil {
		return "", "", fmt.Errorf("creating upload file: %w", err)
	}
	defer dst.Close()

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, hash), src); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("writing upload file: %w", err)
	}
	return path, fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// Register records a stored file and queues it for splitting. The upload is
// marked failed when the broker does not confirm the file task.
func (s *Service) Register(ctx context.Context, tenantID, filename, path, hash string) (*Upload, error) {
	u := &Upload{
		TenantID:    tenantID,
		Filename:    filepath.Base(filename),
		FilePath:    path,
		ContentHash: hash,
		Status:      StatusQueued,
	}
	if err := s.repo.Save(ctx, u); err != nil {
		return nil, err
	}

	task := record.FileTask{
		FilePath:      path,
		TenantID:      tenantID,
		UploadID:      u.ID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.pub.Publish(pubCtx, config.TopicIngestFile, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish file task", "upload_id", u.ID, "error", err)
		if uerr := s.repo.UpdateStatus(ctx, u.ID, StatusFailed, err.Error()); uerr != nil {
			slog.WarnContext(ctx, "failed to mark upload failed", "upload_id", u.ID, "error", uerr)
		}
		return nil, fmt.Errorf("queueing upload %s: %w", u.ID, err)
	}

	slog.InfoContext(ctx, "upload queued", "upload_id", u.ID, "path", path)
	return u, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (*Upload, error) {
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string) ([]Upload, error) {
	return s.repo.List(ctx, tenantID)
}

func (s *Service) Count(ctx context.Context, tenantID string) (int, error) {
	return s.repo.Count(ctx, tenantID)
}

// MarkSplitting and Finish report progress from the file worker.
func (s *Service) MarkSplitting(ctx context.Context, id string) error {
	return s.repo.UpdateStatus(ctx, id, StatusSplitting, "")
}

func (s *Service) Finish(ctx context.Context, id string, published, failed int, errMsg string) error {
	status := StatusCompleted
	switch {
	case errMsg != "":
		status = StatusFailed
	case failed > 0:
		status = StatusCompletedWithErrors
	}
	return s.repo.Finish(ctx, id, status, published, failed, errMsg)
}
