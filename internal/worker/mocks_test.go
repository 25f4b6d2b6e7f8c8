package worker_test

import (
	"context"
	"hash/fnv"
	"io"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"prodsync/apps/backend/features/job"
	"prodsync/apps/backend/internal/catalog"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockCatalog struct {
	mock.Mock
	catalog.Catalog
}

func (m *MockCatalog) ExistsByID(ctx context.Context, collection, tenantID, recordID string) (bool, error) {
	args := m.Called(ctx, collection, tenantID, recordID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCatalog) Upsert(ctx context.Context, collection string, entries []catalog.Entry) error {
	return m.Called(ctx, collection, entries).Error(0)
}

type MockDLQ struct{ mock.Mock }

func (m *MockDLQ) Record(ctx context.Context, j *job.Job) error {
	return m.Called(ctx, j).Error(0)
}

// hashEmbedder gives every text a stable 4-dim vector.
type hashEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	h := fnv.New32a()
	h.Write([]byte(text))
	sum := h.Sum32()
	return []float32{
		float32(sum&0xff) + 1,
		float32((sum>>8)&0xff) + 1,
		float32((sum>>16)&0xff) + 1,
		float32((sum>>24)&0xff) + 1,
	}, nil
}

type publishedMessage struct {
	Topic string
	Body  []byte
}

// recordingPublisher fails the publishes whose index is in failAt.
type recordingPublisher struct {
	mu     sync.Mutex
	msgs   []publishedMessage
	calls  int
	failAt map[int]error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err, ok := p.failAt[p.calls]; ok {
		return err
	}
	p.msgs = append(p.msgs, publishedMessage{Topic: topic, Body: append([]byte(nil), body...)})
	return nil
}

type MockUploads struct{ mock.Mock }

func (m *MockUploads) MarkSplitting(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockUploads) Finish(ctx context.Context, id string, published, failed int, errMsg string) error {
	return m.Called(ctx, id, published, failed, errMsg).Error(0)
}

type stringOpener map[string]string

func (o stringOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	content, ok := o[location]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(strings.NewReader(content)), nil
}
