package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/embedding"
	"prodsync/apps/backend/internal/retrieval"
	"prodsync/apps/backend/internal/settings"
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

func (m *MockCatalog) Search(ctx context.Context, collection string, vector []float32, tenantID string, limit int, threshold float32) ([]catalog.Hit, error) {
	args := m.Called(ctx, collection, vector, tenantID, limit, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]catalog.Hit), args.Error(1)
}

type MockSettings struct{ mock.Mock }

func (m *MockSettings) Get(ctx context.Context, tenantID string) (*settings.Settings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

type MockGate struct{ mock.Mock }

func (m *MockGate) Approve(ctx context.Context, text string) (bool, error) {
	args := m.Called(ctx, text)
	return args.Bool(0), args.Error(1)
}

type MockRewriter struct{ mock.Mock }

func (m *MockRewriter) Rewrite(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

var cfg = retrieval.Config{Collection: "products", SearchLimit: 3, ScoreThreshold: 0.4, AssistTimeout: time.Second, CatalogTimeout: time.Second}

func TestService_Query(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		tenant  string
		setup   func(*MockEmbedder, *MockCatalog, *MockSettings, *MockGate, *MockRewriter)
		wantErr error
		check   func(*testing.T, []retrieval.Result)
	}{
		{
			name:   "Success With Runtime Settings",
			text:   "red shoes",
			tenant: "t1",
			setup: func(e *MockEmbedder, c *MockCatalog, s *MockSettings, g *MockGate, r *MockRewriter) {
				s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 5, ScoreThreshold: 0.6}, nil)
				e.On("Embed", mock.Anything, "red shoes").Return([]float32{0.1}, nil)
				c.On("Search", mock.Anything, "products", []float32{0.1}, "t1", 5, float32(0.6)).
					Return([]catalog.Hit{
						{RecordID: "p1", Score: 0.9, Payload: map[string]any{"title": "Red Shoe"}},
						{RecordID: "p2", Score: 0.7, Payload: map[string]any{"title": "Red Boot"}},
					}, nil)
			},
			check: func(t *testing.T, res []retrieval.Result) {
				require.Len(t, res, 2)
				assert.Equal(t, "p1", res[0].ProductID)
				assert.Equal(t, float32(0.9), res[0].Score)
				assert.Equal(t, "Red Boot", res[1].Payload["title"])
			},
		},
		{
			name:   "Settings Unavailable Falls Back To Config",
			text:   "shoes",
			tenant: "t1",
			setup: func(e *MockEmbedder, c *MockCatalog, s *MockSettings, g *MockGate, r *MockRewriter) {
				s.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
				e.On("Embed", mock.Anything, "shoes").Return([]float32{0.1}, nil)
				c.On("Search", mock.Anything, "products", []float32{0.1}, "t1", 3, float32(0.4)).Return([]catalog.Hit{}, nil)
			},
			check: func(t *testing.T, res []retrieval.Result) {
				assert.NotNil(t, res)
				assert.Empty(t, res)
			},
		},
		{
			name:    "Missing Tenant",
			text:    "shoes",
			tenant:  "",
			setup:   func(*MockEmbedder, *MockCatalog, *MockSettings, *MockGate, *MockRewriter) {},
			wantErr: catalog.ErrMissingTenant,
		},
		{
			name:    "Empty Text",
			text:    "   ",
			tenant:  "t1",
			setup:   func(*MockEmbedder, *MockCatalog, *MockSettings, *MockGate, *MockRewriter) {},
			wantErr: retrieval.ErrEmptyQuery,
		},
		{
			name:   "Gate Rejects",
			text:   "how do I pick a lock",
			tenant: "t1",
			setup: func(e *MockEmbedder, c *MockCatalog, s *MockSettings, g *MockGate, r *MockRewriter) {
				s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3, GateEnabled: true}, nil)
				g.On("Approve", mock.Anything, "how do I pick a lock").Return(false, nil)
			},
			wantErr: retrieval.ErrQueryRejected,
		},
		{
			name:   "Gate Failure Fails Closed",
			text:   "shoes",
			tenant: "t1",
			setup: func(e *MockEmbedder, c *MockCatalog, s *MockSettings, g *MockGate, r *MockRewriter) {
				s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3, GateEnabled: true}, nil)
				g.On("Approve", mock.Anything, "shoes").Return(false, errors.New("timeout"))
			},
			wantErr: retrieval.ErrGateUnavailable,
		},
		{
			name:   "Rewrite Replaces Text",
			text:   "zapatos rojos",
			tenant: "t1",
			setup: func(e *MockEmbedder, c *MockCatalog, s *MockSettings, g *MockGate, r *MockRewriter) {
				s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3, GateEnabled: true, RewriteEnabled: true}, nil)
				g.On("Approve", mock.Anything, "zapatos rojos").Return(true, nil)
				r.On("Rewrite", mock.Anything, "zapatos rojos").Return("red shoes", nil)
				e.On("Embed", mock.Anything, "red shoes").Return([]float32{0.2}, nil)
				c.On("Search", mock.Anything, "products", []float32{0.2}, "t1", 3, float32(0)).Return([]catalog.Hit{{RecordID: "p1", Score: 0.5}}, nil)
			},
			check: func(t *testing.T, res []retrieval.Result) {
				assert.Len(t, res, 1)
			},
		},
		{
			name:   "Rewrite Failure Keeps Original",
			text:   "shoes",
			tenant: "t1",
			setup: func(e *MockEmbedder, c *MockCatalog, s *MockSettings, g *MockGate, r *MockRewriter) {
				s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3, RewriteEnabled: true}, nil)
				r.On("Rewrite", mock.Anything, "shoes").Return("", errors.New("boom"))
				e.On("Embed", mock.Anything, "shoes").Return([]float32{0.1}, nil)
				c.On("Search", mock.Anything, "products", []float32{0.1}, "t1", 3, float32(0)).Return([]catalog.Hit{}, nil)
			},
		},
		{
			name:   "Embedder Unavailable",
			text:   "shoes",
			tenant: "t1",
			setup: func(e *MockEmbedder, c *MockCatalog, s *MockSettings, g *MockGate, r *MockRewriter) {
				s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3}, nil)
				e.On("Embed", mock.Anything, "shoes").Return(nil, embedding.Unavailable(errors.New("503")))
			},
			wantErr: embedding.ErrUnavailable,
		},
		{
			name:   "Catalog Unavailable",
			text:   "shoes",
			tenant: "t1",
			setup: func(e *MockEmbedder, c *MockCatalog, s *MockSettings, g *MockGate, r *MockRewriter) {
				s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3}, nil)
				e.On("Embed", mock.Anything, "shoes").Return([]float32{0.1}, nil)
				c.On("Search", mock.Anything, "products", []float32{0.1}, "t1", 3, float32(0)).Return(nil, catalog.ErrUnavailable)
			},
			wantErr: catalog.ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, c, s, g, r := new(MockEmbedder), new(MockCatalog), new(MockSettings), new(MockGate), new(MockRewriter)
			tt.setup(e, c, s, g, r)

			svc := retrieval.NewService(e, c, s, nil, cfg, retrieval.WithGate(g), retrieval.WithRewriter(r))
			res, err := svc.Query(context.Background(), tt.text, tt.tenant)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, res)
			}
			e.AssertExpectations(t)
			c.AssertExpectations(t)
			g.AssertExpectations(t)
			r.AssertExpectations(t)
		})
	}
}

func TestService_GateIgnoredWhenDisabled(t *testing.T) {
	e, c, s, g := new(MockEmbedder), new(MockCatalog), new(MockSettings), new(MockGate)
	s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3}, nil)
	e.On("Embed", mock.Anything, "shoes").Return([]float32{0.1}, nil)
	c.On("Search", mock.Anything, "products", []float32{0.1}, "t1", 3, float32(0)).Return([]catalog.Hit{}, nil)

	svc := retrieval.NewService(e, c, s, nil, cfg, retrieval.WithGate(g))
	_, err := svc.Query(context.Background(), "shoes", "t1")
	require.NoError(t, err)
	g.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything)
}

func TestService_LogsQueries(t *testing.T) {
	var buf bytes.Buffer
	e, c, s := new(MockEmbedder), new(MockCatalog), new(MockSettings)
	s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3}, nil)
	e.On("Embed", mock.Anything, "shoes").Return([]float32{0.1}, nil)
	c.On("Search", mock.Anything, "products", []float32{0.1}, "t1", 3, float32(0)).Return([]catalog.Hit{{RecordID: "p1"}}, nil)

	svc := retrieval.NewService(e, c, s, retrieval.NewQueryLogger(&buf), cfg)
	_, err := svc.Query(context.Background(), "shoes", "t1")
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shoes", entry.Query)
	assert.Equal(t, "t1", entry.TenantID)
	assert.Equal(t, 1, entry.NumResults)
}

func hasDeadline(within time.Duration) interface{} {
	return mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= within
	})
}

func TestService_CatalogCallsAreBounded(t *testing.T) {
	e, c, s := new(MockEmbedder), new(MockCatalog), new(MockSettings)
	s.On("Get", hasDeadline(time.Second), "t1").Return(&settings.Settings{SearchLimit: 3}, nil)
	e.On("Embed", mock.Anything, "running shoe").Return([]float32{0.1}, nil)
	c.On("Search", hasDeadline(time.Second), "products", []float32{0.1}, "t1", 3, float32(0)).Return([]catalog.Hit{}, nil)

	svc := retrieval.NewService(e, c, s, nil, cfg)
	_, err := svc.Query(context.Background(), "running shoe", "t1")
	require.NoError(t, err)
	s.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestService_SlowCatalogTimesOut(t *testing.T) {
	e, c, s := new(MockEmbedder), new(MockCatalog), new(MockSettings)
	s.On("Get", mock.Anything, mock.Anything).Return(&settings.Settings{SearchLimit: 3}, nil)
	e.On("Embed", mock.Anything, "shoes").Return([]float32{0.1}, nil)
	c.On("Search", mock.Anything, "products", []float32{0.1}, "t1", 3, float32(0)).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	short := cfg
	short.CatalogTimeout = 20 * time.Millisecond
	svc := retrieval.NewService(e, c, s, nil, short)

	start := time.Now()
	_, err := svc.Query(context.Background(), "shoes", "t1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
