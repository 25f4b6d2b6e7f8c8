// Package retrieval answers free-text queries against one tenant's slice of
// the catalog.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"prodsync/apps/backend/internal/catalog"
	"prodsync/apps/backend/internal/embedding"
	"prodsync/apps/backend/internal/middleware"
	"prodsync/apps/backend/internal/settings"
)

var (
	ErrEmptyQuery    = errors.New("query text is empty")
	ErrQueryRejected = errors.New("query rejected")
	// ErrGateUnavailable is transient. The query is not run unchecked.
	ErrGateUnavailable = errors.New("query gate unavailable")
)

type Result struct {
	ProductID string         `json:"product_id"`
	Score     float32        `json:"score"`
	Payload   map[string]any `json:"payload"`
}

// Gate decides whether a query may be answered at all.
type Gate interface {
	Approve(ctx context.Context, text string) (bool, error)
}

// Rewriter normalizes query text before embedding.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// SettingsProvider resolves one tenant's query tuning.
type SettingsProvider interface {
	Get(ctx context.Context, tenantID string) (*settings.Settings, error)
}

type Config struct {
	Collection     string
	SearchLimit    int
	ScoreThreshold float32
	// AssistTimeout bounds gate and rewrite calls.
	AssistTimeout time.Duration
	// CatalogTimeout bounds the search and the settings lookup.
	CatalogTimeout time.Duration
}

type Option func(*Service)

func WithGate(g Gate) Option {
	return func(s *Service) { s.gate = g }
}

func WithRewriter(r Rewriter) Option {
	return func(s *Service) { s.rewriter = r }
}

type Service struct {
	embedder embedding.Embedder
	catalog  catalog.Catalog
	settings SettingsProvider
	logger   *QueryLogger
	cfg      Config
	gate     Gate
	rewriter Rewriter
}

func NewService(e embedding.Embedder, c catalog.Catalog, set SettingsProvider, l *QueryLogger, cfg Config, opts ...Option) *Service {
	s := &Service{embedder: e, catalog: c, settings: set, logger: l, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tuning resolves the runtime settings, falling back to configuration when
// the settings store cannot be read.
func (s *Service) tuning(ctx context.Context, tenantID string) settings.Settings {
	fallback := settings.Settings{SearchLimit: s.cfg.SearchLimit, ScoreThreshold: s.cfg.ScoreThreshold}
	if s.settings == nil {
		return fallback
	}
	ctx, cancel := withTimeout(ctx, s.cfg.CatalogTimeout)
	defer cancel()
	set, err := s.settings.Get(ctx, tenantID)
	if err != nil || set == nil {
		slog.WarnContext(ctx, "settings unavailable, using configured defaults", "error", err)
		return fallback
	}
	if set.SearchLimit <= 0 {
		set.SearchLimit = fallback.SearchLimit
	}
	return *set
}

func (s *Service) Query(ctx context.Context, text, tenantID string) ([]Result, error) {
	start := time.Now()
	var results []Result
	var err error

	defer func() {
		if s.logger != nil && err == nil {
			s.logger.Log(QueryLogEntry{
				Query:         text,
				TenantID:      tenantID,
				NumResults:    len(results),
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			})
		}
	}()

	if err = catalog.CheckTenant(tenantID); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		err = ErrEmptyQuery
		return nil, err
	}

	tune := s.tuning(ctx, tenantID)

	if tune.GateEnabled && s.gate != nil {
		var ok bool
		ok, err = s.approve(ctx, text)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrGateUnavailable, err)
			return nil, err
		}
		if !ok {
			slog.InfoContext(ctx, "query rejected by gate")
			err = ErrQueryRejected
			return nil, err
		}
	}

	searchText := text
	if tune.RewriteEnabled && s.rewriter != nil {
		searchText = s.rewrite(ctx, text)
	}

	vec, err := s.embedder.Embed(ctx, searchText)
	if err != nil {
		return nil, err
	}

	hits, err := s.search(ctx, vec, tenantID, tune)
	if err != nil {
		return nil, err
	}

	results = make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{ProductID: h.RecordID, Score: h.Score, Payload: h.Payload})
	}
	return results, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (s *Service) search(ctx context.Context, vec []float32, tenantID string, tune settings.Settings) ([]catalog.Hit, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.CatalogTimeout)
	defer cancel()
	return s.catalog.Search(ctx, s.cfg.Collection, vec, tenantID, tune.SearchLimit, tune.ScoreThreshold)
}

func (s *Service) approve(ctx context.Context, text string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.AssistTimeout)
	defer cancel()
	return s.gate.Approve(ctx, text)
}

// rewrite never fails the query: any problem keeps the original text.
func (s *Service) rewrite(ctx context.Context, text string) string {
	ctx, cancel := withTimeout(ctx, s.cfg.AssistTimeout)
	defer cancel()
	out, err := s.rewriter.Rewrite(ctx, text)
	if err != nil {
		slog.WarnContext(ctx, "query rewrite failed, using original text", "error", err)
		return text
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return text
	}
	return out
}
