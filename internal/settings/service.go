// Package settings holds the per-tenant query tuning that can change without
// a restart. A tenant without a stored row gets the configured defaults.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"prodsync/apps/backend/internal/catalog"
)

var ErrInvalid = errors.New("invalid settings")

const maxSearchLimit = 100

type Settings struct {
	TenantID       string  `json:"tenant_id"`
	SearchLimit    int     `json:"search_limit"`
	ScoreThreshold float32 `json:"score_threshold"`
	GateEnabled    bool    `json:"gate_enabled"`
	RewriteEnabled bool    `json:"rewrite_enabled"`
}

func (s *Settings) Validate() error {
	if s.SearchLimit <= 0 || s.SearchLimit > maxSearchLimit {
		return fmt.Errorf("%w: search_limit must be between 1 and %d", ErrInvalid, maxSearchLimit)
	}
	if math.IsNaN(float64(s.ScoreThreshold)) || math.IsInf(float64(s.ScoreThreshold), 0) {
		return fmt.Errorf("%w: score_threshold must be a finite number", ErrInvalid)
	}
	return nil
}

// Repository returns sql.ErrNoRows from Get when the tenant has no row.
type Repository interface {
	Get(ctx context.Context, tenantID string) (*Settings, error)
	Upsert(ctx context.Context, s *Settings) error
}

type Service struct {
	repo     Repository
	defaults Settings
}

func NewService(repo Repository, defaults Settings) *Service {
	return &Service{repo: repo, defaults: defaults}
}

// Get returns the tenant's settings, or the defaults when it has none.
func (s *Service) Get(ctx context.Context, tenantID string) (*Settings, error) {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return nil, err
	}
	set, err := s.repo.Get(ctx, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		d := s.defaults
		d.TenantID = tenantID
		return &d, nil
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Update stores set for tenantID only. Other tenants are unaffected.
func (s *Service) Update(ctx context.Context, tenantID string, set *Settings) error {
	if err := catalog.CheckTenant(tenantID); err != nil {
		return err
	}
	if err := set.Validate(); err != nil {
		return err
	}
	set.TenantID = tenantID
	return s.repo.Upsert(ctx, set)
}
