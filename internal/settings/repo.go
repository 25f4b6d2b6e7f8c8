package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID string) (*Settings, error) {
	s := &Settings{}
	query := `SELECT tenant_id, search_limit, score_threshold, gate_enabled, rewrite_enabled FROM settings WHERE tenant_id = $1`
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&s.TenantID, &s.SearchLimit, &s.ScoreThreshold, &s.GateEnabled, &s.RewriteEnabled)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, s *Settings) error {
	query := `
		INSERT INTO settings (tenant_id, search_limit, score_threshold, gate_enabled, rewrite_enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE
		SET search_limit = EXCLUDED.search_limit, score_threshold = EXCLUDED.score_threshold,
			gate_enabled = EXCLUDED.gate_enabled, rewrite_enabled = EXCLUDED.rewrite_enabled, updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, s.TenantID, s.SearchLimit, s.ScoreThreshold, s.GateEnabled, s.RewriteEnabled)
	return err
}
