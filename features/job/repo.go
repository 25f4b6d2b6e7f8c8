package job

import (
	"context"
	"database/sql"
	"encoding/json"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context, tenantID string) ([]Job, error)
	Get(ctx context.Context, tenantID, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, tenantID string) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	payload := job.Payload
	if !json.Valid(payload) {
		// Poison bodies are kept verbatim as a JSON string.
		payload, _ = json.Marshal(string(job.Payload))
	}
	query := `INSERT INTO failed_jobs (tenant_id, topic, handler, payload, error, attempts)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, retries`
	return r.db.QueryRowContext(ctx, query, job.TenantID, job.Topic, job.Handler, []byte(payload), job.Error, job.Attempts).
		Scan(&job.ID, &job.CreatedAt, &job.Retries)
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string) ([]Job, error) {
	query := `SELECT id, tenant_id, topic, handler, payload, error, attempts, retries, created_at
		FROM failed_jobs WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var payload []byte
		if err := rows.Scan(&j.ID, &j.TenantID, &j.Topic, &j.Handler, &payload, &j.Error, &j.Attempts, &j.Retries, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Payload = json.RawMessage(payload)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (*Job, error) {
	j := &Job{}
	var payload []byte
	query := `SELECT id, tenant_id, topic, handler, payload, error, attempts, retries, created_at
		FROM failed_jobs WHERE id = $1 AND tenant_id = $2`
	err := r.db.QueryRowContext(ctx, query, id, tenantID).
		Scan(&j.ID, &j.TenantID, &j.Topic, &j.Handler, &payload, &j.Error, &j.Attempts, &j.Retries, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	return j, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM failed_jobs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context, tenantID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_jobs WHERE tenant_id = $1`
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&count)
	return count, err
}
