package upload

import (
	"context"
	"database/sql"
)

type Repository interface {
	Save(ctx context.Context, u *Upload) error
	Get(ctx context.Context, tenantID, id string) (*Upload, error)
	List(ctx context.Context, tenantID string) ([]Upload, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	Finish(ctx context.Context, id, status string, published, failed int, errMsg string) error
	Count(ctx context.Context, tenantID string) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, u *Upload) error {
	query := `INSERT INTO uploads (tenant_id, filename, file_path, content_hash, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, u.TenantID, u.Filename, u.FilePath, u.ContentHash, u.Status).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

const selectColumns = `id, tenant_id, filename, file_path, content_hash, status, rows_published, rows_failed, error, created_at, updated_at`

func scanUpload(row interface{ Scan(...any) error }, u *Upload) error {
	return row.Scan(&u.ID, &u.TenantID, &u.Filename, &u.FilePath, &u.ContentHash, &u.Status,
		&u.RowsPublished, &u.RowsFailed, &u.Error, &u.CreatedAt, &u.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (*Upload, error) {
	u := &Upload{}
	query := `SELECT ` + selectColumns + ` FROM uploads WHERE id = $1 AND tenant_id = $2`
	if err := scanUpload(r.db.QueryRowContext(ctx, query, id, tenantID), u); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string) ([]Upload, error) {
	query := `SELECT ` + selectColumns + ` FROM uploads WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		if err := scanUpload(rows, &u); err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	query := `UPDATE uploads SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, errMsg, id)
	return err
}

func (r *PostgresRepo) Finish(ctx context.Context, id, status string, published, failed int, errMsg string) error {
	query := `UPDATE uploads SET status = $1, rows_published = $2, rows_failed = $3, error = $4, updated_at = NOW() WHERE id = $5`
	_, err := r.db.ExecContext(ctx, query, status, published, failed, errMsg, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM uploads WHERE tenant_id = $1`, tenantID).Scan(&count)
	return count, err
}
