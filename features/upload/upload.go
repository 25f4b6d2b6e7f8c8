package upload

import "time"

// Upload lifecycle. An upload ends in one of the last three states.
const (
	StatusQueued              = "queued"
	StatusSplitting           = "splitting"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
)

type Upload struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Filename      string    `json:"filename"`
	FilePath      string    `json:"file_path"`
	ContentHash   string    `json:"content_hash"`
	Status        string    `json:"status"`
	RowsPublished int       `json:"rows_published"`
	RowsFailed    int       `json:"rows_failed"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
