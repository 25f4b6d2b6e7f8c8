package job

import (
	"encoding/json"
	"time"
)

// Job is a dead-lettered message: the raw body as it came off the queue,
// the topic it came from and the last error seen for it.
type Job struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Topic     string          `json:"topic"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
