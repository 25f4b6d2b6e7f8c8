// Package record defines the messages that cross the queue boundary and the
// identifiers derived from them.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrPoison marks a message that can never be processed. Such messages go to
// the dead-letter store instead of being redelivered.
var ErrPoison = errors.New("poison message")

const maxIDLength = 256

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)

// ValidTenant reports whether id is a usable tenant partition key.
func ValidTenant(id string) bool {
	return tenantPattern.MatchString(id)
}

// Record is one source row.
type Record struct {
	ID       string
	TenantID string
	Fields   map[string]string
}

// Message is the records-to-index payload.
type Message struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	Fields        map[string]string `json:"fields"`
	UploadID      string            `json:"upload_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

func (m Message) Record() Record {
	fields := m.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	return Record{ID: m.ID, TenantID: m.TenantID, Fields: fields}
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrPoison)
	}
	if len(m.ID) > maxIDLength {
		return fmt.Errorf("%w: id longer than %d bytes", ErrPoison, maxIDLength)
	}
	if m.TenantID == "" {
		return fmt.Errorf("%w: missing tenant_id", ErrPoison)
	}
	if !ValidTenant(m.TenantID) {
		return fmt.Errorf("%w: invalid tenant_id %q", ErrPoison, m.TenantID)
	}
	return nil
}

// FileTask is the file-to-parse payload.
type FileTask struct {
	FilePath      string `json:"file_path"`
	TenantID      string `json:"tenant_id"`
	UploadID      string `json:"upload_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (t FileTask) Validate() error {
	if strings.TrimSpace(t.FilePath) == "" {
		return fmt.Errorf("%w: missing file_path", ErrPoison)
	}
	if !ValidTenant(t.TenantID) {
		return fmt.Errorf("%w: invalid tenant_id %q", ErrPoison, t.TenantID)
	}
	return nil
}

// Decode parses and validates a record message. Every failure wraps ErrPoison.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := strictUnmarshal(body, &m); err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DecodeFileTask parses and validates a file task. Every failure wraps ErrPoison.
func DecodeFileTask(body []byte) (FileTask, error) {
	var t FileTask
	if err := strictUnmarshal(body, &t); err != nil {
		return FileTask{}, err
	}
	if err := t.Validate(); err != nil {
		return FileTask{}, err
	}
	return t, nil
}

func strictUnmarshal(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body", ErrPoison)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after message", ErrPoison)
	}
	return nil
}
