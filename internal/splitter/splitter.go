// Package splitter turns one bulk CSV upload into a stream of records.
package splitter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"prodsync/apps/backend/internal/record"
)

var (
	// ErrPublishFailed marks a record the broker did not confirm.
	ErrPublishFailed = errors.New("splitter: publish failed")

	// ErrNoHeader is returned when the source has no usable header row.
	ErrNoHeader = errors.New("splitter: missing header row")
)

// IDColumn, when present in the header, supplies the record id.
const IDColumn = "id"

// ID policies for rows without an id column value.
const (
	IDRandom  = "random"
	IDContent = "content"
)

type Options struct {
	IDPolicy string
}

// RowError reports a row that could not be turned into a record. The stream
// continues after it.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row at line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Split streams the rows of r as records for tenantID. Each malformed row is
// yielded as a *RowError and skipped. A missing header, a read failure or a
// cancelled ctx is yielded once and ends the stream.
//
// The sequence is single-use: it consumes r.
func Split(ctx context.Context, r io.Reader, tenantID string, opts Options) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		if !record.ValidTenant(tenantID) {
			yield(record.Record{}, fmt.Errorf("%w: %q", record.ErrPoison, tenantID))
			return
		}

		cr := csv.NewReader(r)
		cr.TrimLeadingSpace = true

		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			yield(record.Record{}, ErrNoHeader)
			return
		}
		if err != nil {
			yield(record.Record{}, fmt.Errorf("%w: %v", ErrNoHeader, err))
			return
		}
		columns, err := normalizeHeader(header)
		if err != nil {
			yield(record.Record{}, err)
			return
		}
		cr.FieldsPerRecord = len(columns)

		for {
			if err := ctx.Err(); err != nil {
				yield(record.Record{}, err)
				return
			}

			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var perr *csv.ParseError
				if errors.As(err, &perr) {
					if !yield(record.Record{}, &RowError{Line: perr.StartLine, Err: perr.Err}) {
						return
					}
					continue
				}
				yield(record.Record{}, fmt.Errorf("reading source: %w", err))
				return
			}

			if !yield(buildRecord(columns, row, tenantID, opts.IDPolicy), nil) {
				return
			}
		}
	}
}

func normalizeHeader(header []string) ([]string, error) {
	columns := make([]string, len(header))
	nonEmpty := 0
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		columns[i] = strings.ToLower(strings.TrimSpace(h))
		if columns[i] != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return nil, ErrNoHeader
	}
	return columns, nil
}

func buildRecord(columns, row []string, tenantID, policy string) record.Record {
	fields := make(map[string]string, len(columns))
	var id string
	for i, col := range columns {
		if col == "" {
			continue
		}
		v := strings.TrimSpace(row[i])
		if col == IDColumn {
			id = v
			continue
		}
		fields[col] = v
	}

	if id == "" {
		if policy == IDContent {
			id = record.ContentID(tenantID, fields)
		} else {
			id = record.RandomID()
		}
	}
	return record.Record{ID: id, TenantID: tenantID, Fields: fields}
}
