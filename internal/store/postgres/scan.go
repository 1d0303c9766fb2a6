package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a model.Record.
// The row must contain columns in the order defined by recordColumns.
func scanRecord(row scannable) (*model.Record, error) {
	var (
		r       model.Record
		kind    string
		payload []byte
	)
	err := row.Scan(
		&r.ID,
		&kind,
		&r.Context.Identifier,
		&payload,
		&r.IsActive,
		&r.CreatedBy,
		&r.UpdatedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Context.Kind = model.Kind(kind)
	if err := decodePayload(payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// scanRecordWithTotal scans a row that has a leading total_count column.
func scanRecordWithTotal(row scannable) (*model.Record, int, error) {
	var (
		r       model.Record
		total   int
		kind    string
		payload []byte
	)
	err := row.Scan(
		&total,
		&r.ID,
		&kind,
		&r.Context.Identifier,
		&payload,
		&r.IsActive,
		&r.CreatedBy,
		&r.UpdatedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, 0, err
	}
	r.Context.Kind = model.Kind(kind)
	if err := decodePayload(payload, &r); err != nil {
		return nil, 0, err
	}
	return &r, total, nil
}

// scanRecords scans multiple rows into a slice of model.Record pointers.
func scanRecords(rows *sql.Rows) ([]*model.Record, error) {
	records := []*model.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func decodePayload(data []byte, r *model.Record) error {
	r.Payload = model.Payload{}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &r.Payload); err != nil {
		return fmt.Errorf("decode payload of %s: %w", r.ID, err)
	}
	return nil
}

// jsonbPayload encodes a payload for a JSONB column; nil becomes an empty object.
func jsonbPayload(p model.Payload) ([]byte, error) {
	if p == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
