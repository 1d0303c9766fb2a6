package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/store"
)

// recordColumns is the column list used for SELECT statements on the contextual_configs table.
const recordColumns = `id, context_kind, context_id, payload, is_active,
	created_by, updated_by, created_at, updated_at`

// oneActiveIndex is the partial unique index enforcing one active record per context.
const oneActiveIndex = "contextual_configs_one_active"

// kindPriorityOrder sorts rows by resolution precedence.
const kindPriorityOrder = `CASE context_kind WHEN 'user' THEN 1 WHEN 'role' THEN 2 WHEN 'org' THEN 3 ELSE 4 END`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateRecord(ctx context.Context, db executor, r *model.Record) error {
	payload, err := jsonbPayload(r.Payload)
	if err != nil {
		return err
	}
	err = db.QueryRowContext(ctx, `
		INSERT INTO contextual_configs (id, context_kind, context_id, payload, is_active, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING created_at, updated_at`,
		r.ID,
		string(r.Context.Kind),
		r.Context.Identifier,
		payload,
		r.IsActive,
		r.CreatedBy,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	r.UpdatedBy = r.CreatedBy
	return nil
}

func queryGetRecord(ctx context.Context, db executor, id string) (*model.Record, error) {
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM contextual_configs WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}

func queryGetActiveRecord(ctx context.Context, db executor, d model.Descriptor) (*model.Record, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM contextual_configs
		WHERE context_kind = $1 AND context_id = $2 AND is_active`,
		string(d.Kind), d.Identifier)
	r, err := scanRecord(row)
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}

// queryUpdateRecord locks the row, applies the update and writes it back.
// Callers run it inside a transaction.
func queryUpdateRecord(ctx context.Context, db executor, id string, update model.Payload, mode model.UpdateMode, actor string) (*model.Record, error) {
	var current []byte
	err := db.QueryRowContext(ctx, `SELECT payload FROM contextual_configs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		return nil, mapError(err)
	}

	var existing model.Payload
	if err := json.Unmarshal(current, &existing); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", id, err)
	}

	next, err := jsonbPayload(store.ApplyUpdate(existing, update, mode))
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		UPDATE contextual_configs
		SET payload = $2, updated_by = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordColumns,
		id, next, actor)
	r, err := scanRecord(row)
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}

// querySetActive toggles is_active. Setting the current value again leaves
// updated_at untouched.
func querySetActive(ctx context.Context, db executor, id string, active bool, actor string) (*model.Record, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE contextual_configs
		SET is_active = $2,
			updated_by = CASE WHEN is_active = $2 THEN updated_by ELSE $3 END,
			updated_at = CASE WHEN is_active = $2 THEN updated_at ELSE NOW() END
		WHERE id = $1
		RETURNING `+recordColumns,
		id, active, actor)
	r, err := scanRecord(row)
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}

func queryDeleteRecord(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM contextual_configs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryListRecords(ctx context.Context, db executor, kind model.Kind) ([]*model.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM contextual_configs
		WHERE context_kind = $1
		ORDER BY context_id, created_at`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func queryListAllRecords(ctx context.Context, db executor) ([]*model.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM contextual_configs
		ORDER BY `+kindPriorityOrder+`, context_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func querySearchRecords(ctx context.Context, db executor, filter model.RecordFilter) ([]*model.Record, int, error) {
	filter = filter.Normalize()

	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.Kind != "" {
		whereClauses = append(whereClauses, "context_kind = "+nextArg())
		args = append(args, string(filter.Kind))
	}
	if filter.Identifier != "" {
		whereClauses = append(whereClauses, "context_id = "+nextArg())
		args = append(args, filter.Identifier)
	}
	if filter.CreatedBy != "" {
		whereClauses = append(whereClauses, "created_by = "+nextArg())
		args = append(args, filter.CreatedBy)
	}
	if filter.ActiveOnly {
		whereClauses = append(whereClauses, "is_active")
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + recordColumns +
		" FROM contextual_configs" + whereSQL +
		" ORDER BY created_at DESC, id LIMIT " + nextArg() + " OFFSET " + nextArg()
	dataArgs := append(append([]any{}, args...), filter.Size, filter.Offset())

	rows, err := db.QueryContext(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	records := []*model.Record{}
	var total int
	for rows.Next() {
		r, t, err := scanRecordWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan records: %w", err)
		}
		total = t
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// A page past the end returns no rows and therefore no window count.
	if len(records) == 0 && filter.Offset() > 0 {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contextual_configs"+whereSQL, args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count records: %w", err)
		}
	}

	return records, total, nil
}

func queryCountByKind(ctx context.Context, db executor) ([]model.KindCount, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT context_kind, COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM contextual_configs
		GROUP BY context_kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byKind := make(map[model.Kind]model.KindCount)
	for rows.Next() {
		var c model.KindCount
		var kind string
		if err := rows.Scan(&kind, &c.Total, &c.Active); err != nil {
			return nil, err
		}
		c.Kind = model.Kind(kind)
		byKind[c.Kind] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.KindCount, len(model.ResolutionOrder))
	for i, k := range model.ResolutionOrder {
		out[i] = byKind[k]
		out[i].Kind = k
	}
	return out, nil
}

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == oneActiveIndex {
		return store.ErrDuplicateActive
	}
	return err
}
