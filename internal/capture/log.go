package capture

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dbranch/dbranch/internal/catalog"
	"github.com/dbranch/dbranch/internal/record"
)

// Log reads captured change records from a tracked database.
type Log struct {
	db catalog.Querier
}

// NewLog returns a Log over the given query surface.
func NewLog(db catalog.Querier) *Log {
	return &Log{db: db}
}

// Record fetches one change record by id.
func (l *Log) Record(ctx context.Context, id int64) (*record.Change, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, table_name, op, "key", columns, txid, changed_at
		FROM `+LogTable+`
		WHERE id = ?
	`, id)
	ch, err := scanChange(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("change record %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read change record %d: %w", id, err)
	}
	return ch, nil
}

// Records lists change records in id order. table filters to one relation
// when non-empty; limit caps the result when positive.
func (l *Log) Records(ctx context.Context, table string, limit int) ([]record.Change, error) {
	query := `
		SELECT id, table_name, op, "key", columns, txid, changed_at
		FROM ` + LogTable + `
	`
	var args []any
	if table != "" {
		query += ` WHERE table_name = ?`
		args = append(args, catalog.CanonicalName(table))
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	defer rows.Close()

	var changes []record.Change
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("read change log: %w", err)
		}
		changes = append(changes, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	return changes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChange(row rowScanner) (*record.Change, error) {
	var (
		ch        record.Change
		op        string
		key       string
		columns   string
		changedAt string
	)
	if err := row.Scan(&ch.ID, &ch.TableName, &op, &key, &columns, &ch.TxID, &changedAt); err != nil {
		return nil, err
	}
	ch.Op = record.Op(op)
	if !ch.Op.Valid() {
		return nil, fmt.Errorf("change record %d: unknown operation %q", ch.ID, op)
	}

	var err error
	if ch.Key, err = record.DecodeKey(key); err != nil {
		return nil, fmt.Errorf("change record %d: %w", ch.ID, err)
	}
	if len(ch.Key) == 0 {
		return nil, fmt.Errorf("change record %d: empty key", ch.ID)
	}
	if ch.Columns, err = record.DecodeColumns(columns); err != nil {
		return nil, fmt.Errorf("change record %d: %w", ch.ID, err)
	}
	if ch.ChangedAt, err = time.Parse(time.RFC3339Nano, changedAt); err != nil {
		return nil, fmt.Errorf("change record %d: parse timestamp: %w", ch.ID, err)
	}
	return &ch, nil
}
