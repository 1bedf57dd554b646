package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dbranch/dbranch/internal/catalog"
	"github.com/dbranch/dbranch/internal/record"
)

// LogTable is the append-only DDL audit log inside each tracked database.
const LogTable = catalog.BookkeepingPrefix + "ddl_log"

const logTableDDL = `
CREATE TABLE IF NOT EXISTS ` + LogTable + ` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	logged_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	username TEXT NOT NULL DEFAULT '',
	database_name TEXT NOT NULL DEFAULT '',
	txid INTEGER NOT NULL DEFAULT 0,
	command_tag TEXT NOT NULL,
	object_type TEXT NOT NULL DEFAULT '',
	schema_name TEXT NOT NULL DEFAULT '',
	object_identity TEXT NOT NULL DEFAULT '',
	phase TEXT NOT NULL CHECK (phase IN ('start','end')),
	sql_text TEXT,
	pre_definition TEXT,
	post_definition TEXT
)`

// DB is the database surface the audit log needs. *sql.DB and *sql.Tx
// satisfy it.
type DB interface {
	catalog.Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Log reads and writes DDL audit records.
type Log struct {
	db DB
}

// NewLog returns a Log over the given database handle.
func NewLog(db DB) *Log {
	return &Log{db: db}
}

// Ensure creates the audit log table if absent.
func (l *Log) Ensure(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, logTableDDL); err != nil {
		return fmt.Errorf("audit: create log table: %w", err)
	}
	return nil
}

// Append writes one audit record. Records are immutable once written.
func (l *Log) Append(ctx context.Context, r *record.DDL) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO `+LogTable+`
			(username, database_name, txid, command_tag, object_type,
			 schema_name, object_identity, phase, sql_text,
			 pre_definition, post_definition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Username, r.Database, r.TxID, r.CommandTag, r.ObjectType,
		r.SchemaName, r.ObjectIdentity, string(r.Phase), r.SQLText,
		r.PreDefinition, r.PostDefinition)
	if err != nil {
		return fmt.Errorf("audit: append %s %s record: %w", r.CommandTag, r.Phase, err)
	}
	return nil
}

// Records lists audit records in id order. identity filters to one object
// when non-empty; limit caps the result when positive.
func (l *Log) Records(ctx context.Context, identity string, limit int) ([]record.DDL, error) {
	query := `
		SELECT id, logged_at, username, database_name, txid, command_tag,
		       object_type, schema_name, object_identity, phase,
		       sql_text, pre_definition, post_definition
		FROM ` + LogTable + `
	`
	var args []any
	if identity != "" {
		query += ` WHERE object_identity = ?`
		args = append(args, identity)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	defer rows.Close()

	var recs []record.DDL
	for rows.Next() {
		var (
			r        record.DDL
			loggedAt string
			phase    string
		)
		if err := rows.Scan(&r.ID, &loggedAt, &r.Username, &r.Database,
			&r.TxID, &r.CommandTag, &r.ObjectType, &r.SchemaName,
			&r.ObjectIdentity, &phase, &r.SQLText,
			&r.PreDefinition, &r.PostDefinition); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		r.Phase = record.Phase(phase)
		if r.LoggedAt, err = time.Parse(time.RFC3339Nano, loggedAt); err != nil {
			return nil, fmt.Errorf("audit: record %d: parse timestamp: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return recs, nil
}
