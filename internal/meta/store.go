// Package meta is the durable store for branching metadata: which databases
// are tracked, their parent lineage, and the state of every branch
// operation. It is owned exclusively by the orchestrator.
package meta

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Current layout
const currentSchemaVersion = 1

// FileName is the metadata database file inside the data directory.
const FileName = "dbranch.db"

// Status is the lifecycle state of a branch operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// TrackedDatabase is one database participating in branching. Databases form
// a forest: ParentOID is nil for roots and set at branch time otherwise.
type TrackedDatabase struct {
	OID       int64
	Name      string
	ParentOID *int64
	CreatedAt time.Time
	Origin    string
}

// Operation is one orchestration attempt. Mutated in place as the operation
// advances; terminal once Status reaches succeeded or failed.
type Operation struct {
	ID           int64
	SourceOID    int64
	NewOID       *int64
	DatabaseName string
	Kind         string
	Status       Status
	Error        *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Store provides durable storage for branching metadata.
type Store struct {
	db *sql.DB
}

// Open creates or opens the metadata database at the given path. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to metadata store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply metadata schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Register records a database as tracked. parent is nil for roots.
func (s *Store) Register(ctx context.Context, name string, parent *int64, origin string) (*TrackedDatabase, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_databases (name, parent_oid, origin)
		VALUES (?, ?, ?)
	`, name, parent, origin)
	if err != nil {
		return nil, fmt.Errorf("register database %s: %w", name, err)
	}
	oid, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("register database %s: %w", name, err)
	}
	return s.Database(ctx, oid)
}

// Database fetches one tracked database by oid.
func (s *Store) Database(ctx context.Context, oid int64) (*TrackedDatabase, error) {
	return scanDatabase(s.db.QueryRowContext(ctx, `
		SELECT oid, name, parent_oid, created_at, origin
		FROM tracked_databases WHERE oid = ?
	`, oid), fmt.Sprintf("database oid %d", oid))
}

// DatabaseByName fetches one tracked database by name.
func (s *Store) DatabaseByName(ctx context.Context, name string) (*TrackedDatabase, error) {
	return scanDatabase(s.db.QueryRowContext(ctx, `
		SELECT oid, name, parent_oid, created_at, origin
		FROM tracked_databases WHERE name = ?
	`, name), fmt.Sprintf("database %s", name))
}

// Databases lists all tracked databases in name order.
func (s *Store) Databases(ctx context.Context) ([]TrackedDatabase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oid, name, parent_oid, created_at, origin
		FROM tracked_databases ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var dbs []TrackedDatabase
	for rows.Next() {
		d, err := scanDatabaseRow(rows)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return dbs, nil
}

// Children lists the direct children of a database.
func (s *Store) Children(ctx context.Context, oid int64) ([]TrackedDatabase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oid, name, parent_oid, created_at, origin
		FROM tracked_databases WHERE parent_oid = ? ORDER BY name
	`, oid)
	if err != nil {
		return nil, fmt.Errorf("list children of oid %d: %w", oid, err)
	}
	defer rows.Close()

	var dbs []TrackedDatabase
	for rows.Next() {
		d, err := scanDatabaseRow(rows)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list children of oid %d: %w", oid, err)
	}
	return dbs, nil
}

// Remove deletes a tracked-database row.
func (s *Store) Remove(ctx context.Context, oid int64) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM tracked_databases WHERE oid = ?
	`, oid); err != nil {
		return fmt.Errorf("remove database oid %d: %w", oid, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDatabase(row *sql.Row, what string) (*TrackedDatabase, error) {
	d, err := scanDatabaseRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s not tracked", what)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", what, err)
	}
	return d, nil
}

func scanDatabaseRow(row rowScanner) (*TrackedDatabase, error) {
	var (
		d         TrackedDatabase
		parent    sql.NullInt64
		createdAt string
	)
	if err := row.Scan(&d.OID, &d.Name, &parent, &createdAt, &d.Origin); err != nil {
		return nil, err
	}
	if parent.Valid {
		d.ParentOID = &parent.Int64
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("database %s: parse created_at: %w", d.Name, err)
	}
	d.CreatedAt = t
	return &d, nil
}

// CreateOperation records a new pending branch operation.
func (s *Store) CreateOperation(ctx context.Context, sourceOID int64, databaseName, kind string) (*Operation, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_operations (source_oid, database_name, kind)
		VALUES (?, ?, ?)
	`, sourceOID, databaseName, kind)
	if err != nil {
		return nil, fmt.Errorf("create %s operation for %s: %w", kind, databaseName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create %s operation for %s: %w", kind, databaseName, err)
	}
	return s.Operation(ctx, id)
}

// StartOperation transitions pending -> running.
func (s *Store) StartOperation(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusPending, StatusRunning, `
		UPDATE branch_operations
		SET status = 'running', started_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND status = 'pending'
	`)
}

// SucceedOperation transitions running -> succeeded and records the clone's
// oid. The new oid is set only on success.
func (s *Store) SucceedOperation(ctx context.Context, id, newOID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE branch_operations
		SET status = 'succeeded', new_oid = ?,
		    finished_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND status = 'running'
	`, newOID, id)
	if err != nil {
		return fmt.Errorf("operation %d: mark succeeded: %w", id, err)
	}
	return requireTransition(res, id, StatusSucceeded)
}

// FailOperation transitions to failed with a description. Valid from pending
// or running.
func (s *Store) FailOperation(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE branch_operations
		SET status = 'failed', error = ?,
		    finished_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND status IN ('pending','running')
	`, reason, id)
	if err != nil {
		return fmt.Errorf("operation %d: mark failed: %w", id, err)
	}
	return requireTransition(res, id, StatusFailed)
}

func (s *Store) transition(ctx context.Context, id int64, from, to Status, query string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("operation %d: %s -> %s: %w", id, from, to, err)
	}
	return requireTransition(res, id, to)
}

func requireTransition(res sql.Result, id int64, to Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("operation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("operation %d: invalid transition to %s", id, to)
	}
	return nil
}

// Operation fetches one branch operation by id.
func (s *Store) Operation(ctx context.Context, id int64) (*Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx, `
		SELECT id, source_oid, new_oid, database_name, kind, status, error,
		       created_at, started_at, finished_at
		FROM branch_operations WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operation %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch operation %d: %w", id, err)
	}
	return op, nil
}

// Operations lists branch operations, newest first. limit caps the result
// when positive.
func (s *Store) Operations(ctx context.Context, limit int) ([]Operation, error) {
	query := `
		SELECT id, source_oid, new_oid, database_name, kind, status, error,
		       created_at, started_at, finished_at
		FROM branch_operations ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("list operations: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

func scanOperation(row rowScanner) (*Operation, error) {
	var (
		op         Operation
		newOID     sql.NullInt64
		errText    sql.NullString
		status     string
		createdAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
	)
	if err := row.Scan(&op.ID, &op.SourceOID, &newOID, &op.DatabaseName,
		&op.Kind, &status, &errText, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	op.Status = Status(status)
	if newOID.Valid {
		op.NewOID = &newOID.Int64
	}
	if errText.Valid {
		op.Error = &errText.String
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("operation %d: parse created_at: %w", op.ID, err)
	}
	op.CreatedAt = t
	if op.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("operation %d: parse started_at: %w", op.ID, err)
	}
	if op.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, fmt.Errorf("operation %d: parse finished_at: %w", op.ID, err)
	}
	return &op, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
