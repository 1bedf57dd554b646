// Package session opens tracked databases: a sqlite3 connection with the
// dbranch SQL functions installed, the capture and audit logs ensured, and
// every statement routed through the DDL audit path.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/dbranch/dbranch/internal/audit"
	"github.com/dbranch/dbranch/internal/capture"
	"github.com/dbranch/dbranch/internal/catalog"
)

// Session is one audited connection to a tracked database.
type Session struct {
	db      *sql.DB
	path    string
	name    string
	cache   *catalog.Cache
	auditor *audit.Auditor
	ddlLog  *audit.Log
}

// Option configures a Session at open time.
type Option func(*openConfig)

type openConfig struct {
	auditOpts []audit.Option
}

// WithAuditOptions forwards options to the session's Auditor.
func WithAuditOptions(opts ...audit.Option) Option {
	return func(c *openConfig) { c.auditOpts = append(c.auditOpts, opts...) }
}

// Open opens the database file at path. The connection is configured with
// WAL mode, NORMAL synchronous, a 5s busy timeout, and foreign keys on; the
// pool is capped at one connection so writes never contend with themselves.
func Open(path string, opts ...Option) (*Session, error) {
	ensureDriver()

	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database %s: %w", path, err)
	}

	name := DatabaseName(path)
	cache := catalog.NewCache(catalog.NewInspector(db))
	auditOpts := append([]audit.Option{audit.WithUsername(currentUsername())}, cfg.auditOpts...)

	s := &Session{
		db:      db,
		path:    path,
		name:    name,
		cache:   cache,
		auditor: audit.NewAuditor(db, cache, name, auditOpts...),
		ddlLog:  audit.NewLog(db),
	}
	if err := s.ddlLog.Ensure(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DatabaseName derives the logical database name from its file path.
func DatabaseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func currentUsername() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Session) Path() string { return s.path }

// Name returns the logical database name.
func (s *Session) Name() string { return s.name }

// DB exposes the underlying handle for read paths and package collaborators.
func (s *Session) DB() *sql.DB { return s.db }

// Cache is the session's shared descriptor cache. The audit path invalidates
// it as DDL lands.
func (s *Session) Cache() *catalog.Cache { return s.cache }

// Auditor is the session's DDL listener.
func (s *Session) Auditor() *audit.Auditor { return s.auditor }

// Exec executes one statement through the audit path. Schema-modifying
// statements produce start and end audit records around execution; everything
// else runs directly. The transaction stamp is cleared afterwards, so each
// autocommit statement gets its own id.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (res sql.Result, err error) {
	err = s.auditor.Exec(ctx, query, func(ctx context.Context) error {
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	if clearErr := s.clearStamp(ctx); clearErr != nil && err == nil {
		err = clearErr
	}
	return res, err
}

// Query runs a read-only query.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a read-only single-row query.
func (s *Session) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Session) clearStamp(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "SELECT dbr_txid_clear()"); err != nil {
		return fmt.Errorf("clear transaction stamp: %w", err)
	}
	return nil
}

// EnsureCapture installs change capture on every qualifying relation.
func (s *Session) EnsureCapture(ctx context.Context) (capture.Result, error) {
	return capture.NewInstaller(s.db, s.cache).Ensure(ctx)
}
