// Package audit records schema-change events. An Auditor sits on the
// session's statement path: schema-modifying statements get a start record
// before execution and an end record after, with object definitions read at
// two distinct points so mid-command catalog mutation is captured faithfully.
//
// Known, intentionally stable gaps: drops of non-table objects are not
// recorded, and ALTER commands carry only the issued statement text rather
// than a reconstructed definition.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/dbranch/dbranch/internal/catalog"
	"github.com/dbranch/dbranch/internal/record"
	"github.com/dbranch/dbranch/internal/render"
)

// Auditor is the process-wide DDL listener for one tracked database.
type Auditor struct {
	db       DB
	log      *Log
	cache    *catalog.Cache
	username string
	database string

	// kinds restricts auditing to the given object kinds; nil means all.
	kinds map[string]bool

	enabled atomic.Bool
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithUsername stamps records with the acting user.
func WithUsername(name string) Option {
	return func(a *Auditor) { a.username = name }
}

// WithObjectKinds restricts auditing to the given object kinds.
func WithObjectKinds(kinds ...string) Option {
	return func(a *Auditor) {
		a.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			a.kinds[k] = true
		}
	}
}

// NewAuditor returns an enabled Auditor for the named database.
func NewAuditor(db DB, cache *catalog.Cache, database string, opts ...Option) *Auditor {
	a := &Auditor{
		db:       db,
		log:      NewLog(db),
		cache:    cache,
		database: database,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.enabled.Store(true)
	return a
}

// Enable turns auditing on.
func (a *Auditor) Enable() { a.enabled.Store(true) }

// Disable turns auditing off. Statements executed while disabled are the
// same class of gap as DDL issued through paths the listener never sees.
func (a *Auditor) Disable() { a.enabled.Store(false) }

// Enabled reports the listener state.
func (a *Auditor) Enabled() bool { return a.enabled.Load() }

// Exec runs one statement through the audit path. Non-DDL statements, and
// statements excluded by the lifecycle or the object-kind filter, execute
// unaudited. run performs the actual statement execution.
func (a *Auditor) Exec(ctx context.Context, sqlText string, run func(context.Context) error) error {
	cmd, ok := Classify(sqlText)
	if !ok || !a.audits(cmd) {
		return run(ctx)
	}

	txid, err := a.txid(ctx)
	if err != nil {
		return err
	}

	pre, err := a.preDefinition(ctx, cmd)
	if err != nil {
		return err
	}
	if err := a.log.Append(ctx, a.newRecord(cmd, record.PhaseStart, txid, pre, nil)); err != nil {
		return err
	}

	if err := run(ctx); err != nil {
		return err
	}
	a.invalidate(cmd)

	post, err := a.postDefinition(ctx, cmd)
	if err != nil {
		return err
	}
	if err := a.log.Append(ctx, a.newRecord(cmd, record.PhaseEnd, txid, nil, post)); err != nil {
		return err
	}

	// A storage rewrite logs its own end record; a whole-database rewrite
	// carries no object identity.
	if cmd.Rewrites() {
		rewrite := a.newRecord(cmd, record.PhaseEnd, txid, nil, nil)
		rewrite.CommandTag = RewriteTag
		if err := a.log.Append(ctx, rewrite); err != nil {
			return err
		}
	}
	return nil
}

// audits decides whether a classified command is recorded at all.
func (a *Auditor) audits(cmd *Command) bool {
	if !a.enabled.Load() {
		return false
	}
	if cmd.Name != "" && catalog.IsBookkeeping(cmd.Name) {
		return false
	}
	if a.kinds != nil && cmd.ObjectType != "" && !a.kinds[cmd.ObjectType] {
		return false
	}
	// Non-table drops are a documented gap: the object is gone before any
	// definition could be read, and no identity mapping is attempted.
	if cmd.Verb == "DROP" && cmd.ObjectType != ObjectTable {
		return false
	}
	return true
}

func (a *Auditor) newRecord(cmd *Command, phase record.Phase, txid int64, pre, post *string) *record.DDL {
	r := &record.DDL{
		Username:       a.username,
		Database:       a.database,
		TxID:           txid,
		CommandTag:     cmd.Tag,
		ObjectType:     cmd.ObjectType,
		ObjectIdentity: cmd.Identity(),
		Phase:          phase,
		SQLText:        &cmd.Text,
		PreDefinition:  pre,
		PostDefinition: post,
	}
	if cmd.Name != "" {
		r.SchemaName = "main"
	}
	return r
}

// preDefinition reads the object's definition before the command runs.
// Tables have none at start; drops look nothing up because identity comes
// from the statement itself.
func (a *Auditor) preDefinition(ctx context.Context, cmd *Command) (*string, error) {
	if cmd.Verb == "DROP" || cmd.ObjectType == ObjectTable || cmd.Name == "" {
		return nil, nil
	}
	return a.storedDefinition(ctx, cmd.ObjectType, cmd.Name)
}

// postDefinition reads the object's definition after the command ran. Table
// creations get the full rendered definition; other table commands fall back
// to the issued text; remaining kinds use the engine's stored definition.
func (a *Auditor) postDefinition(ctx context.Context, cmd *Command) (*string, error) {
	if cmd.Verb == "DROP" || cmd.Name == "" {
		return nil, nil
	}
	name := cmd.Name
	if cmd.RenameTo != "" {
		name = cmd.RenameTo
	}
	if cmd.ObjectType == ObjectTable {
		if cmd.Verb == "CREATE" {
			desc, err := a.cache.Describe(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("audit: render %s: %w", name, err)
			}
			rendered := render.Table(desc)
			return &rendered, nil
		}
		if cmd.Rewrites() {
			return nil, nil
		}
		return &cmd.Text, nil
	}
	return a.storedDefinition(ctx, cmd.ObjectType, name)
}

// storedDefinition is the engine's native definition getter.
func (a *Auditor) storedDefinition(ctx context.Context, objectType, name string) (*string, error) {
	var def sql.NullString
	err := a.db.QueryRowContext(ctx, `
		SELECT sql FROM sqlite_master WHERE type = ? AND name = ?
	`, objectType, name).Scan(&def)
	if err == sql.ErrNoRows || (err == nil && !def.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: definition of %s %s: %w", objectType, name, err)
	}
	return &def.String, nil
}

func (a *Auditor) txid(ctx context.Context) (int64, error) {
	var txid int64
	if err := a.db.QueryRowContext(ctx, `SELECT dbr_txid()`).Scan(&txid); err != nil {
		return 0, fmt.Errorf("audit: read transaction id: %w", err)
	}
	return txid, nil
}

// invalidate drops cached descriptors the command may have made stale.
func (a *Auditor) invalidate(cmd *Command) {
	switch {
	case cmd.Name == "" || cmd.Verb == "VACUUM" || cmd.Verb == "REINDEX":
		a.cache.InvalidateAll()
	default:
		a.cache.Invalidate(cmd.Name)
		if cmd.RenameTo != "" {
			a.cache.Invalidate(cmd.RenameTo)
		}
	}
}
