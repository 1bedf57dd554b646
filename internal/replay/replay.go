// Package replay re-applies captured change records. Statement construction
// is a pure function of the record; execution happens as an explicit,
// separate operation outside the capturing transaction, and ordering across
// records beyond log-id order is the caller's concern.
package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dbranch/dbranch/internal/capture"
	"github.com/dbranch/dbranch/internal/catalog"
	"github.com/dbranch/dbranch/internal/record"
)

// MismatchError reports that a change record's column set no longer matches
// the target relation's schema. Never retried automatically.
type MismatchError struct {
	RecordID int64
	Relation string
	Reason   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("replay record %d on %s: %s", e.RecordID, e.Relation, e.Reason)
}

// IsMismatch reports whether err is a MismatchError.
func IsMismatch(err error) bool {
	var m *MismatchError
	return errors.As(err, &m)
}

// Statement is a built DML statement with its bind arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Build constructs the DML statement equivalent to one change record.
// Recorded type descriptors become casts, so values round-trip losslessly
// even against a different server instance. Pure: no catalog access.
// An update record without changed columns builds nothing: applying it
// leaves the target untouched.
func Build(ch *record.Change) (*Statement, error) {
	switch ch.Op {
	case record.OpInsert:
		return buildInsert(ch), nil
	case record.OpUpdate:
		if len(ch.Columns) == 0 {
			return nil, nil
		}
		return buildUpdate(ch), nil
	case record.OpDelete:
		return buildDelete(ch), nil
	}
	return nil, fmt.Errorf("replay record %d: unknown operation %q", ch.ID, ch.Op)
}

func buildInsert(ch *record.Change) *Statement {
	names := ch.ColumnNames()
	cols := make([]string, len(names))
	vals := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		cv := ch.Columns[name]
		cols[i] = catalog.QuoteIdent(name)
		vals[i] = castExpr(cv.Type)
		args[i] = bindValue(cv)
	}
	return &Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			catalog.QuoteIdent(ch.TableName),
			strings.Join(cols, ", "), strings.Join(vals, ", ")),
		Args: args,
	}
}

func buildUpdate(ch *record.Change) *Statement {
	names := ch.ColumnNames()
	sets := make([]string, len(names))
	var args []any
	for i, name := range names {
		cv := ch.Columns[name]
		sets[i] = catalog.QuoteIdent(name) + " = " + castExpr(cv.Type)
		args = append(args, bindValue(cv))
	}
	where, whereArgs := keyPredicate(ch)
	args = append(args, whereArgs...)
	return &Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			catalog.QuoteIdent(ch.TableName), strings.Join(sets, ", "), where),
		Args: args,
	}
}

func buildDelete(ch *record.Change) *Statement {
	where, args := keyPredicate(ch)
	return &Statement{
		SQL: fmt.Sprintf("DELETE FROM %s WHERE %s",
			catalog.QuoteIdent(ch.TableName), where),
		Args: args,
	}
}

func keyPredicate(ch *record.Change) (string, []any) {
	names := ch.KeyColumns()
	preds := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		preds[i] = catalog.QuoteIdent(name) + " = ?"
		args[i] = ch.Key[name]
	}
	return strings.Join(preds, " AND "), args
}

// castExpr wraps a placeholder in a cast to the recorded type descriptor.
// Untyped columns bind directly.
func castExpr(typeDesc string) string {
	if typeDesc == "" {
		return "?"
	}
	return "CAST(? AS " + typeDesc + ")"
}

func bindValue(cv record.ColumnValue) any {
	if cv.Value == nil {
		return nil
	}
	return *cv.Value
}

// Execer is the statement-execution surface replay needs.
type Execer interface {
	catalog.Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Replayer fetches change records and applies them to the target database.
type Replayer struct {
	db    Execer
	log   *capture.Log
	cache *catalog.Cache
}

// NewReplayer returns a Replayer over the given database handle.
func NewReplayer(db Execer, cache *catalog.Cache) *Replayer {
	return &Replayer{db: db, log: capture.NewLog(db), cache: cache}
}

// Replay re-applies the change record with the given id from this database's
// own change log.
func (r *Replayer) Replay(ctx context.Context, id int64) error {
	ch, err := r.log.Record(ctx, id)
	if err != nil {
		return err
	}
	return r.Apply(ctx, ch)
}

// Apply re-applies an already-fetched change record, which may come from
// another database's log. The record's column set is checked against the
// target relation's current schema first; a divergence is a MismatchError,
// never a partial apply.
func (r *Replayer) Apply(ctx context.Context, ch *record.Change) error {
	if err := r.check(ctx, ch); err != nil {
		return err
	}
	stmt, err := Build(ch)
	if err != nil {
		return err
	}
	if stmt == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return fmt.Errorf("replay record %d on %s: %w", ch.ID, ch.TableName, err)
	}
	return nil
}

// check verifies every recorded column still exists on the target relation.
func (r *Replayer) check(ctx context.Context, ch *record.Change) error {
	desc, err := r.cache.Describe(ctx, ch.TableName)
	if err != nil {
		var notFound *catalog.NotFoundError
		if errors.As(err, &notFound) {
			return &MismatchError{RecordID: ch.ID, Relation: ch.TableName,
				Reason: "target relation does not exist"}
		}
		return fmt.Errorf("replay record %d: %w", ch.ID, err)
	}
	for _, name := range ch.KeyColumns() {
		if desc.Column(name) == nil {
			return &MismatchError{RecordID: ch.ID, Relation: ch.TableName,
				Reason: fmt.Sprintf("key column %q missing from target", name)}
		}
	}
	for _, name := range ch.ColumnNames() {
		if desc.Column(name) == nil {
			return &MismatchError{RecordID: ch.ID, Relation: ch.TableName,
				Reason: fmt.Sprintf("column %q missing from target", name)}
		}
	}
	return nil
}
