package capture

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dbranch/dbranch/internal/catalog"
)

// DB is the database surface the installer needs. *sql.DB satisfies it.
type DB interface {
	catalog.Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Skipped describes a relation the install pass excluded, with the
// precondition failure that excluded it.
type Skipped struct {
	Relation string
	Err      error
}

// Result reports what an install pass did.
type Result struct {
	// Installed is true when any installation action was performed; false
	// when everything was already present.
	Installed bool

	// Skipped lists relations excluded by precondition failures. Excluding
	// one relation does not abort the pass.
	Skipped []Skipped
}

// Installer ensures change capture is present on a database.
type Installer struct {
	db        DB
	inspector *catalog.Inspector
	cache     *catalog.Cache
}

// NewInstaller returns an Installer over the given database handle.
func NewInstaller(db DB, cache *catalog.Cache) *Installer {
	return &Installer{
		db:        db,
		inspector: catalog.NewInspector(db),
		cache:     cache,
	}
}

// Ensure makes capture installed on every qualifying relation. Idempotent:
// re-checking and re-creating a trigger is always safe, and a second pass on
// an already-covered database performs no actions.
func (ins *Installer) Ensure(ctx context.Context) (Result, error) {
	var res Result

	created, err := ins.ensureLogTable(ctx)
	if err != nil {
		return res, err
	}
	res.Installed = created

	if err := ins.removeStrayTriggers(ctx); err != nil {
		return res, err
	}

	tables, err := ins.inspector.Tables(ctx)
	if err != nil {
		return res, fmt.Errorf("capture install: %w", err)
	}
	for _, table := range tables {
		installed, err := ins.ensureRelation(ctx, table)
		if err != nil {
			if IsPrecondition(err) {
				res.Skipped = append(res.Skipped, Skipped{Relation: table, Err: err})
				continue
			}
			return res, err
		}
		if installed {
			res.Installed = true
		}
	}
	return res, nil
}

// ensureRelation installs the capture triggers for one relation, reporting
// whether anything was created.
func (ins *Installer) ensureRelation(ctx context.Context, table string) (bool, error) {
	desc, err := ins.cache.Describe(ctx, table)
	if err != nil {
		return false, fmt.Errorf("capture install %s: %w", table, err)
	}
	if !desc.HasPrimaryKey() {
		return false, &PreconditionError{Relation: table, Reason: "relation has no primary key"}
	}

	names := TriggerNames(table)
	stmts := TriggerSQL(desc)
	installed := false
	for i, name := range names {
		exists, err := ins.triggerExists(ctx, name)
		if err != nil {
			return installed, err
		}
		if exists {
			continue
		}
		if _, err := ins.db.ExecContext(ctx, stmts[i]); err != nil {
			return installed, fmt.Errorf("capture install %s: create trigger %s: %w", table, name, err)
		}
		installed = true
	}
	return installed, nil
}

// ensureLogTable creates the change log if absent.
func (ins *Installer) ensureLogTable(ctx context.Context) (bool, error) {
	exists, err := ins.tableExists(ctx, LogTable)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := ins.db.ExecContext(ctx, logTableDDL); err != nil {
		return false, fmt.Errorf("capture install: create log table: %w", err)
	}
	return true, nil
}

// removeStrayTriggers drops any capture trigger that ended up on a
// bookkeeping relation, so the log never captures itself.
func (ins *Installer) removeStrayTriggers(ctx context.Context) error {
	rows, err := ins.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'trigger'
		  AND name LIKE ?
		  AND tbl_name LIKE ?
	`, catalog.BookkeepingPrefix+"%", catalog.BookkeepingPrefix+"%")
	if err != nil {
		return fmt.Errorf("capture install: list stray triggers: %w", err)
	}
	defer rows.Close()

	var stray []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("capture install: scan stray trigger: %w", err)
		}
		stray = append(stray, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("capture install: iterate stray triggers: %w", err)
	}

	for _, name := range stray {
		if _, err := ins.db.ExecContext(ctx, "DROP TRIGGER IF EXISTS "+catalog.QuoteIdent(name)); err != nil {
			return fmt.Errorf("capture install: drop stray trigger %s: %w", name, err)
		}
	}
	return nil
}

func (ins *Installer) triggerExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := ins.db.QueryRowContext(ctx, `
		SELECT 1 FROM sqlite_master WHERE type = 'trigger' AND name = ?
	`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("capture install: check trigger %s: %w", name, err)
	}
	return true, nil
}

func (ins *Installer) tableExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := ins.db.QueryRowContext(ctx, `
		SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?
	`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("capture install: check table %s: %w", name, err)
	}
	return true, nil
}
