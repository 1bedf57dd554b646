package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Querier is the read-only query surface the inspector needs. Both *sql.DB
// and *sql.Tx satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NotFoundError reports that a relation could not be resolved in the catalog.
type NotFoundError struct {
	Relation string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: relation %q not found", e.Relation)
}

// Inspector runs read-only metadata queries against a database.
type Inspector struct {
	db Querier
}

// NewInspector returns an Inspector over the given query surface.
func NewInspector(db Querier) *Inspector {
	return &Inspector{db: db}
}

// Tables lists user relations in name order, excluding the engine's internal
// tables and the dbranch bookkeeping namespace.
func (in *Inspector) Tables(ctx context.Context) ([]string, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		  AND name NOT LIKE ?
		ORDER BY name
	`, BookkeepingPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

// Describe builds the full schema descriptor for one relation from catalog
// state. It returns *NotFoundError when the relation does not exist.
func (in *Inspector) Describe(ctx context.Context, name string) (*Table, error) {
	name = CanonicalName(name)

	definition, err := in.storedDefinition(ctx, name)
	if err != nil {
		return nil, err
	}

	t := &Table{Name: name}
	if err := in.loadColumns(ctx, t); err != nil {
		return nil, err
	}
	if err := in.loadIndexes(ctx, t); err != nil {
		return nil, err
	}
	if err := in.loadForeignKeys(ctx, t); err != nil {
		return nil, err
	}
	applyStoredDefinition(t, definition)

	sort.Slice(t.Uniques, func(i, j int) bool {
		return t.Uniques[i].IndexName < t.Uniques[j].IndexName
	})
	return t, nil
}

// storedDefinition fetches the engine-stored normalized CREATE text, which is
// SQLite's own record of collations, generated expressions, check text, and
// storage options.
func (in *Inspector) storedDefinition(ctx context.Context, name string) (string, error) {
	var definition sql.NullString
	err := in.db.QueryRowContext(ctx, `
		SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?
	`, name).Scan(&definition)
	if err == sql.ErrNoRows {
		return "", &NotFoundError{Relation: name}
	}
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", name, err)
	}
	return definition.String, nil
}

func (in *Inspector) loadColumns(ctx context.Context, t *Table) error {
	rows, err := in.db.QueryContext(ctx, `
		SELECT name, type, "notnull", dflt_value, pk, hidden
		FROM pragma_table_xinfo(?)
		ORDER BY cid
	`, t.Name)
	if err != nil {
		return fmt.Errorf("describe %s: columns: %w", t.Name, err)
	}
	defer rows.Close()

	type pkCol struct {
		name    string
		ordinal int
	}
	var pk []pkCol
	for rows.Next() {
		var (
			col     Column
			typ     string
			notNull int
			dflt    sql.NullString
			pkOrd   int
			hidden  int
		)
		if err := rows.Scan(&col.Name, &typ, &notNull, &dflt, &pkOrd, &hidden); err != nil {
			return fmt.Errorf("describe %s: scan column: %w", t.Name, err)
		}
		if hidden == 1 {
			// Hidden columns of virtual tables are not part of the relation's
			// logical shape.
			continue
		}
		col.Type = ParseType(typ)
		col.NotNull = notNull != 0
		if dflt.Valid {
			col.Default = dflt.String
		}
		col.GeneratedStored = hidden == 3
		if hidden == 2 || hidden == 3 {
			// Expression text comes from the stored definition later; mark
			// the column as generated so rendering and capture can tell.
			col.Generated = "?"
		}
		col.PKOrdinal = pkOrd
		if pkOrd > 0 {
			pk = append(pk, pkCol{name: col.Name, ordinal: pkOrd})
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("describe %s: iterate columns: %w", t.Name, err)
	}
	if len(t.Columns) == 0 {
		return &NotFoundError{Relation: t.Name}
	}

	sort.Slice(pk, func(i, j int) bool { return pk[i].ordinal < pk[j].ordinal })
	for _, c := range pk {
		t.PrimaryKey = append(t.PrimaryKey, c.name)
	}
	return nil
}

func (in *Inspector) loadIndexes(ctx context.Context, t *Table) error {
	rows, err := in.db.QueryContext(ctx, `
		SELECT name, origin FROM pragma_index_list(?)
	`, t.Name)
	if err != nil {
		return fmt.Errorf("describe %s: indexes: %w", t.Name, err)
	}
	defer rows.Close()

	var uniqueIndexes []string
	for rows.Next() {
		var name, origin string
		if err := rows.Scan(&name, &origin); err != nil {
			return fmt.Errorf("describe %s: scan index: %w", t.Name, err)
		}
		// origin 'u' marks indexes created by UNIQUE table constraints;
		// 'pk' is the primary key (already loaded), 'c' a CREATE INDEX.
		if origin == "u" {
			uniqueIndexes = append(uniqueIndexes, name)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("describe %s: iterate indexes: %w", t.Name, err)
	}

	for _, idx := range uniqueIndexes {
		cols, err := in.indexColumns(ctx, idx)
		if err != nil {
			return fmt.Errorf("describe %s: %w", t.Name, err)
		}
		t.Uniques = append(t.Uniques, UniqueConstraint{IndexName: idx, Columns: cols})
	}
	return nil
}

func (in *Inspector) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT name FROM pragma_index_info(?) ORDER BY seqno
	`, index)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("index %s: scan: %w", index, err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index %s: iterate: %w", index, err)
	}
	return cols, nil
}

func (in *Inspector) loadForeignKeys(ctx context.Context, t *Table) error {
	rows, err := in.db.QueryContext(ctx, `
		SELECT id, "table", "from", "to", on_update, on_delete
		FROM pragma_foreign_key_list(?)
		ORDER BY id, seq
	`, t.Name)
	if err != nil {
		return fmt.Errorf("describe %s: foreign keys: %w", t.Name, err)
	}
	defer rows.Close()

	byID := map[int]*ForeignKey{}
	var order []int
	for rows.Next() {
		var (
			id                 int
			table, from        string
			to                 sql.NullString
			onUpdate, onDelete string
		)
		if err := rows.Scan(&id, &table, &from, &to, &onUpdate, &onDelete); err != nil {
			return fmt.Errorf("describe %s: scan foreign key: %w", t.Name, err)
		}
		fk := byID[id]
		if fk == nil {
			fk = &ForeignKey{Table: table, OnUpdate: onUpdate, OnDelete: onDelete}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		if to.Valid {
			fk.RefColumns = append(fk.RefColumns, to.String)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("describe %s: iterate foreign keys: %w", t.Name, err)
	}

	sort.Ints(order)
	for _, id := range order {
		t.ForeignKeys = append(t.ForeignKeys, *byID[id])
	}
	return nil
}

// applyStoredDefinition fills in the descriptor parts only present in the
// engine-stored definition text.
func applyStoredDefinition(t *Table, definition string) {
	upper := strings.ToUpper(definition)
	t.WithoutRowid = strings.Contains(upper, "WITHOUT ROWID")
	t.Strict = tableOptionPresent(upper, "STRICT")
	t.Autoincrement = len(t.PrimaryKey) == 1 && strings.Contains(upper, "AUTOINCREMENT")
	parseDefinitionBody(t, definition)
}

// tableOptionPresent checks for a table option keyword after the closing
// paren of the column list.
func tableOptionPresent(upperDefinition, option string) bool {
	tail := upperDefinition
	if i := strings.LastIndexByte(upperDefinition, ')'); i >= 0 {
		tail = upperDefinition[i+1:]
	}
	for _, part := range strings.Split(tail, ",") {
		if strings.TrimSpace(part) == option {
			return true
		}
	}
	return false
}
