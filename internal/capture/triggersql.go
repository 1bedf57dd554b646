package capture

import (
	"fmt"
	"strings"

	"github.com/dbranch/dbranch/internal/catalog"
)

// LogTable is the append-only change log inside each tracked database.
const LogTable = catalog.BookkeepingPrefix + "change_log"

// logTableDDL creates the change log. Append-only: rows are never updated,
// so concurrent writers reduce to ordinary insert concurrency.
const logTableDDL = `
CREATE TABLE IF NOT EXISTS ` + LogTable + ` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT NOT NULL,
	op TEXT NOT NULL CHECK (op IN ('insert','update','delete')),
	"key" TEXT NOT NULL,
	columns TEXT NOT NULL DEFAULT '{}',
	txid INTEGER NOT NULL DEFAULT 0,
	changed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
)`

// TriggerNames returns the three capture trigger names for a relation.
func TriggerNames(table string) [3]string {
	base := catalog.BookkeepingPrefix + sanitizeName(table)
	return [3]string{base + "_ins", base + "_upd", base + "_del"}
}

// sanitizeName converts a relation name into a safe trigger-name fragment.
func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range catalog.CanonicalName(name) {
		switch r {
		case '.', '-', ' ', '"':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// TriggerSQL generates the three capture triggers for a relation, a pure
// function of its schema descriptor. The caller has already verified the
// relation has a primary key.
func TriggerSQL(t *catalog.Table) [3]string {
	names := TriggerNames(t.Name)
	rel := catalog.QuoteIdent(t.Name)
	relLit := catalog.QuoteLiteral(catalog.CanonicalName(t.Name))

	insert := fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s FOR EACH ROW
BEGIN
	INSERT INTO %s (table_name, op, "key", columns, txid)
	VALUES (%s, 'insert', %s, %s, dbr_txid());
END`,
		catalog.QuoteIdent(names[0]), rel, LogTable, relLit,
		keyExpr(t, "NEW"), insertColumnsExpr(t))

	update := fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s FOR EACH ROW
WHEN %s
BEGIN
	INSERT INTO %s (table_name, op, "key", columns, txid)
	VALUES (%s, 'update', %s, %s, dbr_txid());
END`,
		catalog.QuoteIdent(names[1]), rel,
		anyChangedExpr(t), LogTable, relLit,
		keyExpr(t, "NEW"), changedColumnsExpr(t))

	del := fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER DELETE ON %s FOR EACH ROW
BEGIN
	INSERT INTO %s (table_name, op, "key", columns, txid)
	VALUES (%s, 'delete', %s, '{}', dbr_txid());
END`,
		catalog.QuoteIdent(names[2]), rel, LogTable, relLit,
		keyExpr(t, "OLD"))

	return [3]string{insert, update, del}
}

// keyExpr builds the JSON object of primary-key values from the NEW or OLD
// row image. Updates key on NEW: primary keys are mutable and the new image
// identifies the row after the event.
func keyExpr(t *catalog.Table, image string) string {
	var args []string
	for _, name := range t.PrimaryKey {
		args = append(args,
			catalog.QuoteLiteral(catalog.CanonicalName(name)),
			image+"."+catalog.QuoteIdent(name))
	}
	return "json_object(" + strings.Join(args, ", ") + ")"
}

// capturedColumns returns the columns recorded by capture: every non-dropped
// column except generated ones, whose values are derivable from the rest.
func capturedColumns(t *catalog.Table) []catalog.Column {
	cols := make([]catalog.Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Generated != "" {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// valueExpr is one captured column value: the type descriptor plus the
// textual form, NULL-preserving.
func valueExpr(c catalog.Column, image string) string {
	return fmt.Sprintf("json_object('t', %s, 'v', CAST(%s.%s AS TEXT))",
		catalog.QuoteLiteral(c.Type.String()), image, catalog.QuoteIdent(c.Name))
}

// insertColumnsExpr builds the full column payload for an insert.
func insertColumnsExpr(t *catalog.Table) string {
	var args []string
	for _, c := range capturedColumns(t) {
		args = append(args,
			catalog.QuoteLiteral(catalog.CanonicalName(c.Name)),
			valueExpr(c, "NEW"))
	}
	return "json_object(" + strings.Join(args, ", ") + ")"
}

// anyChangedExpr is the update trigger's WHEN clause: IS NOT comparison per
// column, so NULL transitions count as changes and no-op updates never log.
func anyChangedExpr(t *catalog.Table) string {
	var parts []string
	for _, c := range capturedColumns(t) {
		q := catalog.QuoteIdent(c.Name)
		parts = append(parts, fmt.Sprintf("NEW.%s IS NOT OLD.%s", q, q))
	}
	return strings.Join(parts, " OR ")
}

// changedColumnsExpr builds the update payload holding exactly the changed
// columns. Each column contributes a ",<key>:<value>" fragment when its new
// value is distinct from the old; the fragments concatenate into one JSON
// object. Primary-key columns get no special treatment.
func changedColumnsExpr(t *catalog.Table) string {
	var parts []string
	for _, c := range capturedColumns(t) {
		q := catalog.QuoteIdent(c.Name)
		fragment := fmt.Sprintf("',' || %s || %s",
			jsonKeyLiteral(c.Name), valueExpr(c, "NEW"))
		parts = append(parts, fmt.Sprintf("CASE WHEN NEW.%s IS NOT OLD.%s THEN %s ELSE '' END", q, q, fragment))
	}
	return "('{' || substr(" + strings.Join(parts, " || ") + ", 2) || '}')"
}

// jsonKeyLiteral renders a SQL string literal holding the JSON-quoted form
// of a column name.
func jsonKeyLiteral(name string) string {
	name = catalog.CanonicalName(name)
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range name {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return catalog.QuoteLiteral(b.String() + ":")
}
