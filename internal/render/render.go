// Package render turns a schema descriptor back into a syntactically
// complete CREATE TABLE statement. The output is a function of catalog
// state only, never of the statement text that originally created the
// relation, so two equivalent relations render identically.
package render

import (
	"strings"

	"github.com/dbranch/dbranch/internal/catalog"
)

// Table renders the CREATE TABLE statement for a descriptor. Constraint
// order is fixed: primary key, unique constraints by supporting-index
// name, checks, foreign keys. Storage options follow the column list.
func Table(t *catalog.Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(catalog.QuoteIdent(t.Name))
	b.WriteString(" (\n")

	var items []string
	inlineKey := t.Autoincrement && len(t.PrimaryKey) == 1
	for _, c := range t.Columns {
		items = append(items, "    "+columnDef(t, &c, inlineKey))
	}
	for _, c := range constraintDefs(t, inlineKey) {
		items = append(items, "    "+c)
	}
	b.WriteString(strings.Join(items, ",\n"))
	b.WriteString("\n)")

	var opts []string
	if t.Strict {
		opts = append(opts, "STRICT")
	}
	if t.WithoutRowid {
		opts = append(opts, "WITHOUT ROWID")
	}
	if len(opts) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(opts, ", "))
	}
	b.WriteString(";")
	return b.String()
}

func columnDef(t *catalog.Table, c *catalog.Column, inlineKey bool) string {
	parts := []string{catalog.QuoteIdent(c.Name)}
	if !c.Type.IsEmpty() {
		parts = append(parts, c.Type.String())
	}
	if inlineKey && len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == c.Name {
		parts = append(parts, "PRIMARY KEY AUTOINCREMENT")
	}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	if c.Collation != "" {
		parts = append(parts, "COLLATE "+c.Collation)
	}
	if c.Generated != "" && c.Generated != "?" {
		mode := "VIRTUAL"
		if c.GeneratedStored {
			mode = "STORED"
		}
		parts = append(parts, "GENERATED ALWAYS AS ("+c.Generated+") "+mode)
	}
	return strings.Join(parts, " ")
}

func constraintDefs(t *catalog.Table, inlineKey bool) []string {
	var defs []string
	if t.HasPrimaryKey() && !inlineKey {
		defs = append(defs, "PRIMARY KEY ("+identList(t.PrimaryKey)+")")
	}
	for _, u := range t.Uniques {
		defs = append(defs, "UNIQUE ("+identList(u.Columns)+")")
	}
	for _, c := range t.Checks {
		def := "CHECK (" + c.Expr + ")"
		if c.Name != "" {
			def = "CONSTRAINT " + catalog.QuoteIdent(c.Name) + " " + def
		}
		defs = append(defs, def)
	}
	for _, fk := range t.ForeignKeys {
		var b strings.Builder
		b.WriteString("FOREIGN KEY (")
		b.WriteString(identList(fk.Columns))
		b.WriteString(") REFERENCES ")
		b.WriteString(catalog.QuoteIdent(fk.Table))
		if len(fk.RefColumns) > 0 {
			b.WriteString(" (" + identList(fk.RefColumns) + ")")
		}
		if fk.OnUpdate != "" && fk.OnUpdate != "NO ACTION" {
			b.WriteString(" ON UPDATE " + fk.OnUpdate)
		}
		if fk.OnDelete != "" && fk.OnDelete != "NO ACTION" {
			b.WriteString(" ON DELETE " + fk.OnDelete)
		}
		defs = append(defs, b.String())
	}
	return defs
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = catalog.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
