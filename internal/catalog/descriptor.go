package catalog

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// BookkeepingPrefix is the reserved namespace for dbranch's own tables and
// triggers inside a tracked database. Relations under this prefix are never
// captured, audited as user objects, or listed as user relations.
const BookkeepingPrefix = "dbr_"

// IsBookkeeping reports whether name belongs to the dbranch namespace.
func IsBookkeeping(name string) bool {
	return strings.HasPrefix(name, BookkeepingPrefix)
}

// Column describes one non-dropped column of a relation.
type Column struct {
	Name    string
	Type    TypeDescriptor
	NotNull bool

	// Default is the default expression text, empty if none.
	Default string

	// Collation is the non-default collation name, empty for the default.
	Collation string

	// Generated is the generation expression for generated columns, with
	// GeneratedStored distinguishing STORED from VIRTUAL.
	Generated       string
	GeneratedStored bool

	// PKOrdinal is the column's 1-based position within the primary key,
	// zero when the column is not part of the key.
	PKOrdinal int
}

// CheckConstraint is a table-level check constraint as formatted by the
// engine. Name is empty for unnamed constraints.
type CheckConstraint struct {
	Name string
	Expr string
}

// UniqueConstraint is a table-level unique constraint, identified by its
// supporting index.
type UniqueConstraint struct {
	IndexName string
	Columns   []string
}

// ForeignKey is one foreign-key constraint.
type ForeignKey struct {
	Table      string
	Columns    []string
	RefColumns []string
	OnUpdate   string
	OnDelete   string
}

// Table is the schema descriptor for one relation: everything capture,
// rendering, and replay need, derived purely from catalog state.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	Uniques     []UniqueConstraint
	Checks      []CheckConstraint
	ForeignKeys []ForeignKey

	// Autoincrement marks a single-column integer key whose values are
	// engine-assigned and never reused (the identity-column mode SQLite has).
	Autoincrement bool

	// Storage options.
	WithoutRowid bool
	Strict       bool
}

// HasPrimaryKey reports whether the relation declares a primary key.
// Capture requires one; its absence is a precondition failure.
func (t *Table) HasPrimaryKey() bool {
	return len(t.PrimaryKey) > 0
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// CanonicalName returns the NFC-normalized form of an identifier. All
// identifiers are normalized before being compared, quoted, or written into
// log records so that byte-distinct spellings of the same name collapse.
func CanonicalName(name string) string {
	return norm.NFC.String(name)
}

// QuoteIdent quotes an identifier for safe embedding in SQL text.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(CanonicalName(name), `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal for safe embedding in SQL text.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
