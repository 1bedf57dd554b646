package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeDescriptor is a (base type, precision/scale/length modifier) pair
// sufficient to re-cast a textual value losslessly, even against a different
// server instance.
type TypeDescriptor struct {
	// Base is the lower-cased base type name, e.g. "numeric", "varchar".
	Base string

	// Length is the length modifier for character types (varchar(100)).
	// Zero means no length modifier.
	Length int

	// Precision and Scale are the modifiers for numeric types.
	// Precision zero means no precision modifier; HasScale distinguishes
	// numeric(10) from numeric(10,0).
	Precision int
	Scale     int
	HasScale  bool
}

// characterBases are the base types whose single modifier is a length,
// not a precision.
var characterBases = map[string]bool{
	"varchar":           true,
	"character varying": true,
	"char":              true,
	"character":         true,
	"nchar":             true,
	"nvarchar":          true,
	"text":              true,
	"clob":              true,
	"blob":              true,
}

// ParseType parses a declared column type such as "NUMERIC(10,2)",
// "VARCHAR(100)" or "INTEGER" into a TypeDescriptor. An empty declared type
// (legal in SQLite) yields a descriptor with an empty base and no modifiers.
func ParseType(declared string) TypeDescriptor {
	s := strings.TrimSpace(declared)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return TypeDescriptor{Base: strings.ToLower(strings.Join(strings.Fields(s), " "))}
	}

	base := strings.ToLower(strings.Join(strings.Fields(s[:open]), " "))
	desc := TypeDescriptor{Base: base}

	close := strings.LastIndexByte(s, ')')
	if close <= open {
		return desc
	}
	mods := strings.Split(s[open+1:close], ",")
	first, err := strconv.Atoi(strings.TrimSpace(mods[0]))
	if err != nil {
		return desc
	}
	switch {
	case len(mods) >= 2:
		second, err := strconv.Atoi(strings.TrimSpace(mods[1]))
		if err != nil {
			return desc
		}
		desc.Precision = first
		desc.Scale = second
		desc.HasScale = true
	case characterBases[base]:
		desc.Length = first
	default:
		desc.Precision = first
	}
	return desc
}

// String renders the canonical textual form of the descriptor, the form
// recorded alongside each captured value and used in replay casts.
func (d TypeDescriptor) String() string {
	switch {
	case d.HasScale:
		return fmt.Sprintf("%s(%d,%d)", d.Base, d.Precision, d.Scale)
	case d.Precision > 0:
		return fmt.Sprintf("%s(%d)", d.Base, d.Precision)
	case d.Length > 0:
		return fmt.Sprintf("%s(%d)", d.Base, d.Length)
	default:
		return d.Base
	}
}

// IsEmpty reports whether the column was declared without a type.
func (d TypeDescriptor) IsEmpty() bool {
	return d.Base == ""
}
