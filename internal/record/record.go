// Package record defines the immutable log record types shared by the
// capture, audit, and replay engines: one Change per captured row mutation
// and one DDL per captured schema-change event.
package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Op is the kind of a captured row mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Valid reports whether op is one of the three capture kinds.
func (op Op) Valid() bool {
	return op == OpInsert || op == OpUpdate || op == OpDelete
}

// ColumnValue is one captured column value: its textual form plus the type
// descriptor needed to cast it back losslessly. Value is nil for SQL NULL.
type ColumnValue struct {
	Type  string  `json:"t"`
	Value *string `json:"v"`
}

// Change is one captured row mutation. Created once per row event, immutable
// thereafter.
//
// Key maps primary-key column names to their captured values and is always
// non-empty (capture is only installed on relations with a primary key).
// Columns holds every column for inserts, exactly the changed columns for
// updates, and nothing for deletes.
type Change struct {
	ID        int64
	TableName string
	Op        Op
	Key       map[string]any
	Columns   map[string]ColumnValue
	TxID      int64
	ChangedAt time.Time
}

// ColumnNames returns the captured column names in sorted order, so that
// statement construction from a record is deterministic.
func (c *Change) ColumnNames() []string {
	names := make([]string, 0, len(c.Columns))
	for name := range c.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KeyColumns returns the key column names in sorted order.
func (c *Change) KeyColumns() []string {
	names := make([]string, 0, len(c.Key))
	for name := range c.Key {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeKey parses the JSON key payload of a change row.
func DecodeKey(raw string) (map[string]any, error) {
	var key map[string]any
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return nil, fmt.Errorf("decode change key: %w", err)
	}
	return key, nil
}

// DecodeColumns parses the JSON columns payload of a change row.
func DecodeColumns(raw string) (map[string]ColumnValue, error) {
	if raw == "" {
		return map[string]ColumnValue{}, nil
	}
	var cols map[string]ColumnValue
	if err := json.Unmarshal([]byte(raw), &cols); err != nil {
		return nil, fmt.Errorf("decode change columns: %w", err)
	}
	return cols, nil
}

// Phase marks whether a DDL record was written before or after its command
// executed.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
)

// DDL is one captured schema-change event. Start and end records for the same
// command are independent rows ordered by id, not a parent/child pair.
type DDL struct {
	ID             int64
	LoggedAt       time.Time
	Username       string
	Database       string
	TxID           int64
	CommandTag     string
	ObjectType     string
	SchemaName     string
	ObjectIdentity string
	Phase          Phase

	// SQLText is the raw issued statement, best-effort.
	SQLText *string

	// PreDefinition is the object's definition before the command (start
	// records only); PostDefinition the definition after (end records only).
	PreDefinition  *string
	PostDefinition *string
}
