// Package digest computes content-verification hashes over table data. The
// scan pages through rows in primary-key order with keyset batches, so it
// can run against data that is concurrently mutating; callers that expose it
// to SQL must register it as a non-deterministic function for the same
// reason.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dbranch/dbranch/internal/catalog"
)

// DefaultBatchSize is used when the caller passes a non-positive batch size.
const DefaultBatchSize = 1000

// Digester computes a verification digest for one table's contents.
type Digester interface {
	Digest(ctx context.Context, table string, batchSize int) (string, error)
}

// SHA256 is the keyset-scanning Digester.
type SHA256 struct {
	db catalog.Querier
}

// New returns a SHA256 digester over the given query surface.
func New(db catalog.Querier) *SHA256 {
	return &SHA256{db: db}
}

// Digest hashes every row of the table in primary-key order. Each row is
// serialized to a JSON array by the engine, so values hash identically
// regardless of which connection or instance reads them.
func (d *SHA256) Digest(ctx context.Context, table string, batchSize int) (string, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	desc, err := catalog.NewInspector(d.db).Describe(ctx, table)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", table, err)
	}
	if !desc.HasPrimaryKey() {
		return "", fmt.Errorf("digest %s: relation has no primary key", table)
	}

	h := sha256.New()
	if err := d.hashBatches(ctx, desc, batchSize, h); err != nil {
		return "", fmt.Errorf("digest %s: %w", table, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (d *SHA256) hashBatches(ctx context.Context, desc *catalog.Table, batchSize int, h interface{ Write([]byte) (int, error) }) error {
	var (
		cols    []string
		keyExpr = make([]string, len(desc.PrimaryKey))
	)
	for _, c := range desc.Columns {
		cols = append(cols, catalog.QuoteIdent(c.Name))
	}
	for i, k := range desc.PrimaryKey {
		keyExpr[i] = catalog.QuoteIdent(k)
	}

	base := fmt.Sprintf("SELECT json_array(%s), %s FROM %s",
		strings.Join(cols, ", "), strings.Join(keyExpr, ", "),
		catalog.QuoteIdent(desc.Name))
	order := " ORDER BY " + strings.Join(keyExpr, ", ") + " LIMIT ?"

	var lastKey []any
	for {
		query := base
		args := make([]any, 0, len(lastKey)+1)
		if lastKey != nil {
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(lastKey)), ", ")
			query += fmt.Sprintf(" WHERE (%s) > (%s)",
				strings.Join(keyExpr, ", "), placeholders)
			args = append(args, lastKey...)
		}
		query += order
		args = append(args, batchSize)

		n, key, err := d.hashBatch(ctx, query, args, len(keyExpr), h)
		if err != nil {
			return err
		}
		if n < batchSize {
			return nil
		}
		lastKey = key
	}
}

func (d *SHA256) hashBatch(ctx context.Context, query string, args []any, keyLen int, h interface{ Write([]byte) (int, error) }) (int, []any, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var (
		n       int
		lastKey []any
	)
	for rows.Next() {
		var rowJSON string
		key := make([]any, keyLen)
		dest := make([]any, 0, keyLen+1)
		dest = append(dest, &rowJSON)
		for i := range key {
			dest = append(dest, &key[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return n, nil, err
		}
		if _, err := h.Write(append([]byte(rowJSON), '\n')); err != nil {
			return n, nil, err
		}
		n++
		lastKey = key
	}
	if err := rows.Err(); err != nil {
		return n, nil, err
	}
	return n, lastKey, nil
}
