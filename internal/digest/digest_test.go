package digest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "digest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *sql.DB, rows int) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT, balance NUMERIC(10,2))`)
	require.NoError(t, err)
	for i := 1; i <= rows; i++ {
		_, err := db.Exec(`INSERT INTO accounts (id, name, balance) VALUES (?, ?, ?)`,
			i, fmt.Sprintf("name-%d", i), float64(i)+0.5)
		require.NoError(t, err)
	}
}

func TestDigestDeterministic(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seed(t, db, 10)

	d := New(db)
	first, err := d.Digest(ctx, "accounts", 100)
	require.NoError(t, err)
	second, err := d.Digest(ctx, "accounts", 100)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 64)
}

func TestDigestBatchSizeInvariant(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seed(t, db, 25)

	d := New(db)
	whole, err := d.Digest(ctx, "accounts", 1000)
	require.NoError(t, err)
	paged, err := d.Digest(ctx, "accounts", 3)
	require.NoError(t, err)
	require.Equal(t, whole, paged, "batch size must not change the digest")
}

func TestDigestSeesChanges(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seed(t, db, 5)

	d := New(db)
	before, err := d.Digest(ctx, "accounts", 100)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE accounts SET balance = 0 WHERE id = 3`)
	require.NoError(t, err)

	after, err := d.Digest(ctx, "accounts", 100)
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestDigestEmptyTable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seed(t, db, 0)

	sum, err := New(db).Digest(ctx, "accounts", 100)
	require.NoError(t, err)
	require.Len(t, sum, 64)
}

func TestDigestCompositeKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Exec(`CREATE TABLE pairs (a TEXT NOT NULL, b TEXT NOT NULL, v INTEGER, PRIMARY KEY (a, b))`)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := db.Exec(`INSERT INTO pairs (a, b, v) VALUES (?, ?, ?)`,
			fmt.Sprintf("a%d", i%3), fmt.Sprintf("b%d", i), i)
		require.NoError(t, err)
	}

	d := New(db)
	whole, err := d.Digest(ctx, "pairs", 100)
	require.NoError(t, err)
	paged, err := d.Digest(ctx, "pairs", 2)
	require.NoError(t, err)
	require.Equal(t, whole, paged)
}

func TestDigestRequiresPrimaryKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Exec(`CREATE TABLE keyless (x INTEGER)`)
	require.NoError(t, err)

	_, err = New(db).Digest(ctx, "keyless", 100)
	require.Error(t, err)
	require.ErrorContains(t, err, "primary key")
}
