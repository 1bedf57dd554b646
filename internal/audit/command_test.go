package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCreate(t *testing.T) {
	cmd, ok := Classify(`CREATE TABLE IF NOT EXISTS "accounts" (id INTEGER PRIMARY KEY)`)
	require.True(t, ok)
	assert.Equal(t, "CREATE", cmd.Verb)
	assert.Equal(t, "CREATE TABLE", cmd.Tag)
	assert.Equal(t, ObjectTable, cmd.ObjectType)
	assert.Equal(t, "accounts", cmd.Name)
	assert.Equal(t, "main.accounts", cmd.Identity())

	cmd, ok = Classify(`create unique index idx_email on accounts(email)`)
	require.True(t, ok)
	assert.Equal(t, "CREATE INDEX", cmd.Tag)
	assert.Equal(t, ObjectIndex, cmd.ObjectType)
	assert.Equal(t, "idx_email", cmd.Name)

	cmd, ok = Classify(`CREATE TEMP VIEW v AS SELECT 1`)
	require.True(t, ok)
	assert.Equal(t, "CREATE VIEW", cmd.Tag)
	assert.Equal(t, "v", cmd.Name)
}

func TestClassifyAlterRename(t *testing.T) {
	cmd, ok := Classify(`ALTER TABLE accounts RENAME TO ledgers`)
	require.True(t, ok)
	assert.Equal(t, "ALTER TABLE", cmd.Tag)
	assert.Equal(t, "accounts", cmd.Name)
	assert.Equal(t, "ledgers", cmd.RenameTo)

	cmd, ok = Classify(`ALTER TABLE accounts ADD COLUMN note TEXT`)
	require.True(t, ok)
	assert.Equal(t, "accounts", cmd.Name)
	assert.Empty(t, cmd.RenameTo)
}

func TestClassifyDrop(t *testing.T) {
	cmd, ok := Classify(`DROP TABLE IF EXISTS main."accounts"`)
	require.True(t, ok)
	assert.Equal(t, "DROP TABLE", cmd.Tag)
	assert.Equal(t, "accounts", cmd.Name)

	cmd, ok = Classify(`DROP VIEW v`)
	require.True(t, ok)
	assert.Equal(t, ObjectView, cmd.ObjectType)
}

func TestClassifyRewriteCommands(t *testing.T) {
	cmd, ok := Classify(`VACUUM`)
	require.True(t, ok)
	assert.Equal(t, "VACUUM", cmd.Tag)
	assert.True(t, cmd.Rewrites())
	assert.Empty(t, cmd.Name)

	cmd, ok = Classify(`REINDEX accounts`)
	require.True(t, ok)
	assert.Equal(t, "REINDEX", cmd.Tag)
	assert.True(t, cmd.Rewrites())
	assert.Equal(t, "accounts", cmd.Name)
}

func TestClassifyNonDDL(t *testing.T) {
	for _, stmt := range []string{
		`SELECT * FROM accounts`,
		`INSERT INTO accounts VALUES (1)`,
		`UPDATE accounts SET name = 'x'`,
		`DELETE FROM accounts`,
		``,
	} {
		_, ok := Classify(stmt)
		assert.False(t, ok, "statement %q must not classify as DDL", stmt)
	}
}
