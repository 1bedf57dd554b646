package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbranch/dbranch/internal/session"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seedDatabase creates a database file in the data dir so commands can open it.
func seedDatabase(t *testing.T, dataDir, name string) {
	t.Helper()
	s, err := session.Open(filepath.Join(dataDir, name+".db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestVersionText(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	require.Equal(t, "dbranch dev\n", out)
}

func TestVersionJSON(t *testing.T) {
	out, err := runCommand(t, "--format", "json", "version")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "dev", data["version"])
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := runCommand(t, "--format", "xml", "version")
	require.Error(t, err)
	require.ErrorContains(t, err, "invalid format")
}

func TestDatabasesEmpty(t *testing.T) {
	out, err := runCommand(t, "databases", "--data-dir", t.TempDir())
	require.NoError(t, err)
	require.Contains(t, out, "No tracked databases.")
}

func TestUnknownDatabaseIsCommandError(t *testing.T) {
	_, err := runCommand(t, "exec", "absent", "SELECT 1", "--data-dir", t.TempDir())
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitCommandError, exitErr.Code)
}

func TestExecInstallLogFlow(t *testing.T) {
	dataDir := t.TempDir()
	seedDatabase(t, dataDir, "main")

	out, err := runCommand(t, "exec", "main",
		`CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT, balance NUMERIC(10,2))`,
		"--data-dir", dataDir)
	require.NoError(t, err)
	require.Contains(t, out, "ok")

	out, err = runCommand(t, "install", "main", "--data-dir", dataDir)
	require.NoError(t, err)
	require.Contains(t, out, "capture installed on main")

	out, err = runCommand(t, "install", "main", "--data-dir", dataDir)
	require.NoError(t, err)
	require.Contains(t, out, "capture already present on main")

	_, err = runCommand(t, "exec", "main",
		`INSERT INTO accounts (id, name, balance) VALUES (1, 'a', 12.50)`,
		"--data-dir", dataDir)
	require.NoError(t, err)

	out, err = runCommand(t, "log", "changes", "main", "--format", "json", "--data-dir", dataDir)
	require.NoError(t, err)
	var changes CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &changes))
	require.Equal(t, "ok", changes.Status)
	list, ok := changes.Data.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)

	out, err = runCommand(t, "log", "ddl", "main", "--format", "json", "--data-dir", dataDir)
	require.NoError(t, err)
	var ddl CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &ddl))
	recs, ok := ddl.Data.([]any)
	require.True(t, ok)
	require.Len(t, recs, 2, "create table produces start and end records")
}

func TestRenderCommand(t *testing.T) {
	dataDir := t.TempDir()
	seedDatabase(t, dataDir, "main")

	_, err := runCommand(t, "exec", "main",
		`CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT)`,
		"--data-dir", dataDir)
	require.NoError(t, err)

	out, err := runCommand(t, "render", "main", "accounts", "--data-dir", dataDir)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, `CREATE TABLE "accounts"`))
}

func TestDigestCommand(t *testing.T) {
	dataDir := t.TempDir()
	seedDatabase(t, dataDir, "main")

	_, err := runCommand(t, "exec", "main",
		`CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT)`,
		"--data-dir", dataDir)
	require.NoError(t, err)
	_, err = runCommand(t, "exec", "main",
		`INSERT INTO accounts (id, name) VALUES (1, 'a')`,
		"--data-dir", dataDir)
	require.NoError(t, err)

	out, err := runCommand(t, "digest", "main", "accounts", "--data-dir", dataDir)
	require.NoError(t, err)
	require.Len(t, strings.TrimSpace(out), 64)
}

func TestBranchCommand(t *testing.T) {
	dataDir := t.TempDir()
	seedDatabase(t, dataDir, "main")

	_, err := runCommand(t, "exec", "main",
		`CREATE TABLE accounts (id INTEGER PRIMARY KEY)`,
		"--data-dir", dataDir)
	require.NoError(t, err)

	out, err := runCommand(t, "branch", "main", "feature", "--data-dir", dataDir)
	require.NoError(t, err)
	require.Contains(t, out, "succeeded")

	out, err = runCommand(t, "databases", "--data-dir", dataDir)
	require.NoError(t, err)
	require.Contains(t, out, "main")
	require.Contains(t, out, "feature")
}

func TestBranchUnknownSourceExitCode(t *testing.T) {
	_, err := runCommand(t, "branch", "absent", "feature", "--data-dir", t.TempDir())
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitCommandError, exitErr.Code)
}

func TestGetExitCode(t *testing.T) {
	require.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	require.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad input")))
	require.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "operation failed")))
}
