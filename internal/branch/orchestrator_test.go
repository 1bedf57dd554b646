package branch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbranch/dbranch/internal/branch"
	"github.com/dbranch/dbranch/internal/capture"
	"github.com/dbranch/dbranch/internal/meta"
	"github.com/dbranch/dbranch/internal/session"
)

type failingCloner struct{}

func (failingCloner) Clone(ctx context.Context, sourcePath, targetPath string) error {
	return errors.New("storage backend unavailable")
}

type world struct {
	dataDir string
	store   *meta.Store
	orch    *branch.Orchestrator
}

func newWorld(t *testing.T) *world {
	t.Helper()
	dataDir := t.TempDir()
	store, err := meta.Open(filepath.Join(dataDir, meta.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &world{
		dataDir: dataDir,
		store:   store,
		orch:    branch.New(store, dataDir, &branch.FileCloner{}),
	}
}

// seedSource creates a database in the data dir with an accounts table holding
// one row (1, 'a', 12.50).
func (w *world) seedSource(t *testing.T, name string) {
	t.Helper()
	ctx := context.Background()
	s, err := session.Open(w.orch.PathFor(name))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Exec(ctx, `CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT, balance NUMERIC(10,2))`)
	require.NoError(t, err)
	_, err = s.Exec(ctx, `INSERT INTO accounts (id, name, balance) VALUES (1, 'a', 10.00)`)
	require.NoError(t, err)
	_, err = s.Exec(ctx, `UPDATE accounts SET balance = 12.50 WHERE id = 1`)
	require.NoError(t, err)
}

func changeCount(t *testing.T, path string) int {
	t.Helper()
	ctx := context.Background()
	s, err := session.Open(path)
	require.NoError(t, err)
	defer s.Close()
	changes, err := capture.NewLog(s.DB()).Records(ctx, "accounts", 0)
	require.NoError(t, err)
	return len(changes)
}

func TestBranchClonesAndRegistersLineage(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")

	op, err := w.orch.Branch(ctx, "main", "feature")
	require.NoError(t, err)
	require.Equal(t, meta.StatusSucceeded, op.Status)
	require.Equal(t, branch.KindBranch, op.Kind)
	require.Equal(t, "feature", op.DatabaseName)
	require.NotNil(t, op.NewOID)

	// The clone carries the source's committed state.
	s, err := session.Open(w.orch.PathFor("feature"))
	require.NoError(t, err)
	defer s.Close()
	var (
		name    string
		balance float64
	)
	err = s.QueryRow(ctx, `SELECT name, balance FROM accounts WHERE id = 1`).Scan(&name, &balance)
	require.NoError(t, err)
	require.Equal(t, "a", name)
	require.InDelta(t, 12.50, balance, 0.001)

	// Lineage: main is a root, feature hangs off it.
	root, err := w.store.DatabaseByName(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, branch.OriginRoot, root.Origin)
	clone, err := w.store.DatabaseByName(ctx, "feature")
	require.NoError(t, err)
	require.Equal(t, branch.OriginBranch, clone.Origin)
	require.NotNil(t, clone.ParentOID)
	require.Equal(t, root.OID, *clone.ParentOID)
}

func TestBranchWritesDivergeIndependently(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")

	_, err := w.orch.Branch(ctx, "main", "feature")
	require.NoError(t, err)

	sourceBefore := changeCount(t, w.orch.PathFor("main"))
	cloneBefore := changeCount(t, w.orch.PathFor("feature"))

	s, err := session.Open(w.orch.PathFor("feature"))
	require.NoError(t, err)
	_, err = s.Exec(ctx, `UPDATE accounts SET balance = 99 WHERE id = 1`)
	require.NoError(t, err)
	s.Close()

	require.Equal(t, cloneBefore+1, changeCount(t, w.orch.PathFor("feature")),
		"capture fires on the clone")
	require.Equal(t, sourceBefore, changeCount(t, w.orch.PathFor("main")),
		"the source does not see the clone's writes")

	var balance float64
	src, err := session.Open(w.orch.PathFor("main"))
	require.NoError(t, err)
	defer src.Close()
	err = src.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = 1`).Scan(&balance)
	require.NoError(t, err)
	require.InDelta(t, 12.50, balance, 0.001)
}

func TestBranchFailureLeavesNoTrackedRow(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")
	w.orch = branch.New(w.store, w.dataDir, failingCloner{})

	op, err := w.orch.Branch(ctx, "main", "feature")
	require.Error(t, err)
	require.NotNil(t, op)
	require.Equal(t, meta.StatusFailed, op.Status)
	require.NotNil(t, op.Error)
	require.Contains(t, *op.Error, "storage backend unavailable")
	require.Nil(t, op.NewOID)

	_, err = w.store.DatabaseByName(ctx, "feature")
	require.Error(t, err, "a failed clone must not be tracked")
	_, statErr := os.Stat(w.orch.PathFor("feature"))
	require.True(t, os.IsNotExist(statErr))
}

// corruptCloner produces a target that is not a database, plus a stale
// journal sidecar, so capture installation on the clone fails.
type corruptCloner struct{}

func (corruptCloner) Clone(ctx context.Context, sourcePath, targetPath string) error {
	if err := os.WriteFile(targetPath, []byte("not a database"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(targetPath+"-wal", []byte("stale"), 0o644)
}

func TestBranchFailedInstallRemovesCloneStorage(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")
	w.orch = branch.New(w.store, w.dataDir, corruptCloner{})

	op, err := w.orch.Branch(ctx, "main", "feature")
	require.Error(t, err)
	require.Equal(t, meta.StatusFailed, op.Status)

	for _, suffix := range []string{"", "-wal", "-shm"} {
		_, statErr := os.Stat(w.orch.PathFor("feature") + suffix)
		require.True(t, os.IsNotExist(statErr),
			"failed install must remove the clone and its sidecars")
	}
}

func TestBranchUnknownSource(t *testing.T) {
	w := newWorld(t)
	_, err := w.orch.Branch(context.Background(), "absent", "feature")
	require.Error(t, err)
}

func TestSnapshotNamingAndOrigin(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")

	op, err := w.orch.Snapshot(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, meta.StatusSucceeded, op.Status)
	require.True(t, strings.HasPrefix(op.DatabaseName, "snapshot_main_"))

	snap, err := w.store.DatabaseByName(ctx, op.DatabaseName)
	require.NoError(t, err)
	require.Equal(t, branch.OriginSnapshot, snap.Origin)

	_, err = os.Stat(w.orch.PathFor(op.DatabaseName))
	require.NoError(t, err)
}

func TestRestoreFromSnapshot(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")

	snapOp, err := w.orch.Snapshot(ctx, "main")
	require.NoError(t, err)

	op, err := w.orch.Restore(ctx, snapOp.DatabaseName, "restored")
	require.NoError(t, err)
	require.Equal(t, meta.StatusSucceeded, op.Status)
	require.Equal(t, branch.KindRestore, op.Kind)

	restored, err := w.store.DatabaseByName(ctx, "restored")
	require.NoError(t, err)
	require.Equal(t, branch.OriginRestore, restored.Origin)

	s, err := session.Open(w.orch.PathFor("restored"))
	require.NoError(t, err)
	defer s.Close()
	var balance float64
	err = s.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = 1`).Scan(&balance)
	require.NoError(t, err)
	require.InDelta(t, 12.50, balance, 0.001)
}

func TestRestoreRefusesTargetWithChildren(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")

	snapOp, err := w.orch.Snapshot(ctx, "main")
	require.NoError(t, err)

	// main now has the snapshot as a tracked child.
	op, err := w.orch.Restore(ctx, snapOp.DatabaseName, "main")
	require.Error(t, err)
	require.ErrorContains(t, err, "tracked children")
	require.Equal(t, meta.StatusFailed, op.Status)
}

func TestDeleteSnapshot(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")

	op, err := w.orch.Snapshot(ctx, "main")
	require.NoError(t, err)

	require.NoError(t, w.orch.DeleteSnapshot(ctx, op.DatabaseName))

	_, err = w.store.DatabaseByName(ctx, op.DatabaseName)
	require.Error(t, err)
	_, statErr := os.Stat(w.orch.PathFor(op.DatabaseName))
	require.True(t, os.IsNotExist(statErr))
}

func TestDeleteSnapshotRefusedWithChildren(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.seedSource(t, "main")

	op, err := w.orch.Snapshot(ctx, "main")
	require.NoError(t, err)
	_, err = w.orch.Branch(ctx, op.DatabaseName, "from_snap")
	require.NoError(t, err)

	err = w.orch.DeleteSnapshot(ctx, op.DatabaseName)
	require.Error(t, err)
	require.ErrorContains(t, err, "tracked children")
}
