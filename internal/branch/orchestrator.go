// Package branch is the top-level state machine for cloning databases. A
// branch ensures capture is installed on the source, clones storage, fixes
// ownership, installs capture on the clone, and records the operation's
// lineage and outcome in the metadata store.
package branch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dbranch/dbranch/internal/meta"
	"github.com/dbranch/dbranch/internal/session"
)

// Operation kinds recorded in the metadata store.
const (
	KindBranch   = "branch"
	KindSnapshot = "snapshot"
	KindRestore  = "restore"
)

// Origin tags for tracked databases.
const (
	OriginRoot     = "root"
	OriginBranch   = "branch"
	OriginSnapshot = "snapshot"
	OriginRestore  = "restore"
)

// Orchestrator drives branch, snapshot, and restore operations.
type Orchestrator struct {
	store   *meta.Store
	dataDir string
	cloner  Cloner
}

// New returns an Orchestrator over the given metadata store and data
// directory.
func New(store *meta.Store, dataDir string, cloner Cloner) *Orchestrator {
	return &Orchestrator{store: store, dataDir: dataDir, cloner: cloner}
}

// PathFor is the storage path of a named database.
func (o *Orchestrator) PathFor(name string) string {
	return filepath.Join(o.dataDir, name+".db")
}

// Branch clones sourceName into an independently writable targetName.
func (o *Orchestrator) Branch(ctx context.Context, sourceName, targetName string) (*meta.Operation, error) {
	return o.clone(ctx, sourceName, targetName, KindBranch, OriginBranch)
}

// Snapshot clones sourceName under a generated snapshot name and returns the
// operation; the snapshot's name is the operation's database name.
func (o *Orchestrator) Snapshot(ctx context.Context, sourceName string) (*meta.Operation, error) {
	return o.clone(ctx, sourceName, SnapshotName(sourceName), KindSnapshot, OriginSnapshot)
}

// SnapshotName generates a unique snapshot name for a database.
func SnapshotName(database string) string {
	stamp := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("snapshot_%s_%s_%s", database, stamp, uuid.NewString()[:8])
}

// clone runs the shared state machine. The clone's tracked-database row is
// registered only after the storage clone succeeds, so a failure or
// cancellation can never leave a row pointing at nonexistent storage.
func (o *Orchestrator) clone(ctx context.Context, sourceName, targetName, kind, origin string) (*meta.Operation, error) {
	source, err := o.ensureTracked(ctx, sourceName)
	if err != nil {
		return nil, err
	}

	op, err := o.store.CreateOperation(ctx, source.OID, targetName, kind)
	if err != nil {
		return nil, err
	}
	if err := o.store.StartOperation(ctx, op.ID); err != nil {
		return nil, err
	}

	clone, err := o.run(ctx, source, targetName, origin)
	if err != nil {
		if failErr := o.store.FailOperation(ctx, op.ID, err.Error()); failErr != nil {
			return nil, fmt.Errorf("%w (additionally: %v)", err, failErr)
		}
		if op, opErr := o.store.Operation(ctx, op.ID); opErr == nil {
			return op, err
		}
		return nil, err
	}

	if err := o.store.SucceedOperation(ctx, op.ID, clone.OID); err != nil {
		return nil, err
	}
	return o.store.Operation(ctx, op.ID)
}

// run performs the clone steps for one operation.
func (o *Orchestrator) run(ctx context.Context, source *meta.TrackedDatabase, targetName, origin string) (*meta.TrackedDatabase, error) {
	sourcePath := o.PathFor(source.Name)
	targetPath := o.PathFor(targetName)

	if err := o.prepareSource(ctx, sourcePath); err != nil {
		return nil, err
	}
	if err := o.cloner.Clone(ctx, sourcePath, targetPath); err != nil {
		return nil, err
	}
	if err := o.installCapture(ctx, targetPath); err != nil {
		// Opening the clone creates journal sidecars; remove those too.
		removeStorage(targetPath)
		return nil, err
	}
	return o.store.Register(ctx, targetName, &source.OID, origin)
}

// prepareSource makes sure capture is installed and the on-disk file is
// self-contained before it gets copied.
func (o *Orchestrator) prepareSource(ctx context.Context, path string) error {
	s, err := session.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.EnsureCapture(ctx); err != nil {
		return err
	}
	// Fold the write-ahead log into the main file so a plain file copy
	// captures every committed write.
	if _, err := s.DB().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return nil
}

// installCapture opens the fresh clone and installs capture so it fires
// independently of the source from the first write on.
func (o *Orchestrator) installCapture(ctx context.Context, path string) error {
	s, err := session.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = s.EnsureCapture(ctx)
	return err
}

// ensureTracked looks up a database, registering it as a root if this is the
// first time the orchestrator sees it.
func (o *Orchestrator) ensureTracked(ctx context.Context, name string) (*meta.TrackedDatabase, error) {
	if _, err := os.Stat(o.PathFor(name)); err != nil {
		return nil, fmt.Errorf("database %s: %w", name, err)
	}
	if d, err := o.store.DatabaseByName(ctx, name); err == nil {
		return d, nil
	}
	return o.store.Register(ctx, name, nil, OriginRoot)
}

// Restore replaces targetName's storage with a snapshot's contents. The
// target must not have tracked children.
func (o *Orchestrator) Restore(ctx context.Context, snapshotName, targetName string) (*meta.Operation, error) {
	snap, err := o.store.DatabaseByName(ctx, snapshotName)
	if err != nil {
		return nil, err
	}

	op, err := o.store.CreateOperation(ctx, snap.OID, targetName, KindRestore)
	if err != nil {
		return nil, err
	}
	if err := o.store.StartOperation(ctx, op.ID); err != nil {
		return nil, err
	}

	target, err := o.runRestore(ctx, snap, targetName)
	if err != nil {
		if failErr := o.store.FailOperation(ctx, op.ID, err.Error()); failErr != nil {
			return nil, fmt.Errorf("%w (additionally: %v)", err, failErr)
		}
		if op, opErr := o.store.Operation(ctx, op.ID); opErr == nil {
			return op, err
		}
		return nil, err
	}

	if err := o.store.SucceedOperation(ctx, op.ID, target.OID); err != nil {
		return nil, err
	}
	return o.store.Operation(ctx, op.ID)
}

func (o *Orchestrator) runRestore(ctx context.Context, snap *meta.TrackedDatabase, targetName string) (*meta.TrackedDatabase, error) {
	target, err := o.store.DatabaseByName(ctx, targetName)
	if err == nil {
		children, err := o.store.Children(ctx, target.OID)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			return nil, fmt.Errorf("database %s has tracked children, refusing to restore over it", targetName)
		}
	}

	snapPath := o.PathFor(snap.Name)
	targetPath := o.PathFor(targetName)
	if err := removeStorage(targetPath); err != nil {
		return nil, err
	}
	if err := o.cloner.Clone(ctx, snapPath, targetPath); err != nil {
		return nil, err
	}
	if err := o.installCapture(ctx, targetPath); err != nil {
		return nil, err
	}
	if target != nil {
		return target, nil
	}
	return o.store.Register(ctx, targetName, &snap.OID, OriginRestore)
}

// DeleteSnapshot removes a snapshot's storage and its tracked-database row.
// Refused while tracked children exist, since removing it would orphan them.
func (o *Orchestrator) DeleteSnapshot(ctx context.Context, name string) error {
	d, err := o.store.DatabaseByName(ctx, name)
	if err != nil {
		return err
	}
	children, err := o.store.Children(ctx, d.OID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("snapshot %s has tracked children, refusing to delete", name)
	}
	if err := removeStorage(o.PathFor(name)); err != nil {
		return err
	}
	return o.store.Remove(ctx, d.OID)
}

// removeStorage deletes a database file and its journal sidecars.
func removeStorage(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
