package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbranch/dbranch/internal/branch"
)

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list, and delete snapshots",
	}
	cmd.AddCommand(newSnapshotCreateCommand(rootOpts))
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	cmd.AddCommand(newSnapshotDeleteCommand(rootOpts))
	return cmd
}

func newSnapshotCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <database>",
		Short: "Snapshot a database under a generated name",
		Long: `Clone a database under a generated snapshot name. The snapshot is a
tracked child of the source and can later be restored or deleted.

Examples:
  dbranch snapshot create main`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			op, err := e.orch.Snapshot(cmd.Context(), args[0])
			return reportOperation(formatter(cmd, rootOpts), op, err)
		},
	}
}

func newSnapshotListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		Long: `List tracked databases whose origin is a snapshot.

Examples:
  dbranch snapshot list
  dbranch snapshot list --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			dbs, err := e.store.Databases(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list snapshots", err)
			}

			var infos []DatabaseInfo
			byOID := make(map[int64]string, len(dbs))
			for _, d := range dbs {
				byOID[d.OID] = d.Name
			}
			for _, d := range dbs {
				if d.Origin != branch.OriginSnapshot {
					continue
				}
				info := DatabaseInfo{
					OID:       d.OID,
					Name:      d.Name,
					Origin:    d.Origin,
					CreatedAt: d.CreatedAt.Format(time.RFC3339),
				}
				if d.ParentOID != nil {
					info.Parent = byOID[*d.ParentOID]
				}
				infos = append(infos, info)
			}

			f := formatter(cmd, rootOpts)
			if rootOpts.Format == "json" {
				return f.Success(infos)
			}
			return printDatabases(cmd, infos)
		},
	}
}

func newSnapshotDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot>",
		Short: "Delete a snapshot and its storage",
		Long: `Delete a snapshot's storage and its tracked-database row. Refused while
the snapshot has tracked children.

Examples:
  dbranch snapshot delete snapshot_main_20240101T000000_a1b2c3d4`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.orch.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to delete snapshot %s", args[0]), err)
			}
			return formatter(cmd, rootOpts).Success(fmt.Sprintf("deleted snapshot %s", args[0]))
		},
	}
}
