package cli

import (
	"github.com/spf13/cobra"
)

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot> <target>",
		Short: "Restore a database from a snapshot",
		Long: `Replace a database's storage with a snapshot's contents. The target's
existing storage is removed first; refused while the target has tracked
children.

Exit codes:
  0 - Restore succeeded
  1 - Restore operation failed
  2 - Command error

Examples:
  dbranch restore snapshot_main_20240101T000000_a1b2c3d4 main`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			op, err := e.orch.Restore(cmd.Context(), args[0], args[1])
			return reportOperation(formatter(cmd, rootOpts), op, err)
		},
	}
}
