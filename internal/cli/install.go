package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// InstallResult reports what a capture install did.
type InstallResult struct {
	Database  string          `json:"database"`
	Installed bool            `json:"installed"`
	Skipped   []SkippedResult `json:"skipped,omitempty"`
}

// SkippedResult is one relation excluded from capture.
type SkippedResult struct {
	Relation string `json:"relation"`
	Reason   string `json:"reason"`
}

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install <database>",
		Short: "Install change capture on a database",
		Long: `Install the change log and capture triggers on every qualifying relation.
Idempotent: a second run on a covered database performs no actions.
Relations without a primary key are skipped and reported; skipping one
relation does not abort the pass.

Examples:
  dbranch install main
  dbranch install main --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(rootOpts, cmd, args[0])
		},
	}
}

func runInstall(opts *RootOptions, cmd *cobra.Command, database string) error {
	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.openSession(database)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.EnsureCapture(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to install capture on %s", database), err)
	}

	result := InstallResult{Database: database, Installed: res.Installed}
	for _, sk := range res.Skipped {
		result.Skipped = append(result.Skipped, SkippedResult{
			Relation: sk.Relation,
			Reason:   sk.Err.Error(),
		})
	}

	f := formatter(cmd, opts)
	if opts.Format == "json" {
		return f.Success(result)
	}
	if result.Installed {
		fmt.Fprintf(cmd.OutOrStdout(), "capture installed on %s\n", database)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "capture already present on %s\n", database)
	}
	for _, sk := range result.Skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "skipped %s: %s\n", sk.Relation, sk.Reason)
	}
	return nil
}
