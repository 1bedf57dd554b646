package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ExecResult reports a statement execution.
type ExecResult struct {
	Database     string `json:"database"`
	RowsAffected int64  `json:"rows_affected"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <database> <sql>",
		Short: "Execute a statement through the audited session",
		Long: `Execute one SQL statement on a tracked database. Row changes are captured
by the installed triggers; schema changes go through the DDL audit path and
produce start and end audit records.

Examples:
  dbranch exec main "INSERT INTO accounts (id, name) VALUES (1, 'a')"
  dbranch exec main "ALTER TABLE accounts ADD COLUMN note text"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(rootOpts, cmd, args[0], args[1])
		},
	}
}

func runExec(opts *RootOptions, cmd *cobra.Command, database, sqlText string) error {
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

	res, err := s.Exec(cmd.Context(), sqlText)
	if err != nil {
		return WrapExitError(ExitFailure, "statement failed", err)
	}

	var affected int64
	if res != nil {
		affected, _ = res.RowsAffected()
	}

	f := formatter(cmd, opts)
	if opts.Format == "json" {
		return f.Success(ExecResult{Database: database, RowsAffected: affected})
	}
	return f.Success(fmt.Sprintf("ok (%d rows affected)", affected))
}
