package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbranch/dbranch/internal/render"
)

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "render <database> <table>",
		Short: "Render a table's reconstructed definition",
		Long: `Render a CREATE TABLE statement from the table's current catalog state.
The output reconstructs create-time state only; ALTER history is audited
as raw text, not folded in.

Examples:
  dbranch render main accounts`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(rootOpts, cmd, args[0], args[1])
		},
	}
}

func runRender(opts *RootOptions, cmd *cobra.Command, database, table string) error {
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

	desc, err := s.Cache().Describe(cmd.Context(), table)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to describe %s", table), err)
	}

	f := formatter(cmd, opts)
	if opts.Format == "json" {
		return f.Success(map[string]string{"table": table, "definition": render.Table(desc)})
	}
	fmt.Fprintln(cmd.OutOrStdout(), render.Table(desc))
	return nil
}
