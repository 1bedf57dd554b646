package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// OperationsOptions holds flags for the operations command.
type OperationsOptions struct {
	*RootOptions
	Limit int
}

// NewOperationsCommand creates the operations command.
func NewOperationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OperationsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "operations",
		Short: "List branch operations",
		Long: `List recorded branch, snapshot, and restore operations, newest first.

Examples:
  dbranch operations
  dbranch operations --limit 10 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperations(opts, cmd)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of operations to list")
	return cmd
}

func runOperations(opts *OperationsOptions, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	ops, err := e.store.Operations(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list operations", err)
	}

	infos := make([]OperationInfo, 0, len(ops))
	for i := range ops {
		infos = append(infos, operationInfo(&ops[i]))
	}

	f := formatter(cmd, opts.RootOptions)
	if opts.Format == "json" {
		return f.Success(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No operations recorded.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tDATABASE\tSTATUS\tERROR\tCREATED")
	for _, op := range infos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			op.ID, op.Kind, op.Database, op.Status, op.Error, op.CreatedAt)
	}
	return w.Flush()
}
