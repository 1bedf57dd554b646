package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the CLI version, overridable at build time.
var Version = "dev"

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the dbranch version",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, rootOpts)
			if rootOpts.Format == "json" {
				return f.Success(map[string]string{"version": Version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dbranch %s\n", Version)
			return nil
		},
	}
}
