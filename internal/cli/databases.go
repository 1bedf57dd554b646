package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// DatabaseInfo is one tracked database in command output.
type DatabaseInfo struct {
	OID       int64  `json:"oid"`
	Name      string `json:"name"`
	Parent    string `json:"parent,omitempty"`
	Origin    string `json:"origin"`
	CreatedAt string `json:"created_at"`
}

// NewDatabasesCommand creates the databases command.
func NewDatabasesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List tracked databases and their lineage",
		Long: `List every tracked database with its parent and origin.

Examples:
  dbranch databases
  dbranch databases --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatabases(rootOpts, cmd)
		},
	}
}

func runDatabases(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	dbs, err := e.store.Databases(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list databases", err)
	}

	infos := make([]DatabaseInfo, 0, len(dbs))
	byOID := make(map[int64]string, len(dbs))
	for _, d := range dbs {
		byOID[d.OID] = d.Name
	}
	for _, d := range dbs {
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

	f := formatter(cmd, opts)
	if opts.Format == "json" {
		return f.Success(infos)
	}
	return printDatabases(cmd, infos)
}

func printDatabases(cmd *cobra.Command, infos []DatabaseInfo) error {
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tracked databases.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OID\tNAME\tPARENT\tORIGIN\tCREATED")
	for _, d := range infos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", d.OID, d.Name, d.Parent, d.Origin, d.CreatedAt)
	}
	return w.Flush()
}
