package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbranch/dbranch/internal/audit"
	"github.com/dbranch/dbranch/internal/capture"
	"github.com/dbranch/dbranch/internal/record"
)

// LogOptions holds flags for the log subcommands.
type LogOptions struct {
	*RootOptions
	Table    string
	Identity string
	Limit    int
}

// ChangeInfo is one change record in command output.
type ChangeInfo struct {
	ID        int64                         `json:"id"`
	Table     string                        `json:"table"`
	Op        string                        `json:"op"`
	Key       map[string]any                `json:"key"`
	Columns   map[string]record.ColumnValue `json:"columns,omitempty"`
	TxID      int64                         `json:"txid"`
	ChangedAt string                        `json:"changed_at"`
}

// DDLInfo is one DDL audit record in command output.
type DDLInfo struct {
	ID         int64   `json:"id"`
	CommandTag string  `json:"command_tag"`
	ObjectType string  `json:"object_type,omitempty"`
	Identity   string  `json:"object_identity,omitempty"`
	Phase      string  `json:"phase"`
	TxID       int64   `json:"txid"`
	SQLText    *string `json:"sql_text,omitempty"`
	PreDef     *string `json:"pre_definition,omitempty"`
	PostDef    *string `json:"post_definition,omitempty"`
	LoggedAt   string  `json:"logged_at"`
}

// NewLogCommand creates the log command group.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Read the change and DDL logs",
	}
	cmd.AddCommand(newLogChangesCommand(rootOpts))
	cmd.AddCommand(newLogDDLCommand(rootOpts))
	return cmd
}

func newLogChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes <database>",
		Short: "List captured row changes",
		Long: `List change records in id order.

Examples:
  dbranch log changes main
  dbranch log changes main --table accounts --limit 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogChanges(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Table, "table", "", "filter to one relation")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records")
	return cmd
}

func runLogChanges(opts *LogOptions, cmd *cobra.Command, database string) error {
	e, err := newEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.openSession(database)
	if err != nil {
		return err
	}
	defer s.Close()

	changes, err := capture.NewLog(s.DB()).Records(cmd.Context(), opts.Table, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}

	infos := make([]ChangeInfo, 0, len(changes))
	for _, ch := range changes {
		infos = append(infos, ChangeInfo{
			ID:        ch.ID,
			Table:     ch.TableName,
			Op:        string(ch.Op),
			Key:       ch.Key,
			Columns:   ch.Columns,
			TxID:      ch.TxID,
			ChangedAt: ch.ChangedAt.Format(time.RFC3339Nano),
		})
	}

	f := formatter(cmd, opts.RootOptions)
	if opts.Format == "json" {
		return f.Success(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No change records.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTABLE\tOP\tKEY\tTXID\tCHANGED")
	for _, c := range infos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%d\t%s\n", c.ID, c.Table, c.Op, c.Key, c.TxID, c.ChangedAt)
	}
	return w.Flush()
}

func newLogDDLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ddl <database>",
		Short: "List audited schema changes",
		Long: `List DDL audit records in id order. Start records carry the object's
pre-definition, end records the post-definition.

Examples:
  dbranch log ddl main
  dbranch log ddl main --identity main.accounts`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogDDL(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Identity, "identity", "", "filter to one object identity")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records")
	return cmd
}

func runLogDDL(opts *LogOptions, cmd *cobra.Command, database string) error {
	e, err := newEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.openSession(database)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := audit.NewLog(s.DB()).Records(cmd.Context(), opts.Identity, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read DDL log", err)
	}

	infos := make([]DDLInfo, 0, len(recs))
	for _, r := range recs {
		infos = append(infos, DDLInfo{
			ID:         r.ID,
			CommandTag: r.CommandTag,
			ObjectType: r.ObjectType,
			Identity:   r.ObjectIdentity,
			Phase:      string(r.Phase),
			TxID:       r.TxID,
			SQLText:    r.SQLText,
			PreDef:     r.PreDefinition,
			PostDef:    r.PostDefinition,
			LoggedAt:   r.LoggedAt.Format(time.RFC3339Nano),
		})
	}

	f := formatter(cmd, opts.RootOptions)
	if opts.Format == "json" {
		return f.Success(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No DDL records.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAG\tOBJECT\tPHASE\tTXID\tLOGGED")
	for _, r := range infos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.CommandTag, r.Identity, r.Phase, r.TxID, r.LoggedAt)
	}
	return w.Flush()
}
