package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbranch/dbranch/internal/digest"
)

// DigestOptions holds flags for the digest command.
type DigestOptions struct {
	*RootOptions
	BatchSize int
}

// DigestResult reports a computed table digest.
type DigestResult struct {
	Database string `json:"database"`
	Table    string `json:"table"`
	Digest   string `json:"digest"`
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DigestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "digest <database> <table>",
		Short: "Compute a content digest for a table",
		Long: `Hash every row of a table in primary-key order. The same digest on a
source and its branch verifies their contents match.

Examples:
  dbranch digest main accounts
  dbranch digest feature_x accounts --batch 500`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(opts, cmd, args[0], args[1])
		},
	}
	cmd.Flags().IntVar(&opts.BatchSize, "batch", 0, "rows per scan batch (default from config)")
	return cmd
}

func runDigest(opts *DigestOptions, cmd *cobra.Command, database, table string) error {
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

	batch := opts.BatchSize
	if batch <= 0 {
		batch = e.cfg.DigestBatchSize
	}

	sum, err := digest.New(s.DB()).Digest(cmd.Context(), table, batch)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to digest %s", table), err)
	}

	f := formatter(cmd, opts.RootOptions)
	if opts.Format == "json" {
		return f.Success(DigestResult{Database: database, Table: table, Digest: sum})
	}
	return f.Success(sum)
}
