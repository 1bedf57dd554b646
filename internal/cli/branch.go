package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbranch/dbranch/internal/meta"
)

// OperationInfo is one branch operation in command output.
type OperationInfo struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	Database   string `json:"database"`
	SourceOID  int64  `json:"source_oid"`
	NewOID     *int64 `json:"new_oid,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

func operationInfo(op *meta.Operation) OperationInfo {
	info := OperationInfo{
		ID:        op.ID,
		Kind:      op.Kind,
		Database:  op.DatabaseName,
		SourceOID: op.SourceOID,
		NewOID:    op.NewOID,
		Status:    string(op.Status),
		CreatedAt: op.CreatedAt.Format(time.RFC3339),
	}
	if op.Error != nil {
		info.Error = *op.Error
	}
	if op.FinishedAt != nil {
		info.FinishedAt = op.FinishedAt.Format(time.RFC3339)
	}
	return info
}

// NewBranchCommand creates the branch command.
func NewBranchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch <source> <target>",
		Short: "Clone a database into an independently writable branch",
		Long: `Clone a database. Capture is installed on the source first, storage is
copied, and capture is installed on the clone, so both sides log changes
independently from the first write on.

Exit codes:
  0 - Branch succeeded
  1 - Branch operation failed (recorded as failed in the metadata store)
  2 - Command error

Examples:
  dbranch branch main feature_x
  dbranch branch main feature_x --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBranch(rootOpts, cmd, args[0], args[1])
		},
	}
	return cmd
}

func runBranch(opts *RootOptions, cmd *cobra.Command, source, target string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	f := formatter(cmd, opts)
	f.VerboseLog("branching %s -> %s", source, target)

	op, err := e.orch.Branch(ctx, source, target)
	return reportOperation(f, op, err)
}

// reportOperation renders an operation outcome and maps a failed operation
// to exit code 1.
func reportOperation(f *OutputFormatter, op *meta.Operation, opErr error) error {
	if op == nil {
		return WrapExitError(ExitCommandError, "operation could not be recorded", opErr)
	}
	info := operationInfo(op)
	if opErr != nil || op.Status == meta.StatusFailed {
		if f.Format == "json" {
			_ = f.Error("E101", fmt.Sprintf("%s operation %d failed", op.Kind, op.ID), info)
		} else {
			_ = f.Error("E101", fmt.Sprintf("%s operation %d failed: %s", op.Kind, op.ID, info.Error), nil)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s failed", op.Kind))
	}
	if f.Format == "json" {
		return f.Success(info)
	}
	return f.Success(fmt.Sprintf("%s operation %d succeeded: %s", op.Kind, op.ID, op.DatabaseName))
}
