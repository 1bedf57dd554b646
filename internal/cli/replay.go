package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dbranch/dbranch/internal/capture"
	"github.com/dbranch/dbranch/internal/replay"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Target string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <database> <record-id>",
		Short: "Re-apply one captured change record",
		Long: `Build and execute the DML statement equivalent to one change record.
Recorded type descriptors become casts, so values round-trip losslessly.
With --target, the record is read from <database>'s log and applied to the
target database instead.

Exit codes:
  0 - Record replayed
  1 - Replay mismatch or execution failure
  2 - Command error

Examples:
  dbranch replay feature_x 42
  dbranch replay main 42 --target feature_x`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid record id %q", args[1]), err)
			}
			return runReplay(opts, cmd, args[0], id)
		},
	}
	cmd.Flags().StringVar(&opts.Target, "target", "", "apply the record to this database")
	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command, database string, id int64) error {
	e, err := newEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	source, err := e.openSession(database)
	if err != nil {
		return err
	}
	defer source.Close()

	target := source
	if opts.Target != "" && opts.Target != database {
		target, err = e.openSession(opts.Target)
		if err != nil {
			return err
		}
		defer target.Close()
	}

	ch, err := capture.NewLog(source.DB()).Record(cmd.Context(), id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change record", err)
	}

	replayer := replay.NewReplayer(target.DB(), target.Cache())
	if err := replayer.Apply(cmd.Context(), ch); err != nil {
		if replay.IsMismatch(err) {
			return WrapExitError(ExitFailure, "replay mismatch", err)
		}
		return WrapExitError(ExitFailure, "replay failed", err)
	}
	return formatter(cmd, opts.RootOptions).Success(
		fmt.Sprintf("replayed record %d on %s", id, target.Name()))
}
