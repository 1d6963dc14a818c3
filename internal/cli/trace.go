package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tachyon/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Run      string
	Diff     string
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect persisted execution traces",
		Long: `Inspect execution traces persisted by run --db.

Without --run, lists recorded run IDs, most recent first. With --run,
prints that run's records in serialization order. With --run and
--diff, compares the two runs after rebasing their tags and reports the
first divergences; identical traces mean the two runs serialized the
same execution.

Examples:
  tachyon trace --db ./traces.db
  tachyon trace --db ./traces.db --run 7f8a...
  tachyon trace --db ./traces.db --run 7f8a... --diff 9c2b...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run ID to print")
	cmd.Flags().StringVar(&opts.Diff, "diff", "", "second run ID to compare against --run")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.Run == "" {
		runs, err := st.Runs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return formatter.Success(runs, func(w io.Writer) {
			for _, id := range runs {
				fmt.Fprintln(w, id)
			}
		})
	}

	records, err := st.ReadRun(ctx, opts.Run)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	if len(records) == 0 {
		return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.Run), nil)
	}

	if opts.Diff == "" {
		return formatter.Success(records, func(w io.Writer) {
			for _, rec := range records {
				fmt.Fprintln(w, rec)
			}
		})
	}

	other, err := st.ReadRun(ctx, opts.Diff)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	if len(other) == 0 {
		return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.Diff), nil)
	}

	diffs := trace.Diff(trace.Rebase(records), trace.Rebase(other))
	if err := formatter.Success(diffs, func(w io.Writer) {
		if len(diffs) == 0 {
			fmt.Fprintln(w, "traces match")
			return
		}
		for _, d := range diffs {
			fmt.Fprintln(w, d)
		}
	}); err != nil {
		return err
	}

	if len(diffs) > 0 {
		return WrapExitError(ExitFailure, "traces diverge", nil)
	}
	return nil
}
