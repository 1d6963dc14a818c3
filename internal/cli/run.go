package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tachyon/internal/harness"
	"github.com/roach88/tachyon/internal/runtime"
	"github.com/roach88/tachyon/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Duration time.Duration
	Params   []string
	Database string
	Scenario string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [program]",
		Short: "Run a program or a scenario",
		Long: `Run a registered program under the scheduler, or a scenario file.

Without --scenario, the positional argument names a registered program,
parameterized with repeated --param key=value flags. With --scenario,
the YAML scenario supplies the program, parameters, duration, and
assertions, and the command exits non-zero if any assertion fails.

Example:
  tachyon run watchdog_pipeline --duration 8s
  tachyon run redundant_thermocouples --param period=200ms --db ./traces.db
  tachyon run --scenario scenarios/failover.yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Scenario != "" {
				return runScenario(opts, cmd)
			}
			if len(args) != 1 {
				return WrapExitError(ExitCommandError, "a program name or --scenario is required", nil)
			}
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 8*time.Second, "how long to run before shutdown")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "program parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database to persist the trace to (optional)")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "scenario YAML file to run instead of a bare program")

	return cmd
}

func runProgram(opts *RunOptions, program string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	builder, ok := harness.Lookup(program)
	if !ok {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("unknown program %q (registered: %v)", program, harness.Programs()), nil)
	}

	params, err := parseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --param", err)
	}

	recorder := trace.NewMemoryRecorder()
	sched, _, err := builder(params,
		runtime.WithObserver(recorder),
		runtime.WithTimeout(opts.Duration),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build program", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	slog.Info("running program", "program", program, "duration", opts.Duration)
	runErr := sched.Run(ctx)

	records := recorder.Records()
	if opts.Database != "" {
		if err := persistTrace(ctx, opts.Database, program, records); err != nil {
			return WrapExitError(ExitCommandError, "failed to persist trace", err)
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := formatter.Success(records, func(w io.Writer) {
		for _, rec := range records {
			fmt.Fprintln(w, rec)
		}
	}); err != nil {
		return err
	}

	if runErr != nil && runErr != context.Canceled {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	return nil
}

func runScenario(opts *RunOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	scenario, err := harness.LoadScenario(opts.Scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	result, err := harness.Run(ctx, scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := formatter.Success(result, func(w io.Writer) {
		if result.Pass {
			fmt.Fprintf(w, "PASS %s (%d trace records)\n", scenario.Name, len(result.Trace))
			return
		}
		fmt.Fprintf(w, "FAIL %s\n", scenario.Name)
		for _, msg := range result.Errors {
			fmt.Fprintln(w, msg)
		}
	}); err != nil {
		return err
	}

	if !result.Pass {
		return WrapExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name), nil)
	}
	return nil
}

// persistTrace stores a finished run's records.
func persistTrace(ctx context.Context, path, program string, records []trace.Record) error {
	st, err := trace.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	runID, err := st.BeginRun(ctx, program)
	if err != nil {
		return err
	}
	if err := st.Append(ctx, runID, records); err != nil {
		return err
	}
	slog.Info("trace persisted", "db", path, "run_id", runID, "records", len(records))
	return nil
}

// parseParams turns repeated key=value flags into a parameter map.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		params[key] = value
	}
	return params, nil
}

// configureLogging sets the process-wide logger per the verbose flag.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// signalContext derives a context cancelled by SIGINT/SIGTERM from the
// command's context (which tests may pre-populate).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	return signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
}
