// Package harness runs conformance scenarios against registered demo
// programs.
//
// A scenario names a program, parameterizes it, runs it under a real
// physical clock for a bounded duration, and asserts on the recorded
// execution trace and on values captured from boundary ports. Because
// the scheduler serializes reactions deterministically, the trace's
// event sequence is stable across runs and can be pinned with golden
// files; only the physical-time components of tags vary.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/tachyon/internal/runtime"
	"github.com/roach88/tachyon/internal/tag"
	"github.com/roach88/tachyon/internal/trace"
)

// Builder constructs a runnable scheduler from scenario parameters.
// The supplied options carry the harness's recorder, logger, and run
// timeout and must be passed through to runtime.NewScheduler.
type Builder func(params map[string]any, opts ...runtime.Option) (*runtime.Scheduler, *Capture, error)

var (
	regMu    sync.Mutex
	builders = map[string]Builder{}
)

// Register makes a program available to scenarios under the given name.
// Later registrations replace earlier ones.
func Register(name string, b Builder) {
	regMu.Lock()
	defer regMu.Unlock()
	builders[name] = b
}

// Lookup returns the registered builder for name.
func Lookup(name string) (Builder, bool) {
	regMu.Lock()
	defer regMu.Unlock()
	b, ok := builders[name]
	return b, ok
}

// Programs lists registered program names, sorted.
func Programs() []string {
	regMu.Lock()
	defer regMu.Unlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capture collects values written to boundary output ports during a
// run, keyed by a caller-chosen output name. Safe for concurrent use.
type Capture struct {
	mu     sync.Mutex
	values map[string][]any
}

// NewCapture creates an empty capture.
func NewCapture() *Capture {
	return &Capture{values: map[string][]any{}}
}

// Watch records every value the port produces under the given name.
// Must be called before the program is assembled into a scheduler.
func (c *Capture) Watch(name string, p *runtime.Port) {
	p.OnValue(func(_ tag.Tag, v any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.values[name] = append(c.values[name], v)
	})
}

// Values returns a copy of everything captured under name so far.
func (c *Capture) Values(name string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.values[name]))
	copy(out, c.values[name])
	return out
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	Pass bool

	// Trace contains the recorded execution in serialization order.
	Trace []trace.Record

	// Outputs holds values captured from the program's boundary ports.
	Outputs *Capture

	// RunErr is the error the scheduler returned, if any. A stop
	// requested by a fail-fast checker reaction surfaces here.
	RunErr error

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Run executes a scenario and returns the result.
//
// The program runs under the real wall clock; scenario durations should
// be chosen with comfortable margins over scheduling jitter. Logging is
// suppressed so assertion output stays readable.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	builder, ok := Lookup(scenario.Program)
	if !ok {
		return nil, fmt.Errorf("unknown program %q (registered: %v)", scenario.Program, Programs())
	}

	recorder := trace.NewMemoryRecorder()
	opts := []runtime.Option{
		runtime.WithObserver(recorder),
		runtime.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		runtime.WithTimeout(scenario.Duration.Std()),
	}

	sched, capture, err := builder(scenario.Params, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build program %q: %w", scenario.Program, err)
	}

	result := &Result{Pass: true, Outputs: capture}
	result.RunErr = sched.Run(ctx)
	result.Trace = recorder.Records()

	if result.RunErr != nil {
		result.AddError(fmt.Sprintf("run failed: %v", result.RunErr))
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}
