package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tachyon/internal/trace"
)

// RenderTrace formats a trace for golden comparison: one line per
// record with sequence, kind, and the qualified event name. Tags are
// deliberately omitted because records sourced from the physical clock
// (watchdog firings) carry wall-clock nanoseconds that vary run to run;
// the event sequence itself is deterministic.
func RenderTrace(records []trace.Record) []byte {
	var buf strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&buf, "%03d %s %s.%s\n", rec.Seq, rec.Kind, rec.Reactor, rec.Name)
	}
	return []byte(buf.String())
}

// RunWithGolden executes a scenario and compares the trace against a
// golden file stored at testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Assertion failures from the scenario itself fail the test before the
// golden comparison runs.
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	AssertGolden(t, scenario.Name, result.Trace)
	return result
}

// AssertGolden compares an already-recorded trace against a golden file.
func AssertGolden(t *testing.T, name string, records []trace.Record) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, RenderTrace(trace.Rebase(records)))
}
