package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tachyon/internal/tag"
	"github.com/roach88/tachyon/internal/trace"
)

func syntheticTrace() []trace.Record {
	return []trace.Record{
		{Seq: 1, Tag: tag.Tag{Time: 0}, Reactor: "source", Name: "start", Kind: trace.KindReaction},
		{Seq: 2, Tag: tag.Tag{Time: 100}, Reactor: "watcher", Name: "forward", Kind: trace.KindReaction},
		{Seq: 3, Tag: tag.Tag{Time: 200}, Reactor: "watcher", Name: "forward", Kind: trace.KindDeadlineMiss},
		{Seq: 4, Tag: tag.Tag{Time: 300}, Reactor: "watcher", Name: "stalled", Kind: trace.KindWatchdogFire},
		{Seq: 5, Tag: tag.Tag{Time: 300}, Reactor: "watcher", Name: "stalled_expired", Kind: trace.KindReaction},
	}
}

func TestAssertTraceContains(t *testing.T) {
	records := syntheticTrace()

	assert.NoError(t, assertTraceContains(records, Assertion{Reactor: "watcher", Name: "forward"}))
	assert.NoError(t, assertTraceContains(records, Assertion{Reactor: "watcher", Name: "forward", Kind: "deadline_miss"}))

	err := assertTraceContains(records, Assertion{Reactor: "watcher", Name: "stalled", Kind: "reaction"})
	require.Error(t, err, "kind filter must be honored")
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, ae.Error(), "not found in trace")
}

func TestAssertTraceOrder(t *testing.T) {
	records := syntheticTrace()

	assert.NoError(t, assertTraceOrder(records, Assertion{
		Events: []string{"source.start", "watcher.forward", "watcher.stalled"},
	}))

	err := assertTraceOrder(records, Assertion{
		Events: []string{"watcher.stalled", "source.start"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(records, Assertion{
		Events: []string{"source.start", "checker.check"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: checker.check")
}

func TestAssertTraceCount(t *testing.T) {
	records := syntheticTrace()

	assert.NoError(t, assertTraceCount(records, Assertion{Reactor: "watcher", Name: "forward", Count: 2}))
	assert.NoError(t, assertTraceCount(records, Assertion{Reactor: "watcher", Name: "forward", Kind: "deadline_miss", Count: 1}))
	assert.NoError(t, assertTraceCount(records, Assertion{Reactor: "checker", Name: "check", Count: 0}))

	err := assertTraceCount(records, Assertion{Reactor: "watcher", Name: "forward", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertMonotonicValues(t *testing.T) {
	result := func(values ...any) *Result {
		capture := NewCapture()
		capture.values["feed"] = values
		return &Result{Outputs: capture}
	}

	assert.NoError(t, assertMonotonicValues(result(1, 2, 5), Assertion{Output: "feed", Min: 3}))
	assert.NoError(t, assertMonotonicValues(result(int64(1), 2, float64(3)), Assertion{Output: "feed"}))

	err := assertMonotonicValues(result(1, 2), Assertion{Output: "feed", Min: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 values")

	err = assertMonotonicValues(result(1, 3, 3), Assertion{Output: "feed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")

	err = assertMonotonicValues(result("hot"), Assertion{Output: "feed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")

	err = assertMonotonicValues(&Result{}, Assertion{Output: "feed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "captured no outputs")
}

func TestEvaluateAssertionsCollectsAllFailures(t *testing.T) {
	result := &Result{Trace: syntheticTrace(), Outputs: NewCapture()}

	msgs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Reactor: "source", Name: "start"}, // passes
		{Type: AssertTraceCount, Reactor: "watcher", Name: "forward", Count: 9},
		{Type: "trace_eventually"},
	})

	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "2 occurrences")
	assert.Contains(t, msgs[1], "unknown assertion type")
}
