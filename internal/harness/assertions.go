package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/tachyon/internal/trace"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Trace    []trace.Record // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, rec := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", rec)
	}

	return buf.String()
}

// matches reports whether a record satisfies the assertion's
// reactor/name selector and optional kind filter.
func matches(rec trace.Record, a Assertion) bool {
	if rec.Reactor != a.Reactor || rec.Name != a.Name {
		return false
	}
	return a.Kind == "" || string(rec.Kind) == a.Kind
}

// assertTraceContains checks that at least one matching record exists.
func assertTraceContains(records []trace.Record, a Assertion) error {
	for _, rec := range records {
		if matches(rec, a) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("record %s.%s (kind %q)", a.Reactor, a.Name, a.Kind),
		Actual:   "not found in trace",
		Trace:    records,
	}
}

// assertTraceOrder checks that the named events appear in the given
// order. Events don't need to be consecutive; intervening records are
// allowed. Each entry is "Reactor.Name" and matches its first
// occurrence of any kind.
func assertTraceOrder(records []trace.Record, a Assertion) error {
	positions := make(map[string]int)
	for i, rec := range records {
		key := rec.Reactor + "." + rec.Name
		if _, seen := positions[key]; !seen {
			positions[key] = i + 1 // 1-indexed for readability
		}
	}

	for _, event := range a.Events {
		if positions[event] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", event),
				Trace:    records,
			}
		}
	}

	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: records,
			}
		}
	}

	return nil
}

// assertTraceCount checks that exactly Count matching records exist.
func assertTraceCount(records []trace.Record, a Assertion) error {
	count := 0
	for _, rec := range records {
		if matches(rec, a) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s.%s (kind %q)", a.Count, a.Reactor, a.Name, a.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    records,
		}
	}

	return nil
}

// assertMonotonicValues checks that a captured output holds at least
// Min values and that they are strictly increasing.
func assertMonotonicValues(result *Result, a Assertion) error {
	if result.Outputs == nil {
		return &AssertionError{
			Type:     AssertMonotonicValues,
			Expected: fmt.Sprintf("captured output %q", a.Output),
			Actual:   "program captured no outputs",
			Trace:    result.Trace,
		}
	}

	values := result.Outputs.Values(a.Output)
	if len(values) < a.Min {
		return &AssertionError{
			Type:     AssertMonotonicValues,
			Expected: fmt.Sprintf("at least %d values on output %q", a.Min, a.Output),
			Actual:   fmt.Sprintf("%d values", len(values)),
			Trace:    result.Trace,
		}
	}

	prev, hasPrev := int64(0), false
	for i, v := range values {
		n, err := asInt64(v)
		if err != nil {
			return &AssertionError{
				Type:     AssertMonotonicValues,
				Expected: fmt.Sprintf("integer values on output %q", a.Output),
				Actual:   fmt.Sprintf("value %d: %v", i, err),
				Trace:    result.Trace,
			}
		}
		if hasPrev && n <= prev {
			return &AssertionError{
				Type:     AssertMonotonicValues,
				Expected: fmt.Sprintf("strictly increasing values on output %q", a.Output),
				Actual:   fmt.Sprintf("value %d (%d) <= value %d (%d)", i, n, i-1, prev),
				Trace:    result.Trace,
			}
		}
		prev, hasPrev = n, true
	}

	return nil
}

// asInt64 coerces the integer types demo ports carry.
func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
		return 0, fmt.Errorf("non-integer value %v", n)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertMonotonicValues:
			err = assertMonotonicValues(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
