package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalScenario = `
name: minimal
description: smallest valid scenario
program: watchdog_pipeline
duration: 500ms
assertions:
  - type: trace_contains
    reactor: source
    name: start
`

func TestLoadScenarioFromTestdata(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/watchdog_pipeline.yaml")
	require.NoError(t, err)

	assert.Equal(t, "watchdog_pipeline", s.Name)
	assert.Equal(t, "watchdog_pipeline", s.Program)
	assert.Equal(t, 2*time.Second, s.Duration.Std())
	assert.Equal(t, 6, s.Params["count"])
	assert.Equal(t, "100ms", s.Params["period"])
	assert.NotEmpty(t, s.Assertions)
}

func TestLoadScenarioMinimal(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, s.Duration.Std())
}

func TestLoadScenarioRejectsUnknownField(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, `
name: typo
description: has a misspelled key
program: p
duration: 1s
assertion:
  - type: trace_contains
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenarioRejectsBadDuration(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, `
name: bad
description: duration is not parseable
program: p
duration: soon
assertions:
  - type: trace_contains
    reactor: r
    name: n
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateScenario(t *testing.T) {
	valid := func() *Scenario {
		return &Scenario{
			Name:        "s",
			Description: "d",
			Program:     "p",
			Duration:    Duration(time.Second),
			Assertions:  []Assertion{{Type: AssertTraceContains, Reactor: "r", Name: "n"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Scenario)
		wantErr string
	}{
		{"valid", func(s *Scenario) {}, ""},
		{"missing name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"missing description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"missing program", func(s *Scenario) { s.Program = "" }, "program is required"},
		{"zero duration", func(s *Scenario) { s.Duration = 0 }, "duration is required"},
		{"no assertions", func(s *Scenario) { s.Assertions = nil }, "assertions list is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := validateScenario(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAssertion(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"contains ok", Assertion{Type: AssertTraceContains, Reactor: "r", Name: "n"}, ""},
		{"contains missing selector", Assertion{Type: AssertTraceContains}, "reactor and name are required"},
		{"order ok", Assertion{Type: AssertTraceOrder, Events: []string{"a.b", "c.d"}}, ""},
		{"order too short", Assertion{Type: AssertTraceOrder, Events: []string{"a.b"}}, "at least two events"},
		{"count ok", Assertion{Type: AssertTraceCount, Reactor: "r", Name: "n", Count: 3}, ""},
		{"count negative", Assertion{Type: AssertTraceCount, Reactor: "r", Name: "n", Count: -1}, "must be non-negative"},
		{"monotonic ok", Assertion{Type: AssertMonotonicValues, Output: "feed", Min: 1}, ""},
		{"monotonic missing output", Assertion{Type: AssertMonotonicValues}, "output is required"},
		{"unknown type", Assertion{Type: "trace_eventually"}, "unknown assertion type"},
		{"empty type", Assertion{}, "type is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAssertion(0, &tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
