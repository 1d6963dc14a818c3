package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios run a registered demo program for a bounded duration and
// assert on the resulting execution trace and captured outputs.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the registered program name to build and run.
	Program string `yaml:"program"`

	// Params contains program-specific parameters (counts, durations).
	// Interpretation is up to the program builder.
	Params map[string]any `yaml:"params,omitempty"`

	// Duration bounds the run. The scheduler shuts down at this logical
	// offset if the program has not stopped on its own.
	Duration Duration `yaml:"duration"`

	// Assertions validate the trace and captured outputs.
	// Supported types: trace_contains, trace_order, trace_count, monotonic_values
	Assertions []Assertion `yaml:"assertions"`
}

// Duration is a time.Duration that decodes from YAML strings like "750ms".
type Duration time.Duration

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Assertion validates the trace or captured outputs.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a matching record appears at least once
	// - "trace_order": named events appear in the given order
	// - "trace_count": a matching record appears exactly N times
	// - "monotonic_values": a captured output is strictly increasing
	Type string `yaml:"type"`

	// Reactor and Name select trace records (trace_contains, trace_count).
	// Name is the reaction, watchdog, or "from->to" mode switch label.
	Reactor string `yaml:"reactor,omitempty"`
	Name    string `yaml:"name,omitempty"`

	// Kind optionally restricts the record kind (reaction, deadline_miss,
	// watchdog_fire, mode_switch). Empty matches any kind.
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected order as "Reactor.Name" entries (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Output names the captured output to inspect (monotonic_values).
	Output string `yaml:"output,omitempty"`

	// Min is the minimum number of captured values (monotonic_values).
	Min int `yaml:"min,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertMonotonicValues = "monotonic_values"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Program == "" {
		return fmt.Errorf("program is required")
	}

	if s.Duration <= 0 {
		return fmt.Errorf("duration is required and must be positive")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Reactor == "" || a.Name == "" {
			return fmt.Errorf("assertions[%d]: reactor and name are required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("assertions[%d]: at least two events are required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Reactor == "" || a.Name == "" {
			return fmt.Errorf("assertions[%d]: reactor and name are required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertMonotonicValues:
		if a.Output == "" {
			return fmt.Errorf("assertions[%d]: output is required for monotonic_values", index)
		}
		if a.Min < 0 {
			return fmt.Errorf("assertions[%d]: min must be non-negative for monotonic_values", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
