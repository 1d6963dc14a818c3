package demo

import (
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/tachyon/internal/harness"
	"github.com/roach88/tachyon/internal/runtime"
)

// Program names as registered with the harness.
const (
	WatchdogProgram   = "watchdog_pipeline"
	RedundancyProgram = "redundant_thermocouples"
)

// RegisterPrograms makes the demo programs available to harness
// scenarios and the CLI.
func RegisterPrograms() {
	harness.Register(WatchdogProgram, buildWatchdogPipeline)
	harness.Register(RedundancyProgram, buildThermocouples)
}

func buildWatchdogPipeline(params map[string]any, opts ...runtime.Option) (*runtime.Scheduler, *harness.Capture, error) {
	var cfg WatchdogConfig
	var err error
	if cfg.Count, err = paramInt(params, "count"); err != nil {
		return nil, nil, err
	}
	if cfg.DelayEvery, err = paramInt(params, "delay_every"); err != nil {
		return nil, nil, err
	}
	if cfg.Period, err = paramDuration(params, "period"); err != nil {
		return nil, nil, err
	}
	if cfg.Delay, err = paramDuration(params, "delay"); err != nil {
		return nil, nil, err
	}
	if cfg.Deadline, err = paramDuration(params, "deadline"); err != nil {
		return nil, nil, err
	}
	if cfg.Watchdog, err = paramDuration(params, "watchdog"); err != nil {
		return nil, nil, err
	}

	p, err := NewWatchdogPipeline(cfg)
	if err != nil {
		return nil, nil, err
	}

	capture := harness.NewCapture()
	capture.Watch("feed", p.Feed)

	sched, err := runtime.NewScheduler(p.Program, opts...)
	if err != nil {
		return nil, nil, err
	}
	return sched, capture, nil
}

func buildThermocouples(params map[string]any, opts ...runtime.Option) (*runtime.Scheduler, *harness.Capture, error) {
	var cfg RedundancyConfig
	var err error
	if cfg.FailAfter, err = paramInt(params, "fail_after"); err != nil {
		return nil, nil, err
	}
	if cfg.Period, err = paramDuration(params, "period"); err != nil {
		return nil, nil, err
	}
	if cfg.Supervision, err = paramDuration(params, "supervision"); err != nil {
		return nil, nil, err
	}

	p, err := NewThermocouples(cfg)
	if err != nil {
		return nil, nil, err
	}

	capture := harness.NewCapture()
	capture.Watch("merged", p.Merged)
	capture.Watch("status", p.Status)

	sched, err := runtime.NewScheduler(p.Program, opts...)
	if err != nil {
		return nil, nil, err
	}
	return sched, capture, nil
}

// paramInt reads an optional integer parameter; absent keys return zero
// so the config default applies. String values (from CLI flags) are
// parsed.
func paramInt(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("param %q: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("param %q: expected integer, got %T", key, v)
	}
}

// paramDuration reads an optional duration parameter like "750ms".
func paramDuration(params map[string]any, key string) (time.Duration, error) {
	v, ok := params[key]
	if !ok {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("param %q: expected duration string, got %T", key, v)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("param %q: %w", key, err)
	}
	return d, nil
}
