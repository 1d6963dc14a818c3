// Package demo contains the example programs the harness and the CLI
// run: a watchdog-monitored pipeline and a redundant-sensor failover.
// Both are compositions of the runtime primitives, parameterized so
// tests can scale their timing down.
package demo

import (
	"fmt"
	"time"

	"github.com/roach88/tachyon/internal/runtime"
)

// WatchdogConfig parameterizes the watchdog pipeline. Zero values take
// the defaults listed on each field.
type WatchdogConfig struct {
	// Count is how many values the source emits (default 12).
	Count int

	// Period is the logical interval between values (default 500ms).
	Period time.Duration

	// DelayEvery physically delays every Nth value (default 4).
	DelayEvery int

	// Delay is the physical delay applied to those values (default 300ms).
	Delay time.Duration

	// Deadline is the watcher's staleness budget (default 250ms).
	Deadline time.Duration

	// Watchdog is the watcher's liveness timeout (default 750ms).
	Watchdog time.Duration

	// Sleep performs the physical delay. Injectable for tests; defaults
	// to time.Sleep.
	Sleep func(time.Duration)
}

func (cfg *WatchdogConfig) setDefaults() {
	if cfg.Count <= 0 {
		cfg.Count = 12
	}
	if cfg.Period <= 0 {
		cfg.Period = 500 * time.Millisecond
	}
	if cfg.DelayEvery <= 0 {
		cfg.DelayEvery = 4
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 300 * time.Millisecond
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 250 * time.Millisecond
	}
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = 750 * time.Millisecond
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
}

// WatchdogPipeline is a three-stage pipeline: a source emitting a
// strictly increasing sequence, slowed down on every Nth value; a
// watcher forwarding values under a deadline budget while a watchdog
// guards input liveness; and a checker that fail-fast stops the run on
// any out-of-sequence value.
//
// The source's slowdowns trip the watcher's deadline but never its
// watchdog, because each late value still re-arms the countdown at a
// tag ahead of the pending expiration. The watchdog fires exactly once,
// after the source finishes, and ends the run.
type WatchdogPipeline struct {
	Program *runtime.Program

	// Feed is the watcher's output, the value stream the checker sees.
	Feed *runtime.Port
}

// NewWatchdogPipeline assembles the pipeline program.
func NewWatchdogPipeline(cfg WatchdogConfig) (*WatchdogPipeline, error) {
	cfg.setDefaults()

	prog := runtime.NewProgram("watchdog_pipeline")

	// Source: self-scheduling emitter. A logical action rather than a
	// timer, so the stream genuinely stops after Count values and the
	// watcher's watchdog gets to fire.
	source := prog.NewReactor("source")
	sourceOut := runtime.NewOutput[int](source, "out")
	next := runtime.NewLogicalAction[int](source, "next", 0)

	counter := 0
	source.AddReaction("start",
		[]runtime.TriggerSource{prog.Startup()},
		[]runtime.Effect{next},
		func(c *runtime.Ctx) error {
			c.Schedule(next, cfg.Period, 0)
			return nil
		})
	source.AddReaction("emit",
		[]runtime.TriggerSource{next},
		[]runtime.Effect{sourceOut, next},
		func(c *runtime.Ctx) error {
			counter++
			if counter%cfg.DelayEvery == 0 {
				cfg.Sleep(cfg.Delay)
			}
			c.Set(sourceOut, counter)
			if counter < cfg.Count {
				c.Schedule(next, cfg.Period, 0)
			}
			return nil
		})

	// Watcher: forwards values, tracks staleness, guards liveness.
	watcher := prog.NewReactor("watcher")
	watcherIn := runtime.NewInput[int](watcher, "in")
	watcherOut := runtime.NewOutput[int](watcher, "out")

	stalled := watcher.NewWatchdog("stalled", cfg.Watchdog, func(c *runtime.Ctx) error {
		c.Logger().Info("input stalled, ending run")
		c.RequestStop(nil)
		return nil
	})

	watcher.AddReaction("arm",
		[]runtime.TriggerSource{prog.Startup()},
		nil,
		func(c *runtime.Ctx) error {
			c.StartWatchdog(stalled, 0)
			return nil
		})
	watcher.AddReaction("forward",
		[]runtime.TriggerSource{watcherIn},
		[]runtime.Effect{watcherOut},
		func(c *runtime.Ctx) error {
			c.Set(watcherOut, c.Value(watcherIn))
			c.StartWatchdog(stalled, 0)
			return nil
		}).
		WithDeadline(cfg.Deadline, func(c *runtime.Ctx) error {
			// A late value is still a value: forward it and keep the
			// watchdog cycle going, but record the staleness.
			c.Logger().Warn("value arrived past deadline",
				"value", c.Value(watcherIn),
				"lag", c.PhysicalTime().Sub(c.LogicalTime()),
			)
			c.Set(watcherOut, c.Value(watcherIn))
			c.StartWatchdog(stalled, 0)
			return nil
		})

	// Checker: fail-fast validation reactor.
	checker := prog.NewReactor("checker")
	checkerIn := runtime.NewInput[int](checker, "in")

	last := 0
	checker.AddReaction("check",
		[]runtime.TriggerSource{checkerIn},
		nil,
		func(c *runtime.Ctx) error {
			v := c.Value(checkerIn).(int)
			if v != last+1 {
				c.RequestStop(fmt.Errorf("out-of-sequence value: got %d, want %d", v, last+1))
				return nil
			}
			last = v
			return nil
		})

	if err := prog.Connect(sourceOut, watcherIn); err != nil {
		return nil, err
	}
	if err := prog.Connect(watcherOut, checkerIn); err != nil {
		return nil, err
	}

	return &WatchdogPipeline{Program: prog, Feed: watcherOut}, nil
}
