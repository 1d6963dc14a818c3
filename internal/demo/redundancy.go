package demo

import (
	"time"

	"github.com/roach88/tachyon/internal/runtime"
)

// RedundancyConfig parameterizes the redundant-thermocouple program.
// Zero values take the defaults listed on each field.
type RedundancyConfig struct {
	// Period is the logical sampling interval of both producers
	// (default 200ms).
	Period time.Duration

	// FailAfter is how many readings the primary produces before going
	// silent (default 3).
	FailAfter int

	// Supervision is the arbitrator's tolerance for primary silence
	// before failing over (default 300ms).
	Supervision time.Duration
}

func (cfg *RedundancyConfig) setDefaults() {
	if cfg.Period <= 0 {
		cfg.Period = 200 * time.Millisecond
	}
	if cfg.FailAfter <= 0 {
		cfg.FailAfter = 3
	}
	if cfg.Supervision <= 0 {
		cfg.Supervision = 300 * time.Millisecond
	}
}

// Thermocouples is a redundancy arbitration program: two producers
// sample the same signal, and an arbitrator forwards one of them based
// on presence, never on value. In the Primary mode the lowest-indexed
// present input wins and a watchdog supervises the primary's liveness;
// when the primary goes silent past the supervision timeout, the
// watchdog switches the arbitrator to the Backup mode with a reset
// transition, after which only the secondary is consulted.
//
// Primary readings are 100+k and backup readings 200+k, so the merged
// output stream stays strictly increasing across the failover.
type Thermocouples struct {
	Program *runtime.Program

	// Merged is the arbitrator's output stream.
	Merged *runtime.Port

	// Status carries the Backup mode's announcement after failover.
	Status *runtime.Port
}

// NewThermocouples assembles the redundancy program.
func NewThermocouples(cfg RedundancyConfig) (*Thermocouples, error) {
	cfg.setDefaults()

	prog := runtime.NewProgram("redundant_thermocouples")

	thc1 := newProducer(prog, "thc1", cfg.Period, 100, cfg.FailAfter)
	thc2 := newProducer(prog, "thc2", cfg.Period, 200, 0)

	arb := prog.NewReactor("arbitrator")
	in1 := runtime.NewInput[int](arb, "in1")
	in2 := runtime.NewInput[int](arb, "in2")
	merged := runtime.NewOutput[int](arb, "out")
	status := runtime.NewOutput[string](arb, "status")

	primary := arb.NewMode("Primary", true)
	backup := arb.NewMode("Backup", false)

	supervise := primary.NewWatchdog("supervise", cfg.Supervision, func(c *runtime.Ctx) error {
		c.Logger().Warn("primary silent past supervision timeout, failing over")
		c.SetMode(backup)
		return nil
	})

	primary.AddReaction("arm",
		[]runtime.TriggerSource{prog.Startup()},
		nil,
		func(c *runtime.Ctx) error {
			c.StartWatchdog(supervise, 0)
			return nil
		})
	primary.AddReaction("arbitrate",
		[]runtime.TriggerSource{in1, in2},
		[]runtime.Effect{merged},
		func(c *runtime.Ctx) error {
			// Lowest-indexed present input wins; absence is the signal,
			// not any sentinel value.
			switch {
			case c.Present(in1):
				c.Set(merged, c.Value(in1))
				c.StartWatchdog(supervise, 0)
			case c.Present(in2):
				c.Set(merged, c.Value(in2))
			}
			return nil
		})

	// The announce timer belongs to the Backup mode, so the reset
	// transition starts it from the failover instant.
	announce := backup.NewTimer("announce", cfg.Period/4, 0)
	backup.AddReaction("announce",
		[]runtime.TriggerSource{announce},
		[]runtime.Effect{status},
		func(c *runtime.Ctx) error {
			c.Set(status, "backup")
			return nil
		})
	backup.AddReaction("forward",
		[]runtime.TriggerSource{in2},
		[]runtime.Effect{merged},
		func(c *runtime.Ctx) error {
			c.Set(merged, c.Value(in2))
			return nil
		})

	if err := prog.Connect(thc1, in1); err != nil {
		return nil, err
	}
	if err := prog.Connect(thc2, in2); err != nil {
		return nil, err
	}

	return &Thermocouples{Program: prog, Merged: merged, Status: status}, nil
}

// newProducer builds a periodic sampler emitting base+k. A positive
// failAfter silences it after that many readings; the timer keeps
// firing, the reaction simply stops writing.
func newProducer(prog *runtime.Program, name string, period time.Duration, base, failAfter int) *runtime.Port {
	r := prog.NewReactor(name)
	out := runtime.NewOutput[int](r, "out")
	sample := r.NewTimer("sample", period, period)

	k := 0
	r.AddReaction("emit",
		[]runtime.TriggerSource{sample},
		[]runtime.Effect{out},
		func(c *runtime.Ctx) error {
			if failAfter > 0 && k >= failAfter {
				return nil
			}
			k++
			c.Set(out, base+k)
			return nil
		})

	return out
}
