package runtime

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/roach88/tachyon/internal/tag"
)

// Sampler is anything a reaction can read the presence and value of: a
// *Port or an *Action. Presence is valid only within the instant the slot
// was written.
type Sampler interface {
	sample() (value any, writtenAt tag.Tag, present bool)
}

func (p *Port) sample() (any, tag.Tag, bool)   { return p.value, p.writtenAt, p.present }
func (a *Action) sample() (any, tag.Tag, bool) { return a.value, a.writtenAt, a.present }

// Ctx is the invocation context handed to a reaction body. Reads are
// immediate; every effect (Set, Schedule, watchdog ops, SetMode,
// RequestStop) is staged and applied atomically by the scheduler when the
// body returns. A Ctx is valid only for the duration of the body call.
type Ctx struct {
	s        *Scheduler
	reaction *Reaction
	tag      tag.Tag
	logger   *slog.Logger

	writes    []stagedWrite
	schedules []stagedSchedule
	wdogOps   []stagedWdogOp
	modeReq   *modeRequest
	stop      *StopError
	err       error // first staging error, surfaced after the body
}

type stagedWrite struct {
	port  *Port
	value any
}

type stagedSchedule struct {
	action *Action
	delay  time.Duration
	value  any
}

type stagedWdogOp struct {
	wdog    *Watchdog
	timeout time.Duration
	stop    bool
}

// Present reports whether s holds a value written at the current instant.
func (c *Ctx) Present(s Sampler) bool {
	_, at, present := s.sample()
	return present && at.Compare(c.tag) == 0
}

// Value returns the value written to s at the current instant, or nil
// when s is absent. Absence is a first-class signal; callers deciding on
// presence must use Present, not a sentinel value.
func (c *Ctx) Value(s Sampler) any {
	v, at, present := s.sample()
	if !present || at.Compare(c.tag) != 0 {
		return nil
	}
	return v
}

// Set stages a write to a port. The value becomes present for the current
// instant only, on the port and everything connected downstream of it.
// Writing the same port twice within one instant overwrites the value.
// The port must be in the reaction's declared effect set and the value
// must match the port's declared type.
func (c *Ctx) Set(p *Port, v any) {
	if !c.reaction.declaresEffect(p) {
		c.fail(fmt.Errorf("reaction %s writes undeclared port %s", c.reaction.FullName(), p.FullName()))
		return
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(p.typ) {
		c.fail(fmt.Errorf("port %s expects %s, got %T", p.FullName(), p.typ, v))
		return
	}
	c.writes = append(c.writes, stagedWrite{port: p, value: v})
}

// Schedule stages a future event on a logical action. The event's tag is
// the current tag delayed by the action's minimum delay plus delay; a
// total delay of zero lands at the next microstep, never at the current
// tag.
func (c *Ctx) Schedule(a *Action, delay time.Duration, v any) {
	if a.physical {
		c.fail(fmt.Errorf("action %s is physical; use Scheduler.InjectPhysical", a.FullName()))
		return
	}
	if !c.reaction.declaresEffect(a) {
		c.fail(fmt.Errorf("reaction %s schedules undeclared action %s", c.reaction.FullName(), a.FullName()))
		return
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(a.typ) {
		c.fail(fmt.Errorf("action %s expects %s, got %T", a.FullName(), a.typ, v))
		return
	}
	c.schedules = append(c.schedules, stagedSchedule{action: a, delay: delay, value: v})
}

// StartWatchdog stages a (re)arming of w. A zero timeout uses the
// watchdog's declared default. Takes effect when the body returns; until
// then the previous arming stands.
func (c *Ctx) StartWatchdog(w *Watchdog, timeout time.Duration) {
	if timeout <= 0 {
		timeout = w.timeout
	}
	c.wdogOps = append(c.wdogOps, stagedWdogOp{wdog: w, timeout: timeout})
}

// StopWatchdog stages a disarming of w.
func (c *Ctx) StopWatchdog(w *Watchdog) {
	c.wdogOps = append(c.wdogOps, stagedWdogOp{wdog: w, stop: true})
}

// SetMode stages a reset transition of the reaction's reactor to m. The
// current instant finishes under the old mode; m's reaction set governs
// from the next tag, with m's timers restarted from the transition
// instant. The last SetMode within an instant wins.
func (c *Ctx) SetMode(m *Mode) {
	c.setMode(m, ResetTransition)
}

// SetModeHistory stages a history transition: m resumes without
// reinitializing its local timers' offsets.
func (c *Ctx) SetModeHistory(m *Mode) {
	c.setMode(m, HistoryTransition)
}

func (c *Ctx) setMode(m *Mode, kind TransitionKind) {
	if m.reactor != c.reaction.reactor {
		c.fail(fmt.Errorf("reaction %s cannot set mode of foreign reactor %s", c.reaction.FullName(), m.reactor.name))
		return
	}
	c.modeReq = &modeRequest{target: m, kind: kind, from: c.reaction}
}

// RequestStop asks the scheduler to end the run after the current tag.
// Shutdown reactions still execute. The error, which may be nil, is
// returned from Scheduler.Run; this is the fail-fast path for validation
// reactors that detect an invariant violation.
func (c *Ctx) RequestStop(err error) {
	c.stop = &StopError{
		Reactor:  c.reaction.reactor.name,
		Reaction: c.reaction.name,
		Cause:    err,
	}
}

// CurrentTag returns the tag being executed.
func (c *Ctx) CurrentTag() tag.Tag { return c.tag }

// LogicalTime returns the logical time component of the current tag.
func (c *Ctx) LogicalTime() time.Time { return c.tag.LogicalTime() }

// PhysicalTime reads the physical clock.
func (c *Ctx) PhysicalTime() time.Time { return c.s.clock.Now() }

// Logger returns a logger scoped to the executing reaction.
func (c *Ctx) Logger() *slog.Logger { return c.logger }

func (c *Ctx) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}
