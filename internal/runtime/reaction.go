package runtime

import "time"

// Body is the code of a reaction. It runs on the scheduler goroutine.
// Effects issued through the Ctx are staged and applied atomically when
// the body returns; a returned error is logged and the run continues
// (use Ctx.RequestStop for fail-fast termination).
type Body func(c *Ctx) error

// TriggerSource is anything a reaction can be triggered by: a *Port, an
// *Action, a *Timer, or the program's startup/shutdown triggers.
type TriggerSource interface {
	sourceName() string
	addObserver(rx *Reaction)
	observerList() []*Reaction
}

// Effect is anything a reaction may write: a *Port or an *Action. The
// effect set declared at construction bounds what the reaction graph has
// to account for; writing an undeclared effect is rejected at runtime.
type Effect interface {
	effectName() string
}

func (p *Port) sourceName() string        { return p.FullName() }
func (p *Port) addObserver(rx *Reaction)  { p.observers = append(p.observers, rx) }
func (p *Port) observerList() []*Reaction { return p.observers }
func (p *Port) effectName() string        { return p.FullName() }

func (a *Action) sourceName() string        { return a.FullName() }
func (a *Action) addObserver(rx *Reaction)  { a.observers = append(a.observers, rx) }
func (a *Action) observerList() []*Reaction { return a.observers }
func (a *Action) effectName() string        { return a.FullName() }

func (t *Timer) sourceName() string        { return t.FullName() }
func (t *Timer) addObserver(rx *Reaction)  { t.observers = append(t.observers, rx) }
func (t *Timer) observerList() []*Reaction { return t.observers }

// Reaction binds a trigger set to a body with a declared effect set.
// Reactions are immutable once the program is assembled. Priority is
// declaration order within the owning reactor; the reaction graph turns
// it into execution order within a logical instant.
type Reaction struct {
	reactor  *Reactor
	name     string
	triggers []TriggerSource
	effects  []Effect
	body     Body
	priority int

	// deadline is the physical budget relative to the triggering
	// event's logical time; zero means none.
	deadline        time.Duration
	deadlineHandler Body

	// mode restricts the reaction to one mode of its reactor; nil means
	// always active.
	mode *Mode

	// watchdog is set on synthetic expiration-handler reactions.
	watchdog *Watchdog

	// level and index are assigned by the reaction graph at assembly.
	level int
	index int
}

// AddReaction declares a reaction on r. Triggers and effects must belong
// to r or, for ports, be connected to it; the declaration order fixes the
// reaction's priority relative to its siblings.
func (r *Reactor) AddReaction(name string, triggers []TriggerSource, effects []Effect, body Body) *Reaction {
	rx := &Reaction{
		reactor:  r,
		name:     name,
		triggers: triggers,
		effects:  effects,
		body:     body,
		priority: len(r.reactions),
	}
	for _, t := range triggers {
		t.addObserver(rx)
	}
	r.reactions = append(r.reactions, rx)
	r.program.reactions = append(r.program.reactions, rx)
	return rx
}

// WithDeadline declares a physical-time budget for the reaction. If the
// lag between physical time at execution and the triggering tag's logical
// time exceeds budget, handler runs instead of the normal body - exactly
// one of the two, decided once per triggering event.
func (rx *Reaction) WithDeadline(budget time.Duration, handler Body) *Reaction {
	rx.deadline = budget
	rx.deadlineHandler = handler
	return rx
}

// FullName returns "reactor.reaction".
func (rx *Reaction) FullName() string { return rx.reactor.name + "." + rx.name }

// declaresEffect reports whether e is in the reaction's declared effect
// set. Watchdog handlers are unconstrained: they are synthesized without
// a declaration and may write any port of their reactor.
func (rx *Reaction) declaresEffect(e Effect) bool {
	if rx.watchdog != nil {
		return true
	}
	for _, d := range rx.effects {
		if d == e {
			return true
		}
	}
	return false
}

// activeIn reports whether the reaction may run while the given reactor
// mode state is current.
func (rx *Reaction) activeIn(active *Mode) bool {
	return rx.mode == nil || rx.mode == active
}
