package runtime

import (
	"fmt"
	"reflect"
	"time"

	"github.com/roach88/tachyon/internal/tag"
)

// Program is a fixed composition of reactor instances and the connections
// between their ports. Structure is mutable until Assemble(), immutable
// afterwards; the scheduler refuses to run an unassembled program.
type Program struct {
	name      string
	reactors  []*Reactor
	reactions []*Reaction // global declaration order
	startup   *builtinTrigger
	shutdown  *builtinTrigger
	assembled bool
}

// NewProgram creates an empty program.
func NewProgram(name string) *Program {
	return &Program{
		name:     name,
		startup:  &builtinTrigger{name: "startup"},
		shutdown: &builtinTrigger{name: "shutdown"},
	}
}

// Name returns the program name.
func (p *Program) Name() string { return p.name }

// Startup returns the program-wide startup trigger. Reactions listing it
// fire once at the first tag of the run.
func (p *Program) Startup() TriggerSource { return p.startup }

// Shutdown returns the program-wide shutdown trigger. Reactions listing it
// fire once at the final tag, whether the run ends by timeout, by a
// drained queue, or by a requested stop.
func (p *Program) Shutdown() TriggerSource { return p.shutdown }

// NewReactor adds a reactor instance. Names must be unique within the
// program; duplicates surface as construction errors at Assemble().
func (p *Program) NewReactor(name string) *Reactor {
	r := &Reactor{program: p, name: name}
	p.reactors = append(p.reactors, r)
	return r
}

// Connect wires an upstream port to a downstream port. Values written to
// from become present on to within the same logical instant. Connections
// are directed, type-checked, and fixed at construction.
func (p *Program) Connect(from, to *Port) error {
	if p.assembled {
		return &ConstructionError{Code: ErrCodeInvalidConnection, Message: "program already assembled"}
	}
	if from == to {
		return &ConstructionError{Code: ErrCodeInvalidConnection, Message: fmt.Sprintf("port %s connected to itself", from.FullName())}
	}
	if from.typ != to.typ {
		return &ConstructionError{
			Code:    ErrCodeTypeMismatch,
			Message: fmt.Sprintf("cannot connect %s (%s) to %s (%s)", from.FullName(), from.typ, to.FullName(), to.typ),
		}
	}
	if to.upstream != nil {
		return &ConstructionError{
			Code:    ErrCodeInvalidConnection,
			Message: fmt.Sprintf("port %s already driven by %s", to.FullName(), to.upstream.FullName()),
		}
	}
	to.upstream = from
	from.downstream = append(from.downstream, to)
	return nil
}

// Assemble validates the program structure and computes the reaction
// graph. It must be called (directly or via NewScheduler) before the
// program runs. Assemble is idempotent once it has succeeded.
func (p *Program) Assemble() error {
	if p.assembled {
		return nil
	}

	seen := make(map[string]bool, len(p.reactors))
	for _, r := range p.reactors {
		if seen[r.name] {
			return &ConstructionError{Code: ErrCodeDuplicateName, Message: fmt.Sprintf("duplicate reactor %q", r.name)}
		}
		seen[r.name] = true
		if err := r.validate(); err != nil {
			return err
		}
	}

	if err := buildReactionGraph(p); err != nil {
		return err
	}

	p.assembled = true
	return nil
}

// Reactor is a unit owning ports, actions, timers, watchdogs, state,
// modes, and reactions. State lives in whatever the caller closes over in
// reaction bodies; the runtime does not constrain it.
type Reactor struct {
	program   *Program
	name      string
	ports     []*Port
	actions   []*Action
	timers    []*Timer
	watchdogs []*Watchdog
	reactions []*Reaction
	modes     *modeMachine
}

// Name returns the reactor instance name.
func (r *Reactor) Name() string { return r.name }

func (r *Reactor) validate() error {
	names := make(map[string]bool)
	check := func(n string) error {
		if names[n] {
			return &ConstructionError{
				Code:    ErrCodeDuplicateName,
				Message: fmt.Sprintf("duplicate element %q", n),
				Reactor: r.name,
			}
		}
		names[n] = true
		return nil
	}
	for _, p := range r.ports {
		if err := check(p.name); err != nil {
			return err
		}
	}
	for _, a := range r.actions {
		if err := check(a.name); err != nil {
			return err
		}
	}
	for _, t := range r.timers {
		if err := check(t.name); err != nil {
			return err
		}
	}
	for _, w := range r.watchdogs {
		if err := check(w.name); err != nil {
			return err
		}
	}
	if r.modes != nil {
		if err := r.modes.validate(); err != nil {
			return err
		}
	}
	return nil
}

// PortKind distinguishes input from output ports.
type PortKind int

const (
	// InputPort receives values from an upstream connection or an
	// external injector.
	InputPort PortKind = iota + 1
	// OutputPort is written by this reactor's reactions.
	OutputPort
)

// Port is a typed value slot. The value and present flag are valid only
// during the logical instant the port was written; the scheduler clears
// presence before delivering the next tag.
type Port struct {
	reactor    *Reactor
	name       string
	kind       PortKind
	typ        reflect.Type
	upstream   *Port
	downstream []*Port
	observers  []*Reaction
	sinks      []func(tag.Tag, any)

	value     any
	present   bool
	writtenAt tag.Tag
}

// NewInput declares a typed input port on r.
func NewInput[T any](r *Reactor, name string) *Port {
	return newPort[T](r, name, InputPort)
}

// NewOutput declares a typed output port on r.
func NewOutput[T any](r *Reactor, name string) *Port {
	return newPort[T](r, name, OutputPort)
}

func newPort[T any](r *Reactor, name string, kind PortKind) *Port {
	p := &Port{reactor: r, name: name, kind: kind, typ: reflect.TypeOf((*T)(nil)).Elem()}
	r.ports = append(r.ports, p)
	return p
}

// FullName returns "reactor.port".
func (p *Port) FullName() string { return p.reactor.name + "." + p.name }

// Type returns the declared value type.
func (p *Port) Type() reflect.Type { return p.typ }

// OnValue registers a boundary sink called whenever the port becomes
// present. Sinks are the core's output collaborators (actuators, network
// senders, test collectors); they run on the scheduler goroutine and must
// not block for unbounded time.
func (p *Port) OnValue(fn func(t tag.Tag, v any)) {
	p.sinks = append(p.sinks, fn)
}

// Action is a typed event slot used to schedule future events. Logical
// actions are scheduled from reaction bodies; physical actions are
// injected from outside the logical timeline (Scheduler.InjectPhysical)
// and are gated on physical time.
type Action struct {
	reactor   *Reactor
	name      string
	typ       reflect.Type
	physical  bool
	minDelay  time.Duration
	observers []*Reaction

	value     any
	present   bool
	writtenAt tag.Tag
}

// NewLogicalAction declares a logical action with a minimum delay added
// to every Schedule call. A zero minimum plus a zero additional delay
// schedules at the next microstep of the current tag.
func NewLogicalAction[T any](r *Reactor, name string, minDelay time.Duration) *Action {
	a := &Action{reactor: r, name: name, typ: reflect.TypeOf((*T)(nil)).Elem(), minDelay: minDelay}
	r.actions = append(r.actions, a)
	return a
}

// NewPhysicalAction declares a physical action. Its events originate
// outside the logical timeline and carry tags derived from the physical
// clock at injection.
func NewPhysicalAction[T any](r *Reactor, name string) *Action {
	a := &Action{reactor: r, name: name, typ: reflect.TypeOf((*T)(nil)).Elem(), physical: true}
	r.actions = append(r.actions, a)
	return a
}

// FullName returns "reactor.action".
func (a *Action) FullName() string { return a.reactor.name + "." + a.name }

// Timer fires at offset after startup and every period thereafter. A
// zero period makes it a one-shot. Timers owned by a mode run only while
// that mode is active and restart from the transition instant on reset
// entry.
type Timer struct {
	reactor   *Reactor
	name      string
	offset    time.Duration
	period    time.Duration
	mode      *Mode
	observers []*Reaction

	// generation invalidates queued firings after a mode reset.
	generation uint64
}

// NewTimer declares a reactor-level timer.
func (r *Reactor) NewTimer(name string, offset, period time.Duration) *Timer {
	t := &Timer{reactor: r, name: name, offset: offset, period: period}
	r.timers = append(r.timers, t)
	return t
}

// FullName returns "reactor.timer".
func (t *Timer) FullName() string { return t.reactor.name + "." + t.name }

// Watchdog is a physical-time countdown owned by a reactor. Its armed
// state lives in the scheduler's watchdog monitor; the declaration here
// only binds the default timeout and the expiration handler.
type Watchdog struct {
	reactor *Reactor
	name    string
	timeout time.Duration
	handler *Reaction
}

// NewWatchdog declares a watchdog with a default timeout and an
// expiration handler. The handler executes with the same visibility rules
// as any reaction: it may read and write ports, restart the watchdog, or
// change mode. It is serialized with all other reactions at its tag.
func (r *Reactor) NewWatchdog(name string, timeout time.Duration, handler Body) *Watchdog {
	w := &Watchdog{reactor: r, name: name, timeout: timeout}
	rx := &Reaction{
		reactor:  r,
		name:     name + "_expired",
		body:     handler,
		priority: len(r.reactions),
		watchdog: w,
	}
	w.handler = rx
	r.reactions = append(r.reactions, rx)
	r.program.reactions = append(r.program.reactions, rx)
	return w
}

// FullName returns "reactor.watchdog".
func (w *Watchdog) FullName() string { return w.reactor.name + "." + w.name }

// Timeout returns the default timeout.
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// builtinTrigger backs the program-wide startup and shutdown triggers.
type builtinTrigger struct {
	name      string
	observers []*Reaction
}

func (b *builtinTrigger) sourceName() string        { return b.name }
func (b *builtinTrigger) addObserver(rx *Reaction)  { b.observers = append(b.observers, rx) }
func (b *builtinTrigger) observerList() []*Reaction { return b.observers }
