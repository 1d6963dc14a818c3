package runtime

import (
	"fmt"
	"time"
)

// TransitionKind distinguishes how a mode is entered.
type TransitionKind int

const (
	// ResetTransition reinitializes the target mode's local state:
	// mode-owned timers restart their offset/period from the transition
	// instant and queued firings from the previous activation are voided.
	ResetTransition TransitionKind = iota + 1

	// HistoryTransition resumes the target mode where it left off:
	// timers continue their cadence from the transition instant without
	// replaying their start offset.
	HistoryTransition
)

func (k TransitionKind) String() string {
	switch k {
	case ResetTransition:
		return "reset"
	case HistoryTransition:
		return "history"
	default:
		return "unknown"
	}
}

// Mode is a named state of a reactor instance. Each mode owns a disjoint
// subset of the reactor's reactions plus optionally private timers.
// Exactly one mode of a reactor is active at any logical instant.
type Mode struct {
	reactor   *Reactor
	name      string
	initial   bool
	reactions []*Reaction
	timers    []*Timer
}

// NewMode declares a mode on r. Exactly one mode per reactor must be
// declared initial; this is validated at Assemble().
func (r *Reactor) NewMode(name string, initial bool) *Mode {
	if r.modes == nil {
		r.modes = &modeMachine{reactor: r, byName: make(map[string]*Mode)}
	}
	m := &Mode{reactor: r, name: name, initial: initial}
	r.modes.modes = append(r.modes.modes, m)
	r.modes.byName[name] = m
	return m
}

// Name returns the mode name.
func (m *Mode) Name() string { return m.name }

// AddReaction declares a reaction enabled only while m is active.
func (m *Mode) AddReaction(name string, triggers []TriggerSource, effects []Effect, body Body) *Reaction {
	rx := m.reactor.AddReaction(name, triggers, effects, body)
	rx.mode = m
	m.reactions = append(m.reactions, rx)
	return rx
}

// NewTimer declares a timer private to m. It runs only while m is active.
func (m *Mode) NewTimer(name string, offset, period time.Duration) *Timer {
	t := m.reactor.NewTimer(name, offset, period)
	t.mode = m
	m.timers = append(m.timers, t)
	return t
}

// NewWatchdog declares a watchdog whose expiration handler is enabled
// only while m is active. Arming survives mode changes; the handler is
// simply inert outside its mode.
func (m *Mode) NewWatchdog(name string, timeout time.Duration, handler Body) *Watchdog {
	w := m.reactor.NewWatchdog(name, timeout, handler)
	w.handler.mode = m
	m.reactions = append(m.reactions, w.handler)
	return w
}

// modeMachine tracks the active mode of one reactor and the pending
// transition, if any. Mutated only by the scheduler goroutine.
type modeMachine struct {
	reactor *Reactor
	modes   []*Mode
	byName  map[string]*Mode
	active  *Mode
	pending *modeRequest
}

// modeRequest is a staged SetMode call awaiting the end of the current
// tag.
type modeRequest struct {
	target *Mode
	kind   TransitionKind
	from   *Reaction
}

func (mm *modeMachine) validate() error {
	var initial *Mode
	for _, m := range mm.modes {
		if m.initial {
			if initial != nil {
				return &ConstructionError{
					Code:    ErrCodeInvalidMode,
					Message: fmt.Sprintf("modes %q and %q both declared initial", initial.name, m.name),
					Reactor: mm.reactor.name,
				}
			}
			initial = m
		}
	}
	if initial == nil {
		return &ConstructionError{
			Code:    ErrCodeInvalidMode,
			Message: "no initial mode declared",
			Reactor: mm.reactor.name,
		}
	}
	mm.active = initial
	return nil
}

// request stages a transition. The last request within a tag wins;
// request reports whether it overrode an earlier one so the scheduler can
// log the override.
func (mm *modeMachine) request(req *modeRequest) (overrode *modeRequest) {
	overrode = mm.pending
	mm.pending = req
	return overrode
}

// takePending consumes the staged transition, if any. A transition to
// the already-active mode is still delivered: a reset re-entry restarts
// the mode's timers, which is the demonstrated failover refresh pattern.
func (mm *modeMachine) takePending() *modeRequest {
	req := mm.pending
	mm.pending = nil
	return req
}
