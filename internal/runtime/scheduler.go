package runtime

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/tachyon/internal/tag"
)

// Observer receives execution notifications from the scheduler. Trace
// recorders implement it. Callbacks run on the scheduler goroutine in
// execution order, so a recorder sees the exact serialization of the run.
type Observer interface {
	OnReaction(t tag.Tag, reactor, reaction string)
	OnDeadlineMiss(t tag.Tag, reactor, reaction string, lag time.Duration)
	OnWatchdogFire(t tag.Tag, reactor, watchdog string)
	OnModeSwitch(t tag.Tag, reactor, from, to string)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock substitutes the physical clock. Defaults to WallClock.
func WithClock(c PhysicalClock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTimeout ends the run after d of logical time, executing shutdown
// reactions at the final tag.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithKeepalive keeps an idle scheduler alive waiting for physical events
// (injected actions, watchdog expirations, federated inputs) instead of
// terminating when the event queue drains.
func WithKeepalive() Option {
	return func(s *Scheduler) { s.keepalive = true }
}

// WithFastMode delivers purely logical events as soon as their tag is
// reached instead of pacing logical time against the physical clock.
// Physically-sourced events are always gated on physical time regardless.
func WithFastMode() Option {
	return func(s *Scheduler) { s.fast = true }
}

// WithObserver registers an execution observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

// WithLogger substitutes the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics registers scheduler metrics with reg. A nil registry
// leaves metrics disabled.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.metricsReg = reg }
}

// Scheduler advances a program's logical time one tag at a time.
//
// All mutation of ports, modes, and reactor state happens on the single
// goroutine that calls Run. The event queue and the watchdog monitor are
// the only structures shared with other goroutines and carry their own
// locks.
type Scheduler struct {
	prog       *Program
	clock      PhysicalClock
	queue      *eventQueue
	monitor    *watchdogMonitor
	logger     *slog.Logger
	observers  []Observer
	metrics    *schedulerMetrics
	metricsReg prometheus.Registerer

	timeout   time.Duration
	keepalive bool
	fast      bool

	// curMu guards current/hasCurrent for readers off the scheduler
	// goroutine (physical injection, federation).
	curMu      sync.Mutex
	current    tag.Tag
	hasCurrent bool

	startTag tag.Tag
	started  bool

	// writtenSlots are ports/actions made present at the tag being
	// executed; presence is cleared before the next tag is delivered.
	writtenSlots []presenceSlot

	stopRequested bool
	stopErr       error
	stopScheduled bool
}

type presenceSlot interface{ clearPresence() }

func (p *Port) clearPresence()   { p.present = false }
func (a *Action) clearPresence() { a.present = false }

// NewScheduler assembles the program and builds a scheduler for it.
func NewScheduler(p *Program, opts ...Option) (*Scheduler, error) {
	if err := p.Assemble(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		prog:    p,
		clock:   WallClock{},
		queue:   newEventQueue(),
		logger:  slog.Default(),
		timeout: 0,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.monitor = newWatchdogMonitor(s.clock)

	m, err := newSchedulerMetrics(s.metricsReg, p.name)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	s.metrics = m
	s.logger = s.logger.With("program", p.name)
	return s, nil
}

// CurrentTag returns the most recently executed tag. Safe from any
// goroutine; returns the start tag before the first instant executes.
func (s *Scheduler) CurrentTag() tag.Tag {
	s.curMu.Lock()
	defer s.curMu.Unlock()
	return s.current
}

// nextTagFloor is the earliest tag a new event may legally carry.
func (s *Scheduler) nextTagFloor() tag.Tag {
	s.curMu.Lock()
	defer s.curMu.Unlock()
	if !s.hasCurrent {
		return s.startTag
	}
	return s.current.Next()
}

func (s *Scheduler) setCurrent(t tag.Tag) {
	s.curMu.Lock()
	s.current = t
	s.hasCurrent = true
	s.curMu.Unlock()
}

// InjectPhysical schedules a physical action from outside the logical
// timeline. The event's tag is the current physical time mapped to
// logical, bounded below by the next unexecuted tag. Safe from any
// goroutine.
func (s *Scheduler) InjectPhysical(a *Action, v any) error {
	if !a.physical {
		return fmt.Errorf("action %s is logical; schedule it from a reaction", a.FullName())
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(a.typ) {
		return fmt.Errorf("action %s expects %s, got %T", a.FullName(), a.typ, v)
	}
	t := tag.Max(tag.FromTime(s.clock.Now()), s.nextTagFloor())
	if !s.queue.push(&Event{Tag: t, Value: v, physical: true, action: a}) {
		return fmt.Errorf("scheduler stopped; dropping injection on %s", a.FullName())
	}
	return nil
}

// InjectAt schedules a value on an input port at an explicit tag,
// typically a tag received from another federate. If t has already been
// passed, the event is delivered at the earliest available tag instead
// and reported late. Returns the effective tag. Safe from any goroutine.
func (s *Scheduler) InjectAt(p *Port, t tag.Tag, v any) (tag.Tag, bool, error) {
	if v != nil && !reflect.TypeOf(v).AssignableTo(p.typ) {
		return tag.Tag{}, false, fmt.Errorf("port %s expects %s, got %T", p.FullName(), p.typ, v)
	}
	effective := t
	late := false
	if floor := s.nextTagFloor(); effective.Before(floor) {
		effective = floor
		late = true
	}
	if !s.queue.push(&Event{Tag: effective, Value: v, physical: true, port: p}) {
		return tag.Tag{}, false, fmt.Errorf("scheduler stopped; dropping injection on %s", p.FullName())
	}
	return effective, late, nil
}

// Run executes the program until the queue drains (without keepalive),
// the configured timeout elapses, a reaction requests a stop, or the
// context is cancelled. Must be called from exactly one goroutine, once.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("scheduler already ran")
	}
	s.started = true
	defer s.queue.close()

	startPhysical := s.clock.Now()
	s.startTag = tag.FromTime(startPhysical)
	s.seed()

	s.logger.Info("scheduler starting",
		"start_tag", s.startTag.String(),
		"reactors", len(s.prog.reactors),
		"reactions", len(s.prog.reactions),
		"fast", s.fast,
		"keepalive", s.keepalive,
	)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler stopping: context cancelled")
			return err
		}

		// Watchdog expirations feed the logical domain only here, as
		// synthetic events at the earliest admissible tag.
		now := s.clock.Now()
		for _, exp := range s.monitor.expire(now) {
			t := tag.Max(tag.FromTime(now), s.nextTagFloor())
			s.queue.push(&Event{Tag: t, physical: true, wdog: exp.wdog, wdogGen: exp.generation})
			s.logger.Debug("watchdog expired",
				"watchdog", exp.wdog.FullName(),
				"tag", t.String(),
			)
		}

		ev, ok := s.queue.peek()
		if !ok {
			if done, err := s.idle(ctx); done {
				return err
			}
			continue
		}

		// An injection can race the loop and land behind the tag just
		// executed; lift it to the earliest available tag.
		if floor := s.nextTagFloor(); ev.Tag.Before(floor) {
			_, batch := s.queue.popBatch()
			for _, b := range batch {
				b.Tag = floor
				s.queue.push(b)
			}
			continue
		}

		if s.mustGate(ev) {
			due := ev.Tag.LogicalTime()
			if now := s.clock.Now(); now.Before(due) {
				s.waitFor(ctx, due.Sub(now))
				continue // re-evaluate: earlier events or expirations may exist now
			}
		}

		t, batch := s.queue.popBatch()
		done := s.executeTag(t, batch)
		if done {
			if dropped := s.queue.len(); dropped > 0 {
				s.logger.Info("shutdown: dropping events past final tag", "count", dropped)
			}
			s.logger.Info("scheduler stopped", "final_tag", t.String())
			return s.stopErr
		}
		if s.stopRequested {
			s.scheduleShutdown()
		}
	}
}

// seed enqueues the startup event, the initial timer firings, and the
// timeout-driven shutdown event.
func (s *Scheduler) seed() {
	s.queue.push(&Event{Tag: s.startTag, builtin: s.prog.startup})

	for _, r := range s.prog.reactors {
		for _, tm := range r.timers {
			if tm.mode != nil && (r.modes == nil || r.modes.active != tm.mode) {
				continue // scheduled on first mode entry
			}
			s.queue.push(&Event{Tag: timerTag(s.startTag, tm.offset), timer: tm, timerGen: tm.generation})
		}
	}

	if s.timeout > 0 {
		s.queue.push(&Event{Tag: s.startTag.Delay(s.timeout), builtin: s.prog.shutdown})
	}
}

// timerTag places a timer firing at base+offset; a zero offset fires at
// base itself, together with startup.
func timerTag(base tag.Tag, offset time.Duration) tag.Tag {
	if offset <= 0 {
		return base
	}
	return base.Delay(offset)
}

// scheduleShutdown arranges the final tag after a requested stop. It
// runs even when a timeout shutdown is already queued: the stop must end
// the run at the next tag, not at the configured horizon.
func (s *Scheduler) scheduleShutdown() {
	if s.stopScheduled {
		return
	}
	s.stopScheduled = true
	s.queue.push(&Event{Tag: s.nextTagFloor(), builtin: s.prog.shutdown})
}

// mustGate reports whether delivering the minimal-tag batch headed by ev
// must wait for physical time to reach its tag. A physically-sourced
// event anywhere in the batch always waits; purely logical batches wait
// only when pacing is on (fast mode off).
func (s *Scheduler) mustGate(ev *Event) bool {
	if !s.fast {
		return true
	}
	return ev.physical || s.queue.headBatchPhysical()
}

// idle handles an empty queue: terminate or wait for a physical source.
// Returns done=true when the run is over.
func (s *Scheduler) idle(ctx context.Context) (bool, error) {
	_, armed := s.monitor.nextDeadline()
	if !s.keepalive && !armed {
		// Nothing can ever arrive: run the shutdown instant and stop.
		t := s.nextTagFloor()
		s.executeTag(t, []*Event{{Tag: t, builtin: s.prog.shutdown}})
		s.logger.Info("scheduler stopped: queue drained", "final_tag", t.String())
		return true, s.stopErr
	}
	s.waitFor(ctx, 0)
	return false, nil
}

// waitFor blocks until d elapses (when d > 0), an event is pushed, a
// watchdog deadline passes, or the context is cancelled - whichever
// physical instant comes first. This is the scheduler's one suspend
// point; reaction execution never blocks it.
func (s *Scheduler) waitFor(ctx context.Context, d time.Duration) {
	var timer <-chan time.Time
	if deadline, ok := s.monitor.nextDeadline(); ok {
		wd := deadline.Sub(s.clock.Now())
		if d <= 0 || wd < d {
			d = wd
		}
	}
	if d > 0 {
		timer = s.clock.After(d)
	} else if d < 0 {
		return // already due
	}

	select {
	case <-ctx.Done():
	case <-s.queue.wait():
	case <-timer:
	}
}

// executeTag runs one logical instant. Returns true when the instant
// carried the shutdown trigger, ending the run.
func (s *Scheduler) executeTag(t tag.Tag, batch []*Event) bool {
	// Presence from the previous instant expires now.
	for _, slot := range s.writtenSlots {
		slot.clearPresence()
	}
	s.writtenSlots = s.writtenSlots[:0]

	s.setCurrent(t)

	ready := &reactionHeap{}
	enqueued := make(map[*Reaction]bool)
	// fires holds watchdog handlers readied this instant, keyed to their
	// captured expiration. The generation is re-verified when the handler
	// is popped, so a stop or re-arm executed earlier in the same instant
	// still cancels the firing.
	var fires map[*Reaction]*Event
	final := false

	for _, ev := range batch {
		switch {
		case ev.timer != nil:
			tm := ev.timer
			if ev.timerGen != tm.generation {
				continue // voided by a mode reset
			}
			if tm.mode != nil && tm.reactor.modes.active != tm.mode {
				continue // suspended with its mode
			}
			s.metrics.observeEvent("timer")
			s.enqueueAll(ready, enqueued, tm.observers)
			if tm.period > 0 {
				s.queue.push(&Event{Tag: t.Delay(tm.period), timer: tm, timerGen: ev.timerGen})
			}

		case ev.action != nil:
			a := ev.action
			a.value, a.present, a.writtenAt = ev.Value, true, t
			s.writtenSlots = append(s.writtenSlots, a)
			s.metrics.observeEvent("action")
			s.enqueueAll(ready, enqueued, a.observers)

		case ev.port != nil:
			s.metrics.observeEvent("port")
			s.applyPortWrite(ev.port, ev.Value, t, ready, enqueued)

		case ev.wdog != nil:
			if !s.monitor.current(ev.wdog, ev.wdogGen) {
				s.logger.Debug("stale watchdog expiration dropped", "watchdog", ev.wdog.FullName())
				continue
			}
			s.metrics.observeEvent("watchdog")
			if fires == nil {
				fires = make(map[*Reaction]*Event)
			}
			fires[ev.wdog.handler] = ev
			s.enqueueOne(ready, enqueued, ev.wdog.handler)

		case ev.builtin != nil:
			s.metrics.observeEvent(ev.builtin.name)
			if ev.builtin == s.prog.shutdown {
				final = true
			}
			s.enqueueAll(ready, enqueued, ev.builtin.observers)
		}
	}

	for ready.Len() > 0 {
		rx := heap.Pop(ready).(*Reaction)
		if ev, ok := fires[rx]; ok {
			if !s.monitor.current(ev.wdog, ev.wdogGen) {
				s.logger.Debug("watchdog expiration cancelled within instant", "watchdog", ev.wdog.FullName())
				continue
			}
			s.metrics.observeWatchdogFiring()
			for _, o := range s.observers {
				o.OnWatchdogFire(t, ev.wdog.reactor.name, ev.wdog.name)
			}
		}
		s.invoke(rx, t, ready, enqueued)
	}

	s.applyModeTransitions(t)
	s.metrics.observeTag(t.Lag(s.clock.Now()), s.queue.len())
	return final
}

// invoke runs one reaction at tag t: deadline decision, body, then
// atomic application of staged effects.
func (s *Scheduler) invoke(rx *Reaction, t tag.Tag, ready *reactionHeap, enqueued map[*Reaction]bool) {
	now := s.clock.Now()
	body := rx.body
	missed := deadlineMissed(rx, t, now)
	if missed {
		body = rx.deadlineHandler
		s.metrics.observeDeadlineMiss()
	} else {
		s.metrics.observeReaction()
	}

	c := &Ctx{
		s:        s,
		reaction: rx,
		tag:      t,
		logger:   s.logger.With("reactor", rx.reactor.name, "reaction", rx.name),
	}
	if err := body(c); err != nil {
		// Log and continue: retries would break deterministic replay.
		s.logger.Error("reaction failed",
			"error", err,
			"reactor", rx.reactor.name,
			"reaction", rx.name,
			"tag", t.String(),
		)
	}
	if c.err != nil {
		s.logger.Error("reaction staged invalid effect",
			"error", c.err,
			"reactor", rx.reactor.name,
			"reaction", rx.name,
		)
	}

	s.applyStaged(c, t, ready, enqueued)

	if missed {
		lag := t.Lag(now)
		for _, o := range s.observers {
			o.OnDeadlineMiss(t, rx.reactor.name, rx.name, lag)
		}
	} else {
		for _, o := range s.observers {
			o.OnReaction(t, rx.reactor.name, rx.name)
		}
	}
}

// applyStaged applies a finished reaction's staged effects in order:
// port writes, schedules, watchdog ops, mode request, stop request.
func (s *Scheduler) applyStaged(c *Ctx, t tag.Tag, ready *reactionHeap, enqueued map[*Reaction]bool) {
	for _, w := range c.writes {
		s.applyPortWrite(w.port, w.value, t, ready, enqueued)
	}
	for _, sc := range c.schedules {
		s.queue.push(&Event{Tag: t.Delay(sc.action.minDelay + sc.delay), Value: sc.value, action: sc.action})
	}
	for _, op := range c.wdogOps {
		if op.stop {
			s.monitor.stop(op.wdog)
		} else {
			s.monitor.start(op.wdog, op.timeout)
		}
	}
	if c.modeReq != nil {
		mm := c.reaction.reactor.modes
		if mm == nil {
			s.logger.Error("SetMode on reactor without modes", "reactor", c.reaction.reactor.name)
		} else if prev := mm.request(c.modeReq); prev != nil {
			s.logger.Warn("mode request overridden within instant",
				"reactor", c.reaction.reactor.name,
				"overridden", prev.target.name,
				"winner", c.modeReq.target.name,
			)
		}
	}
	if c.stop != nil && !s.stopRequested {
		s.stopRequested = true
		if c.stop.Cause != nil {
			s.stopErr = c.stop
			s.logger.Error("stop requested", "error", c.stop.Cause, "by", c.stop.Reactor+"."+c.stop.Reaction)
		} else {
			s.logger.Info("stop requested", "by", c.stop.Reactor+"."+c.stop.Reaction)
		}
	}
}

// applyPortWrite makes v present on port and every port transitively
// connected downstream, fires boundary sinks, and readies the triggered
// reactions.
func (s *Scheduler) applyPortWrite(port *Port, v any, t tag.Tag, ready *reactionHeap, enqueued map[*Reaction]bool) {
	seen := map[*Port]bool{}
	stack := []*Port{port}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[p] {
			continue
		}
		seen[p] = true

		if !p.present {
			s.writtenSlots = append(s.writtenSlots, p)
		}
		p.value, p.present, p.writtenAt = v, true, t
		for _, sink := range p.sinks {
			sink(t, v)
		}
		s.enqueueAll(ready, enqueued, p.observers)
		stack = append(stack, p.downstream...)
	}
}

func (s *Scheduler) enqueueAll(ready *reactionHeap, enqueued map[*Reaction]bool, rxs []*Reaction) {
	for _, rx := range rxs {
		s.enqueueOne(ready, enqueued, rx)
	}
}

func (s *Scheduler) enqueueOne(ready *reactionHeap, enqueued map[*Reaction]bool, rx *Reaction) {
	if enqueued[rx] {
		return
	}
	if rx.mode != nil {
		mm := rx.reactor.modes
		if mm == nil || !rx.activeIn(mm.active) {
			return // reaction inactive in the current mode
		}
	}
	enqueued[rx] = true
	heap.Push(ready, rx)
}

// applyModeTransitions applies at most one staged transition per reactor,
// after all reactions of the tag have completed. The new mode governs
// from the next tag.
func (s *Scheduler) applyModeTransitions(t tag.Tag) {
	for _, r := range s.prog.reactors {
		if r.modes == nil {
			continue
		}
		req := r.modes.takePending()
		if req == nil {
			continue
		}
		from := r.modes.active
		r.modes.active = req.target

		for _, tm := range req.target.timers {
			tm.generation++
			var next tag.Tag
			switch {
			case req.kind == ResetTransition:
				next = timerTag(t.Next(), tm.offset)
			case tm.period > 0:
				next = t.Delay(tm.period)
			default:
				continue // one-shot already spent; history keeps it spent
			}
			s.queue.push(&Event{Tag: next, timer: tm, timerGen: tm.generation})
		}

		s.metrics.observeModeTransition(r.name)
		for _, o := range s.observers {
			o.OnModeSwitch(t, r.name, from.name, req.target.name)
		}
		s.logger.Info("mode transition",
			"reactor", r.name,
			"from", from.name,
			"to", req.target.name,
			"kind", req.kind.String(),
			"tag", t.String(),
		)
	}
}

// reactionHeap orders ready reactions by (graph level, declaration index).
type reactionHeap []*Reaction

func (h reactionHeap) Len() int { return len(h) }

func (h reactionHeap) Less(i, j int) bool {
	if h[i].level != h[j].level {
		return h[i].level < h[j].level
	}
	return h[i].index < h[j].index
}

func (h reactionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *reactionHeap) Push(x any) { *h = append(*h, x.(*Reaction)) }

func (h *reactionHeap) Pop() any {
	old := *h
	n := len(old)
	rx := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return rx
}
