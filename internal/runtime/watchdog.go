package runtime

import (
	"sync"
	"time"
)

// watchdogMonitor owns the physical-time countdown table. It is the one
// piece of state shared between the scheduler goroutine (which arms,
// disarms, and fires) and external wake sources, so every access goes
// through the mutex.
//
// Linearizability of stop versus fire comes from generation counters:
// every start or stop bumps the watchdog's generation, and an expiration
// event captured at generation g is delivered only if the entry still
// carries g. A stop executed at any tag at or before the expiration's tag
// therefore always wins - the stale event is dropped at delivery.
type watchdogMonitor struct {
	mu      sync.Mutex
	clock   PhysicalClock
	entries map[*Watchdog]*watchdogEntry
}

type watchdogEntry struct {
	armed      bool
	until      time.Time
	generation uint64
}

// expiration is a fire decision taken by the monitor, to be turned into a
// synthetic event by the scheduler.
type expiration struct {
	wdog       *Watchdog
	generation uint64
}

func newWatchdogMonitor(clock PhysicalClock) *watchdogMonitor {
	return &watchdogMonitor{
		clock:   clock,
		entries: make(map[*Watchdog]*watchdogEntry),
	}
}

// start (re)arms w to expire at now+timeout, cancelling any previously
// pending expiration for the same watchdog.
func (m *watchdogMonitor) start(w *Watchdog, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[w]
	if e == nil {
		e = &watchdogEntry{}
		m.entries[w] = e
	}
	e.armed = true
	e.until = m.clock.Now().Add(timeout)
	e.generation++
}

// stop disarms w. No expiration fires for the cancelled arming even if
// physical time later passes the armed instant.
func (m *watchdogMonitor) stop(w *Watchdog) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[w]
	if e == nil {
		return
	}
	e.armed = false
	e.generation++
}

// nextDeadline returns the earliest armed instant, if any. The scheduler
// folds it into its wait so an expiration wakes an otherwise-idle loop.
func (m *watchdogMonitor) nextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		earliest time.Time
		found    bool
	)
	for _, e := range m.entries {
		if e.armed && (!found || e.until.Before(earliest)) {
			earliest = e.until
			found = true
		}
	}
	return earliest, found
}

// expire collects every watchdog whose armed instant has been reached at
// now, disarming each. The generation is captured without bumping so a
// subsequent start or stop invalidates the returned expirations.
func (m *watchdogMonitor) expire(now time.Time) []expiration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fired []expiration
	for w, e := range m.entries {
		if e.armed && !e.until.After(now) {
			e.armed = false
			fired = append(fired, expiration{wdog: w, generation: e.generation})
		}
	}
	return fired
}

// current reports whether an expiration captured at generation gen is
// still the live decision for w. Any intervening start or stop makes the
// expiration stale.
func (m *watchdogMonitor) current(w *Watchdog, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[w]
	return e != nil && e.generation == gen
}
