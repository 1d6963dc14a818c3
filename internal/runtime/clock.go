package runtime

import "time"

// PhysicalClock is the runtime's source of physical time.
//
// The scheduler uses it to gate physically-sourced events, to evaluate
// deadlines, and to decide when watchdogs expire. WallClock is the
// production implementation; tests substitute testutil.ManualClock so
// physical time only moves when the test says so.
type PhysicalClock interface {
	// Now returns the current physical instant. Must be monotonic.
	Now() time.Time

	// After returns a channel that delivers the clock value once d has
	// elapsed. The scheduler selects on it while waiting for the next
	// due event or watchdog deadline.
	After(d time.Duration) <-chan time.Time
}

// WallClock reads the operating system's monotonic clock.
type WallClock struct{}

// Now returns time.Now.
func (WallClock) Now() time.Time { return time.Now() }

// After defers to time.After.
func (WallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
