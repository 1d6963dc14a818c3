package runtime

import (
	"time"

	"github.com/roach88/tachyon/internal/tag"
)

// deadlineMissed decides, at the moment a reaction is about to execute,
// whether its physical budget is already spent. The comparison is
// physical time at execution against the triggering event's logical time;
// a miss routes the invocation to the deadline handler instead of the
// normal body. One-shot: a violated reaction never re-executes for the
// same event.
func deadlineMissed(rx *Reaction, trigger tag.Tag, now time.Time) bool {
	if rx.deadline <= 0 || rx.deadlineHandler == nil {
		return false
	}
	return trigger.Lag(now) > rx.deadline
}
