// Package tag defines the ordering key for all events in a tachyon program.
//
// A Tag is a (logical time, microstep) pair. Logical time is nanoseconds on
// the same absolute axis as the physical clock, which lets the scheduler
// compare "when an event is due" against "what time it is" without any
// translation layer. The microstep separates events scheduled at the same
// logical time: a zero-delay schedule lands one microstep later, never at
// the same tag.
//
// Tags are totally ordered, lexicographic on (Time, Microstep). The
// scheduler guarantees tags strictly increase over the life of a run.
package tag

import (
	"fmt"
	"time"
)

// Tag orders events. Time is nanoseconds since the Unix epoch; Microstep
// disambiguates events at the same logical time.
type Tag struct {
	Time      int64
	Microstep uint32
}

// FromTime maps a physical instant onto the logical axis at microstep 0.
func FromTime(t time.Time) Tag {
	return Tag{Time: t.UnixNano()}
}

// Compare returns -1, 0, or 1 as t orders before, equal to, or after o.
func (t Tag) Compare(o Tag) int {
	switch {
	case t.Time < o.Time:
		return -1
	case t.Time > o.Time:
		return 1
	case t.Microstep < o.Microstep:
		return -1
	case t.Microstep > o.Microstep:
		return 1
	default:
		return 0
	}
}

// Before reports whether t orders strictly before o.
func (t Tag) Before(o Tag) bool { return t.Compare(o) < 0 }

// After reports whether t orders strictly after o.
func (t Tag) After(o Tag) bool { return t.Compare(o) > 0 }

// Next returns the immediate successor of t: same logical time, one
// microstep later.
func (t Tag) Next() Tag {
	return Tag{Time: t.Time, Microstep: t.Microstep + 1}
}

// Delay returns the tag d after t. A zero delay is the microstep successor;
// any positive delay advances logical time and resets the microstep to 0.
func (t Tag) Delay(d time.Duration) Tag {
	if d <= 0 {
		return t.Next()
	}
	return Tag{Time: t.Time + d.Nanoseconds()}
}

// LogicalTime returns the logical time component as a time.Time.
func (t Tag) LogicalTime() time.Time {
	return time.Unix(0, t.Time)
}

// Lag returns how far the physical instant now is past t's logical time.
// Negative when the tag is still in the physical future.
func (t Tag) Lag(now time.Time) time.Duration {
	return time.Duration(now.UnixNano() - t.Time)
}

// Max returns the later of a and b.
func Max(a, b Tag) Tag {
	if a.Before(b) {
		return b
	}
	return a
}

// String renders the tag as "(seconds.nanos, microstep)".
func (t Tag) String() string {
	return fmt.Sprintf("(%d.%09d, %d)", t.Time/int64(time.Second), t.Time%int64(time.Second), t.Microstep)
}
