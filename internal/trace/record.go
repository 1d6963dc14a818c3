// Package trace records the serialized execution of a run.
//
// The scheduler reports every reaction execution, deadline miss, watchdog
// firing, and mode switch through the runtime.Observer interface; a
// Recorder turns those callbacks into an ordered list of Records. Because
// the scheduler's serialization is deterministic for fixed structure and
// inputs, two runs of the same program produce identical traces - Diff
// makes that property testable, and the SQLite store makes it auditable
// after the fact.
package trace

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/tachyon/internal/tag"
)

// Kind labels what a record captures.
type Kind string

const (
	KindReaction     Kind = "reaction"
	KindDeadlineMiss Kind = "deadline_miss"
	KindWatchdogFire Kind = "watchdog_fire"
	KindModeSwitch   Kind = "mode_switch"
)

// Record is one entry of an execution trace.
type Record struct {
	Seq     int64   `json:"seq"`
	Tag     tag.Tag `json:"tag"`
	Reactor string  `json:"reactor"`
	Name    string  `json:"name"` // reaction, watchdog, or "from->to" for mode switches
	Kind    Kind    `json:"kind"`
}

// String renders the record in the stable single-line form used by golden
// files and diffs.
func (r Record) String() string {
	return fmt.Sprintf("%d %s %s %s.%s", r.Seq, r.Tag, r.Kind, r.Reactor, r.Name)
}

// MemoryRecorder implements runtime.Observer, buffering records in
// memory. Safe for concurrent reads while a run is in progress.
type MemoryRecorder struct {
	mu      sync.Mutex
	seq     int64
	records []Record
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) append(t tag.Tag, reactor, name string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.records = append(m.records, Record{
		Seq:     m.seq,
		Tag:     t,
		Reactor: reactor,
		Name:    name,
		Kind:    kind,
	})
}

// OnReaction implements runtime.Observer.
func (m *MemoryRecorder) OnReaction(t tag.Tag, reactor, reaction string) {
	m.append(t, reactor, reaction, KindReaction)
}

// OnDeadlineMiss implements runtime.Observer.
func (m *MemoryRecorder) OnDeadlineMiss(t tag.Tag, reactor, reaction string, _ time.Duration) {
	m.append(t, reactor, reaction, KindDeadlineMiss)
}

// OnWatchdogFire implements runtime.Observer.
func (m *MemoryRecorder) OnWatchdogFire(t tag.Tag, reactor, watchdog string) {
	m.append(t, reactor, watchdog, KindWatchdogFire)
}

// OnModeSwitch implements runtime.Observer.
func (m *MemoryRecorder) OnModeSwitch(t tag.Tag, reactor, from, to string) {
	m.append(t, reactor, from+"->"+to, KindModeSwitch)
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Rebase shifts every tag so the first record sits at logical time zero.
// Traces from different wall-clock starts become comparable; microsteps
// and relative spacing are untouched.
func Rebase(records []Record) []Record {
	if len(records) == 0 {
		return nil
	}
	base := records[0].Tag.Time
	out := make([]Record, len(records))
	for i, r := range records {
		r.Tag.Time -= base
		out[i] = r
	}
	return out
}

// Diff compares two traces and returns a human-readable description of
// the first divergences, or nil when they match. Used to verify that
// repeated runs of a deterministic program serialize identically.
func Diff(a, b []Record) []string {
	var diffs []string
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		x, y := a[i], b[i]
		if x.Kind != y.Kind || x.Reactor != y.Reactor || x.Name != y.Name || x.Tag.Compare(y.Tag) != 0 {
			diffs = append(diffs, fmt.Sprintf("entry %d: %s != %s", i, x, y))
			if len(diffs) >= 10 {
				return diffs
			}
		}
	}
	if len(a) != len(b) {
		diffs = append(diffs, fmt.Sprintf("length mismatch: %d vs %d entries", len(a), len(b)))
	}
	return diffs
}
