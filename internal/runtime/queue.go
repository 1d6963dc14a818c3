package runtime

import (
	"container/heap"
	"sync"

	"github.com/roach88/tachyon/internal/tag"
)

// Event is a pending occurrence on the logical timeline. Exactly one of
// the target fields is set. The queue owns an event until delivery; after
// that its payload belongs to the triggered reactions' invocation context.
type Event struct {
	Tag   tag.Tag
	Value any

	// physical marks events sourced from the physical world (watchdog
	// expirations, physical actions, federated inputs). The scheduler
	// never delivers them before physical time reaches their tag.
	physical bool

	port    *Port
	action  *Action
	timer   *Timer
	wdog    *Watchdog
	builtin *builtinTrigger

	// generation counters for invalidation of stale firings.
	timerGen uint64
	wdogGen  uint64

	seq uint64 // insertion order, stabilizes heap ordering within a tag
}

// eventQueue is a tag-ordered priority queue of pending events.
//
// Thread-safety is provided for external producers (watchdog wake path,
// federation receivers, physical action injectors) while the scheduler's
// Run loop consumes. The signal channel (buffered, size 1) coalesces
// producer wakeups so the Run loop can select on it alongside the
// physical clock and context cancellation.
type eventQueue struct {
	mu     sync.Mutex
	heap   eventHeap
	seq    uint64
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		heap:   make(eventHeap, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// push inserts an event by tag. Returns false if the queue is closed.
// Safe from any goroutine.
func (q *eventQueue) push(ev *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	ev.seq = q.seq
	q.seq++
	heap.Push(&q.heap, ev)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// peek returns the minimal-tag event without removing it.
func (q *eventQueue) peek() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	return q.heap[0], true
}

// popBatch removes and returns every event sharing the minimal tag, in
// insertion order. Returns a nil batch when the queue is empty.
func (q *eventQueue) popBatch() (tag.Tag, []*Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return tag.Tag{}, nil
	}
	t := q.heap[0].Tag
	var batch []*Event
	for len(q.heap) > 0 && q.heap[0].Tag.Compare(t) == 0 {
		batch = append(batch, heap.Pop(&q.heap).(*Event))
	}
	return t, batch
}

// headBatchPhysical reports whether any event at the minimal tag is
// physically sourced. False when the queue is empty.
func (q *eventQueue) headBatchPhysical() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return false
	}
	t := q.heap[0].Tag
	for _, ev := range q.heap {
		if ev.physical && ev.Tag.Compare(t) == 0 {
			return true
		}
	}
	return false
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// wait returns the producer signal channel for use in select.
func (q *eventQueue) wait() <-chan struct{} {
	return q.signal
}

// close stops accepting events and wakes all waiters.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// eventHeap orders events by (tag, insertion seq).
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if c := h[i].Tag.Compare(h[j].Tag); c != 0 {
		return c < 0
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil // release for GC
	*h = old[:n-1]
	return ev
}
