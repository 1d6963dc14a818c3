package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tachyon/internal/tag"
)

func TestEventQueueOrdersByTag(t *testing.T) {
	q := newEventQueue()

	q.push(&Event{Tag: tag.Tag{Time: 300}})
	q.push(&Event{Tag: tag.Tag{Time: 100}})
	q.push(&Event{Tag: tag.Tag{Time: 200, Microstep: 1}})
	q.push(&Event{Tag: tag.Tag{Time: 200}})

	var got []tag.Tag
	for q.len() > 0 {
		head, _ := q.popBatch()
		got = append(got, head)
	}

	want := []tag.Tag{
		{Time: 100},
		{Time: 200},
		{Time: 200, Microstep: 1},
		{Time: 300},
	}
	assert.Equal(t, want, got)
}

func TestEventQueuePopBatchGroupsEqualTags(t *testing.T) {
	q := newEventQueue()
	same := tag.Tag{Time: 100}

	q.push(&Event{Tag: same})
	q.push(&Event{Tag: tag.Tag{Time: 200}})
	q.push(&Event{Tag: same})
	q.push(&Event{Tag: same})

	head, batch := q.popBatch()
	assert.Equal(t, same, head)
	assert.Len(t, batch, 3)
	assert.Equal(t, 1, q.len())
}

func TestEventQueueBatchPreservesInsertionOrder(t *testing.T) {
	q := newEventQueue()
	same := tag.Tag{Time: 100}

	first := &Event{Tag: same, Value: 1}
	second := &Event{Tag: same, Value: 2}
	q.push(first)
	q.push(second)

	_, batch := q.popBatch()
	require.Len(t, batch, 2)
	assert.Same(t, first, batch[0])
	assert.Same(t, second, batch[1])
}

func TestEventQueuePeekDoesNotRemove(t *testing.T) {
	q := newEventQueue()

	_, ok := q.peek()
	assert.False(t, ok)

	q.push(&Event{Tag: tag.Tag{Time: 100}})
	ev, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, tag.Tag{Time: 100}, ev.Tag)
	assert.Equal(t, 1, q.len())
}

func TestEventQueueHeadBatchPhysical(t *testing.T) {
	q := newEventQueue()
	assert.False(t, q.headBatchPhysical())

	q.push(&Event{Tag: tag.Tag{Time: 100}})
	assert.False(t, q.headBatchPhysical())

	// A physical event at a later tag does not taint the head batch.
	q.push(&Event{Tag: tag.Tag{Time: 200}, physical: true})
	assert.False(t, q.headBatchPhysical())

	q.push(&Event{Tag: tag.Tag{Time: 100}, physical: true})
	assert.True(t, q.headBatchPhysical())
}

func TestEventQueueSignalCoalesces(t *testing.T) {
	q := newEventQueue()

	q.push(&Event{Tag: tag.Tag{Time: 1}})
	q.push(&Event{Tag: tag.Tag{Time: 2}})
	q.push(&Event{Tag: tag.Tag{Time: 3}})

	// Any number of pushes collapses into one pending wakeup.
	select {
	case <-q.wait():
	default:
		t.Fatal("push did not signal")
	}
	select {
	case <-q.wait():
		t.Fatal("signal was not coalesced")
	default:
	}
}

func TestEventQueueClosedRejectsPush(t *testing.T) {
	q := newEventQueue()
	q.close()

	assert.False(t, q.push(&Event{Tag: tag.Tag{Time: 1}}))
	assert.Equal(t, 0, q.len())
}
