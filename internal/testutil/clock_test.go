package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Unix(1000, 0)

func TestManualClockFrozen(t *testing.T) {
	c := NewManualClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now(), "reading must not advance the clock")
}

func TestManualClockAdvanceFiresDueWaiters(t *testing.T) {
	c := NewManualClock(start)

	ch := c.After(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("waiter fired before the clock advanced")
	default:
	}

	c.Advance(30 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("waiter fired before its deadline")
	default:
	}

	c.Advance(20 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(50*time.Millisecond), got)
	default:
		t.Fatal("waiter did not fire at its deadline")
	}
}

func TestManualClockAfterNonPositiveFiresImmediately(t *testing.T) {
	c := NewManualClock(start)

	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case got := <-c.After(d):
			assert.Equal(t, start, got)
		default:
			t.Fatalf("After(%v) did not fire immediately", d)
		}
	}
}

func TestManualClockSet(t *testing.T) {
	c := NewManualClock(start)
	ch := c.After(time.Second)

	// Earlier instants are ignored: the clock is monotonic.
	c.Set(start.Add(-time.Hour))
	assert.Equal(t, start, c.Now())

	c.Set(start.Add(2 * time.Second))
	assert.Equal(t, start.Add(2*time.Second), c.Now())

	select {
	case got := <-ch:
		assert.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("waiter did not fire when the clock jumped past its deadline")
	}
}

func TestManualClockMultipleWaiters(t *testing.T) {
	c := NewManualClock(start)

	early := c.After(10 * time.Millisecond)
	late := c.After(100 * time.Millisecond)

	c.Advance(10 * time.Millisecond)
	require.Len(t, early, 1)
	require.Len(t, late, 0)

	c.Advance(90 * time.Millisecond)
	require.Len(t, late, 1)
}
