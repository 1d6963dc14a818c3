package tag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Tag
		want int
	}{
		{"equal", Tag{Time: 100, Microstep: 2}, Tag{Time: 100, Microstep: 2}, 0},
		{"earlier time", Tag{Time: 99, Microstep: 9}, Tag{Time: 100, Microstep: 0}, -1},
		{"later time", Tag{Time: 101}, Tag{Time: 100, Microstep: 9}, 1},
		{"earlier microstep", Tag{Time: 100, Microstep: 1}, Tag{Time: 100, Microstep: 2}, -1},
		{"later microstep", Tag{Time: 100, Microstep: 3}, Tag{Time: 100, Microstep: 2}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
			assert.Equal(t, tt.want < 0, tt.a.Before(tt.b))
			assert.Equal(t, tt.want > 0, tt.a.After(tt.b))
		})
	}
}

func TestNext(t *testing.T) {
	tg := Tag{Time: 100, Microstep: 2}
	next := tg.Next()

	assert.Equal(t, Tag{Time: 100, Microstep: 3}, next)
	assert.True(t, tg.Before(next))
}

func TestDelay(t *testing.T) {
	tg := Tag{Time: int64(time.Second), Microstep: 5}

	t.Run("zero delay is the microstep successor", func(t *testing.T) {
		assert.Equal(t, tg.Next(), tg.Delay(0))
	})

	t.Run("negative delay is the microstep successor", func(t *testing.T) {
		assert.Equal(t, tg.Next(), tg.Delay(-time.Millisecond))
	})

	t.Run("positive delay advances time and resets the microstep", func(t *testing.T) {
		got := tg.Delay(500 * time.Millisecond)
		assert.Equal(t, Tag{Time: int64(1500 * time.Millisecond)}, got)
	})
}

func TestFromTimeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	tg := FromTime(now)

	assert.Equal(t, now.UnixNano(), tg.Time)
	assert.Equal(t, uint32(0), tg.Microstep)
	assert.True(t, tg.LogicalTime().Equal(now))
}

func TestLag(t *testing.T) {
	base := time.Unix(100, 0)
	tg := FromTime(base)

	assert.Equal(t, 300*time.Millisecond, tg.Lag(base.Add(300*time.Millisecond)))
	assert.Equal(t, -time.Second, tg.Lag(base.Add(-time.Second)))
}

func TestMax(t *testing.T) {
	a := Tag{Time: 100}
	b := Tag{Time: 100, Microstep: 1}

	assert.Equal(t, b, Max(a, b))
	assert.Equal(t, b, Max(b, a))
	assert.Equal(t, a, Max(a, a))
}

func TestString(t *testing.T) {
	tg := Tag{Time: int64(1500 * time.Millisecond), Microstep: 2}
	assert.Equal(t, "(1.500000000, 2)", tg.String())
}
