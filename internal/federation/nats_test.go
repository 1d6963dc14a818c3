package federation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tachyon/internal/tag"
)

func newTestNATSChannel(buffer int) *NATSChannel {
	return &NATSChannel{
		recvSub: Subject("plant", "console"),
		in:      make(chan Envelope, buffer),
		logger:  quietLogger(),
	}
}

func encodeEnvelope(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

// The subscription callback runs on the connection's dispatcher
// goroutine; an overflowing inbound buffer must drop rather than block.
func TestNATSDeliverDropsWhenBufferFull(t *testing.T) {
	c := newTestNATSChannel(1)

	c.deliver(encodeEnvelope(t, Envelope{Tag: tag.Tag{Time: 1}, Port: "telemetry"}))

	done := make(chan struct{})
	go func() {
		c.deliver(encodeEnvelope(t, Envelope{Tag: tag.Tag{Time: 2}, Port: "telemetry"}))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliver blocked on a full inbound buffer")
	}

	env := <-c.in
	assert.Equal(t, int64(1), env.Tag.Time)
	select {
	case extra := <-c.in:
		t.Fatalf("dropped envelope surfaced: %+v", extra)
	default:
	}
}

func TestNATSDeliverIgnoresMalformedPayload(t *testing.T) {
	c := newTestNATSChannel(1)

	c.deliver([]byte("not an envelope"))

	select {
	case env := <-c.in:
		t.Fatalf("malformed payload delivered: %+v", env)
	default:
	}
}
