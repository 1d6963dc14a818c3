// Package federation synchronizes logical time across independently
// clocked execution units.
//
// Federates advance logical time optimistically and independently; a
// cross-federate connection is an asynchronous channel carrying tagged,
// JSON-encoded values. There is no global barrier: a message arriving
// with a tag the receiver has already passed is delivered late at the
// earliest available tag, flagged so the receiving reaction's deadline
// mechanism can observe the slip.
package federation

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/tachyon/internal/tag"
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("federation: channel closed")

// Envelope is the unit of cross-federate transfer.
type Envelope struct {
	// Tag is the sender's tag for the value.
	Tag tag.Tag `json:"tag"`

	// Port names the destination input port on the receiving federate.
	Port string `json:"port"`

	// Value is the JSON-encoded payload.
	Value []byte `json:"value"`
}

// Channel is an asynchronous, ordered message channel between two
// federates. Implementations: the in-memory Pair for single-process
// deployments and tests, and NATSChannel for networked ones.
type Channel interface {
	// Send transmits an envelope. Blocks only on transport backpressure.
	Send(ctx context.Context, env Envelope) error

	// Receive returns the stream of inbound envelopes. The stream may
	// never close; consumers must also honor their context.
	Receive() <-chan Envelope

	// Close tears the channel down. Subsequent Sends fail.
	Close() error
}

// memoryChannel is one direction of an in-process Pair.
type memoryChannel struct {
	out  chan<- Envelope
	in   <-chan Envelope
	done chan struct{}
	stop *sync.Once
}

// Pair returns two connected in-memory channels: what one side sends,
// the other receives. Buffered so a sending federate is not paced by the
// receiver's logical progress.
func Pair() (Channel, Channel) {
	ab := make(chan Envelope, 256)
	ba := make(chan Envelope, 256)
	done := make(chan struct{})
	stop := new(sync.Once)
	a := &memoryChannel{out: ab, in: ba, done: done, stop: stop}
	b := &memoryChannel{out: ba, in: ab, done: done, stop: stop}
	return a, b
}

func (c *memoryChannel) Send(ctx context.Context, env Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.out <- env:
		return nil
	}
}

func (c *memoryChannel) Receive() <-chan Envelope { return c.in }

func (c *memoryChannel) Close() error {
	c.stop.Do(func() { close(c.done) })
	return nil
}
