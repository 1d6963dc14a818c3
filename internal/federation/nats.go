package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSChannel carries envelopes between federates over a NATS subject.
// The connection is dialed and owned by the caller (transport bring-up is
// an external concern); the channel only publishes and subscribes.
type NATSChannel struct {
	conn    *nats.Conn
	sendSub string
	recvSub string
	sub     *nats.Subscription
	in      chan Envelope
	logger  *slog.Logger
}

// Subject returns the NATS subject for one direction of a federate link.
func Subject(fromID, toID string) string {
	return fmt.Sprintf("tachyon.fed.%s.%s", fromID, toID)
}

// NewNATSChannel builds a channel that publishes on sendSub and consumes
// recvSub. For a bidirectional link between federates A and B, A uses
// (Subject(A,B), Subject(B,A)) and B the reverse.
func NewNATSChannel(conn *nats.Conn, sendSub, recvSub string) (*NATSChannel, error) {
	c := &NATSChannel{
		conn:    conn,
		sendSub: sendSub,
		recvSub: recvSub,
		in:      make(chan Envelope, 256),
		logger:  slog.Default(),
	}

	sub, err := conn.Subscribe(recvSub, func(msg *nats.Msg) {
		c.deliver(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", recvSub, err)
	}
	c.sub = sub
	return c, nil
}

// deliver decodes one wire message into the inbound stream. It never
// blocks: the callback runs on the connection's dispatcher goroutine,
// which serves every subscription on the connection. A full buffer drops
// the envelope instead.
func (c *NATSChannel) deliver(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return // malformed envelope; nothing to deliver it to
	}
	select {
	case c.in <- env:
	default:
		c.logger.Warn("inbound buffer full, dropping envelope",
			"subject", c.recvSub,
			"port", env.Port,
			"tag", env.Tag.String(),
		)
	}
}

// Send publishes the envelope as JSON.
func (c *NATSChannel) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := c.conn.Publish(c.sendSub, data); err != nil {
		return fmt.Errorf("publish %s: %w", c.sendSub, err)
	}
	return nil
}

// Receive returns the inbound envelope stream.
func (c *NATSChannel) Receive() <-chan Envelope { return c.in }

// Close drains the subscription. The NATS connection stays open; it
// belongs to the caller.
func (c *NATSChannel) Close() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}
