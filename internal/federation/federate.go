package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tachyon/internal/runtime"
	"github.com/roach88/tachyon/internal/tag"
)

// Federate is one independently clocked execution unit of a distributed
// program. It owns a scheduler over a disjoint subset of reactor
// instances; connections crossing its boundary are Channels.
//
// Coordination is decentralized: the federate advances logical time
// optimistically, accepting inbound tags up to Skew ahead of its own
// clock and delivering behind-time tags late rather than blocking.
type Federate struct {
	ID    string
	Skew  time.Duration
	sched *runtime.Scheduler

	inbound  []inboundBinding
	logger   *slog.Logger
	lateSeen int
	mu       sync.Mutex
}

type inboundBinding struct {
	ch   Channel
	port map[string]*runtime.Port // by envelope port name
}

// Option configures a Federate.
type Option func(*Federate)

// WithSkew bounds how far ahead of the federate's current logical time an
// inbound tag may be without comment. Tags beyond the bound are still
// delivered, at their own tag, but logged as excessive skew.
func WithSkew(d time.Duration) Option {
	return func(f *Federate) { f.Skew = d }
}

// WithLogger substitutes the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Federate) { f.logger = l }
}

// New creates a federate around an existing scheduler. The ID is
// generated when empty; it names the federate in logs and NATS subjects.
func New(id string, sched *runtime.Scheduler, opts ...Option) *Federate {
	if id == "" {
		id = uuid.NewString()
	}
	f := &Federate{
		ID:     id,
		sched:  sched,
		logger: slog.Default().With("federate", id),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BindInbound routes envelopes named name arriving on ch to the given
// input port. Multiple names may share one channel.
func (f *Federate) BindInbound(ch Channel, name string, port *runtime.Port) {
	for i := range f.inbound {
		if f.inbound[i].ch == ch {
			f.inbound[i].port[name] = port
			return
		}
	}
	f.inbound = append(f.inbound, inboundBinding{ch: ch, port: map[string]*runtime.Port{name: port}})
}

// BindOutbound publishes every value the port produces onto ch under the
// given envelope name, carrying the producing tag.
func (f *Federate) BindOutbound(port *runtime.Port, ch Channel, name string) {
	logger := f.logger
	port.OnValue(func(t tag.Tag, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			logger.Error("outbound value not serializable", "port", name, "error", err)
			return
		}
		if err := ch.Send(context.Background(), Envelope{Tag: t, Port: name, Value: data}); err != nil {
			logger.Error("outbound send failed", "port", name, "error", err)
		}
	})
}

// Run starts the receive loops and the scheduler, and blocks until the
// scheduler finishes or the context is cancelled.
func (f *Federate) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, b := range f.inbound {
		wg.Add(1)
		go func(b inboundBinding) {
			defer wg.Done()
			f.receive(ctx, b)
		}(b)
	}

	err := f.sched.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// receive delivers inbound envelopes into the scheduler as physical
// events at the sender's tag, applying the late policy.
func (f *Federate) receive(ctx context.Context, b inboundBinding) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-b.ch.Receive():
			if !ok {
				return
			}
			if err := f.deliver(env, b); err != nil {
				f.logger.Error("inbound delivery failed", "port", env.Port, "error", err)
			}
		}
	}
}

func (f *Federate) deliver(env Envelope, b inboundBinding) error {
	port, ok := b.port[env.Port]
	if !ok {
		return fmt.Errorf("no binding for inbound port %q", env.Port)
	}

	v := reflect.New(port.Type())
	if err := json.Unmarshal(env.Value, v.Interface()); err != nil {
		return fmt.Errorf("decode value for %s: %w", env.Port, err)
	}

	effective, late, err := f.sched.InjectAt(port, env.Tag, v.Elem().Interface())
	if err != nil {
		return err
	}
	if late {
		f.mu.Lock()
		f.lateSeen++
		f.mu.Unlock()
		f.logger.Warn("inbound message behind local logical time; delivered late",
			"port", env.Port,
			"sent_tag", env.Tag.String(),
			"delivered_tag", effective.String(),
		)
	} else if f.Skew > 0 {
		if ahead := time.Duration(env.Tag.Time - f.sched.CurrentTag().Time); ahead > f.Skew {
			f.logger.Warn("inbound tag exceeds declared skew bound",
				"port", env.Port,
				"ahead", ahead,
				"skew", f.Skew,
			)
		}
	}
	return nil
}

// LateCount reports how many inbound messages were delivered late so
// far. Safe from any goroutine.
func (f *Federate) LateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lateSeen
}
