package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tachyon/internal/tag"
	"github.com/roach88/tachyon/internal/trace"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runToCompletion builds a scheduler with a recorder and runs it on the
// calling goroutine.
func runToCompletion(t *testing.T, prog *Program, opts ...Option) ([]trace.Record, error) {
	t.Helper()
	rec := trace.NewMemoryRecorder()
	opts = append(opts, WithObserver(rec), WithLogger(quietLogger()))
	sched, err := NewScheduler(prog, opts...)
	require.NoError(t, err)
	runErr := sched.Run(context.Background())
	return rec.Records(), runErr
}

func names(records []trace.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Reactor + "." + r.Name
	}
	return out
}

func TestExecutionOrderAcrossAndWithinTags(t *testing.T) {
	prog := NewProgram("pipeline")

	src := prog.NewReactor("src")
	srcOut := NewOutput[int](src, "out")
	next := NewLogicalAction[int](src, "next", 0)

	k := 0
	src.AddReaction("start", []TriggerSource{prog.Startup()}, []Effect{next},
		func(c *Ctx) error {
			c.Schedule(next, 10*time.Millisecond, 0)
			return nil
		})
	src.AddReaction("emit", []TriggerSource{next}, []Effect{srcOut, next},
		func(c *Ctx) error {
			k++
			c.Set(srcOut, k)
			if k < 3 {
				c.Schedule(next, 10*time.Millisecond, 0)
			}
			return nil
		})

	mid := prog.NewReactor("mid")
	midIn := NewInput[int](mid, "in")
	midOut := NewOutput[int](mid, "out")
	mid.AddReaction("echo", []TriggerSource{midIn}, []Effect{midOut},
		func(c *Ctx) error {
			c.Set(midOut, c.Value(midIn).(int)*10)
			return nil
		})

	sink := prog.NewReactor("sink")
	sinkIn := NewInput[int](sink, "in")
	var values []int
	var tags []tag.Tag
	sink.AddReaction("consume", []TriggerSource{sinkIn}, nil,
		func(c *Ctx) error {
			values = append(values, c.Value(sinkIn).(int))
			tags = append(tags, c.CurrentTag())
			return nil
		})

	require.NoError(t, prog.Connect(srcOut, midIn))
	require.NoError(t, prog.Connect(midOut, sinkIn))

	records, err := runToCompletion(t, prog, WithFastMode())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"src.start",
		"src.emit", "mid.echo", "sink.consume",
		"src.emit", "mid.echo", "sink.consume",
		"src.emit", "mid.echo", "sink.consume",
	}, names(records))

	assert.Equal(t, []int{10, 20, 30}, values)

	// Tags strictly increase event to event, and every record of one
	// instant carries that instant's tag.
	for i := 1; i < len(tags); i++ {
		assert.True(t, tags[i-1].Before(tags[i]))
	}
	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].Tag.Before(records[i-1].Tag))
	}
}

func TestPresenceValidOnlyWithinWritingInstant(t *testing.T) {
	prog := NewProgram("presence")

	writer := prog.NewReactor("writer")
	out := NewOutput[int](writer, "out")
	fire := writer.NewTimer("fire", 10*time.Millisecond, 0)
	writer.AddReaction("write", []TriggerSource{fire}, []Effect{out},
		func(c *Ctx) error {
			c.Set(out, 42)
			return nil
		})

	reader := prog.NewReactor("reader")
	in := NewInput[int](reader, "in")
	probe := reader.NewTimer("probe", 15*time.Millisecond, 0)

	presentAtWrite := false
	var valueAtWrite any
	presentAtProbe := true
	reader.AddReaction("receive", []TriggerSource{in}, nil,
		func(c *Ctx) error {
			presentAtWrite = c.Present(in)
			valueAtWrite = c.Value(in)
			return nil
		})
	reader.AddReaction("check", []TriggerSource{probe}, nil,
		func(c *Ctx) error {
			presentAtProbe = c.Present(in)
			return nil
		})

	require.NoError(t, prog.Connect(out, in))

	_, err := runToCompletion(t, prog, WithFastMode())
	require.NoError(t, err)

	assert.True(t, presentAtWrite)
	assert.Equal(t, 42, valueAtWrite)
	assert.False(t, presentAtProbe, "presence must not survive past the writing instant")
}

func TestSameInstantRewriteOverwritesValue(t *testing.T) {
	prog := NewProgram("rewrite")

	src := prog.NewReactor("src")
	out := NewOutput[int](src, "out")
	src.AddReaction("write", []TriggerSource{prog.Startup()}, []Effect{out},
		func(c *Ctx) error {
			c.Set(out, 1)
			c.Set(out, 2)
			return nil
		})

	sink := prog.NewReactor("sink")
	in := NewInput[int](sink, "in")
	var got []int
	sink.AddReaction("consume", []TriggerSource{in}, nil,
		func(c *Ctx) error {
			got = append(got, c.Value(in).(int))
			return nil
		})

	require.NoError(t, prog.Connect(out, in))

	_, err := runToCompletion(t, prog, WithFastMode())
	require.NoError(t, err)

	assert.Equal(t, []int{2}, got, "one delivery with the last written value")
}

func TestZeroDelayScheduleLandsOneMicrostepLater(t *testing.T) {
	prog := NewProgram("microstep")

	r := prog.NewReactor("r")
	act := NewLogicalAction[int](r, "act", 0)

	var tags []tag.Tag
	r.AddReaction("kick", []TriggerSource{prog.Startup()}, []Effect{act},
		func(c *Ctx) error {
			tags = append(tags, c.CurrentTag())
			c.Schedule(act, 0, 0)
			return nil
		})
	r.AddReaction("again", []TriggerSource{act}, nil,
		func(c *Ctx) error {
			tags = append(tags, c.CurrentTag())
			return nil
		})

	_, err := runToCompletion(t, prog, WithFastMode())
	require.NoError(t, err)

	require.Len(t, tags, 2)
	assert.Equal(t, tags[0].Time, tags[1].Time)
	assert.Equal(t, tags[0].Microstep+1, tags[1].Microstep)
}

func TestUndeclaredEffectWriteIsDropped(t *testing.T) {
	prog := NewProgram("undeclared")

	src := prog.NewReactor("src")
	out := NewOutput[int](src, "out")
	src.AddReaction("sneak", []TriggerSource{prog.Startup()}, nil,
		func(c *Ctx) error {
			c.Set(out, 99) // out is not in the effect set
			return nil
		})

	sink := prog.NewReactor("sink")
	in := NewInput[int](sink, "in")
	delivered := false
	sink.AddReaction("consume", []TriggerSource{in}, nil,
		func(c *Ctx) error {
			delivered = true
			return nil
		})

	require.NoError(t, prog.Connect(out, in))

	_, err := runToCompletion(t, prog, WithFastMode())
	require.NoError(t, err)
	assert.False(t, delivered, "undeclared writes must not propagate")
}

func TestRequestStopReturnsStopError(t *testing.T) {
	prog := NewProgram("failfast")

	r := prog.NewReactor("checker")
	tick := r.NewTimer("tick", 10*time.Millisecond, 0)
	boom := errors.New("out-of-sequence value")
	r.AddReaction("check", []TriggerSource{tick}, nil,
		func(c *Ctx) error {
			c.RequestStop(boom)
			return nil
		})

	_, err := runToCompletion(t, prog, WithFastMode())
	require.Error(t, err)
	assert.True(t, IsStopError(err))
	assert.ErrorIs(t, err, boom)

	var se *StopError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "checker", se.Reactor)
	assert.Equal(t, "check", se.Reaction)
}

func TestRequestStopNilCauseIsCleanStop(t *testing.T) {
	prog := NewProgram("cleanstop")

	r := prog.NewReactor("r")
	r.AddReaction("stop", []TriggerSource{prog.Startup()}, nil,
		func(c *Ctx) error {
			c.RequestStop(nil)
			return nil
		})

	_, err := runToCompletion(t, prog, WithFastMode())
	assert.NoError(t, err)
}

func TestShutdownReactionsRunOnTimeout(t *testing.T) {
	prog := NewProgram("timeout")

	r := prog.NewReactor("r")
	tick := r.NewTimer("tick", 5*time.Millisecond, 5*time.Millisecond)
	ticks := 0
	r.AddReaction("tick", []TriggerSource{tick}, nil,
		func(c *Ctx) error {
			ticks++
			return nil
		})
	byes := 0
	r.AddReaction("bye", []TriggerSource{prog.Shutdown()}, nil,
		func(c *Ctx) error {
			byes++
			return nil
		})

	_, err := runToCompletion(t, prog, WithFastMode(), WithTimeout(27*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, 5, ticks, "ticks at 5,10,15,20,25ms")
	assert.Equal(t, 1, byes)
}

func TestRequestStopPreemptsTimeoutShutdown(t *testing.T) {
	prog := NewProgram("preempt")

	r := prog.NewReactor("r")
	r.AddReaction("stop", []TriggerSource{prog.Startup()}, nil,
		func(c *Ctx) error {
			c.RequestStop(nil)
			return nil
		})
	byes := 0
	r.AddReaction("bye", []TriggerSource{prog.Shutdown()}, nil,
		func(c *Ctx) error {
			byes++
			return nil
		})

	start := time.Now()
	_, err := runToCompletion(t, prog, WithFastMode(), WithTimeout(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, byes, "shutdown runs once, at the stop tag")
	assert.Less(t, time.Since(start), time.Second, "stop must not wait out the timeout horizon")
}

func TestSchedulerRunsOnlyOnce(t *testing.T) {
	prog := NewProgram("once")
	r := prog.NewReactor("r")
	r.AddReaction("noop", []TriggerSource{prog.Startup()}, nil, noop)

	sched, err := NewScheduler(prog, WithFastMode(), WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, sched.Run(context.Background()))
	assert.Error(t, sched.Run(context.Background()))
}

func TestInjectPhysicalDeliversAtCurrentPhysicalTime(t *testing.T) {
	prog := NewProgram("inject")

	r := prog.NewReactor("r")
	sensor := NewPhysicalAction[int](r, "sensor")
	var got []int
	r.AddReaction("receive", []TriggerSource{sensor}, nil,
		func(c *Ctx) error {
			got = append(got, c.Value(sensor).(int))
			c.RequestStop(nil)
			return nil
		})

	rec := trace.NewMemoryRecorder()
	sched, err := NewScheduler(prog, WithKeepalive(), WithObserver(rec), WithLogger(quietLogger()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sched.InjectPhysical(sensor, 7))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after injection")
	}
	assert.Equal(t, []int{7}, got)
}

func TestInjectAtLiftsLateTagsToTheFloor(t *testing.T) {
	prog := NewProgram("latedrop")

	r := prog.NewReactor("r")
	in := NewInput[int](r, "in")
	var deliveredAt []tag.Tag
	r.AddReaction("receive", []TriggerSource{in}, nil,
		func(c *Ctx) error {
			deliveredAt = append(deliveredAt, c.CurrentTag())
			c.RequestStop(nil)
			return nil
		})

	sched, err := NewScheduler(prog, WithKeepalive(), WithLogger(quietLogger()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	past := tag.FromTime(time.Now().Add(-time.Second))
	effective, late, err := sched.InjectAt(in, past, 5)
	require.NoError(t, err)
	assert.True(t, late)
	assert.True(t, past.Before(effective))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after injection")
	}
	require.Len(t, deliveredAt, 1)
	assert.Equal(t, effective, deliveredAt[0])
}

// Fast mode skips pacing for logical events, but a physically-sourced
// event sharing the head tag still pins the whole batch to the clock.
func TestFastModeGatesBatchWithPhysicalMember(t *testing.T) {
	prog := NewProgram("gate")
	r := prog.NewReactor("r")
	tick := NewLogicalAction[int](r, "tick", 0)
	sensor := NewPhysicalAction[int](r, "sensor")

	sched, err := NewScheduler(prog, WithFastMode(), WithLogger(quietLogger()))
	require.NoError(t, err)

	future := tag.FromTime(time.Now().Add(time.Hour))
	sched.queue.push(&Event{Tag: future, action: tick})

	head, ok := sched.queue.peek()
	require.True(t, ok)
	assert.False(t, sched.mustGate(head), "purely logical batch runs ahead of the clock")

	sched.queue.push(&Event{Tag: future, physical: true, action: sensor})
	head, ok = sched.queue.peek()
	require.True(t, ok)
	assert.False(t, head.physical, "head stays the logical event")
	assert.True(t, sched.mustGate(head), "a physical member gates the whole batch")
}
