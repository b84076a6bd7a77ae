//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/kernel"
	"trpc.group/trpc-go/trpc-kernel-go/process/store"
)

func waitDone(t *testing.T, lp *LocalProcess) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return lp.Wait(ctx)
}

// recorder is a step function storing what it receives.
type recorder struct {
	mu  sync.Mutex
	got []any
}

func (r *recorder) fn(param string) *StepFunction {
	return NewStepFunction("record", func(_ context.Context, _ *StepContext, args function.Arguments) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, args[param])
		return args[param], nil
	}, param)
}

func (r *recorder) values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.got...)
}

func TestLocalProcess_Linear(t *testing.T) {
	greet := NewStepFunction("greet", func(_ context.Context, sc *StepContext, args function.Arguments) (any, error) {
		sc.State()["greeted"] = args["name"]
		return fmt.Sprintf("hello %v", args["name"]), nil
	}, "name")
	shout := NewStepFunction("shout", func(_ context.Context, _ *StepContext, args function.Arguments) (any, error) {
		return strings.ToUpper(args["text"].(string)), nil
	}, "text")
	rec := &recorder{}

	b := NewBuilder("linear")
	g := b.AddStep("greeter", greet)
	s := b.AddStep("shouter", shout)
	r := b.AddStep("sink", rec.fn("value"))
	b.OnInputEvent("Start").SendEventTo(g)
	g.OnFunctionResult("greet").SendEventTo(s)
	s.OnFunctionResult("").SendEventTo(r)
	r.OnFunctionResult("record").StopProcess()
	p, err := b.Build()
	require.NoError(t, err)

	lp, err := Start(context.Background(), nil, p, &Event{ID: "Start", Data: "bob"})
	require.NoError(t, err)
	require.NoError(t, waitDone(t, lp))

	assert.Equal(t, []any{"HELLO BOB"}, rec.values())
	assert.Equal(t, store.StatusCompleted, lp.Status())
	st := lp.State()
	assert.Equal(t, 3, st.Superstep)
	assert.Equal(t, store.StatusCompleted, st.Status)
	assert.Equal(t, "bob", st.Steps["greeter"]["greeted"])
	assert.ErrorIs(t, lp.SendEvent(context.Background(), &Event{ID: "Start"}), ErrProcessFinished)
}

func TestLocalProcess_FanIn(t *testing.T) {
	var joins atomic.Int32
	echo := func(name string) *StepFunction {
		return NewStepFunction(name, func(_ context.Context, _ *StepContext, args function.Arguments) (any, error) {
			return args["in"], nil
		}, "in")
	}
	join := NewStepFunction("join", func(_ context.Context, _ *StepContext, args function.Arguments) (any, error) {
		joins.Add(1)
		return fmt.Sprintf("%v+%v", args["x"], args["y"]), nil
	}, "x", "y")
	rec := &recorder{}

	b := NewBuilder("fanin")
	fast := b.AddStep("fast", echo("run"))
	slow := b.AddStep("slow", echo("run"))
	slower := b.AddStep("slower", echo("run"))
	j := b.AddStep("join", join)
	sink := b.AddStep("sink", rec.fn("value"))
	b.OnInputEvent("Start").SendEventTo(fast).SendEventTo(slow)
	fast.OnFunctionResult("").SendEventTo(j, WithParameter("x"))
	slow.OnFunctionResult("").SendEventTo(slower)
	slower.OnFunctionResult("").SendEventTo(j, WithParameter("y"))
	j.OnFunctionResult("").SendEventTo(sink)
	p, err := b.Build()
	require.NoError(t, err)

	lp, err := Start(context.Background(), nil, p, &Event{ID: "Start", Data: "v"}, WithPoolSize(2))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, lp))
	assert.Equal(t, int32(1), joins.Load())
	assert.Equal(t, []any{"v+v"}, rec.values())
	assert.Equal(t, store.StatusCompleted, lp.Status())
}

func counterProcess(t *testing.T, limit float64) *Process {
	t.Helper()
	count := NewStepFunction("count", func(_ context.Context, sc *StepContext, _ function.Arguments) (any, error) {
		n, _ := sc.State()["count"].(float64)
		n++
		sc.State()["count"] = n
		if n < limit {
			sc.EmitEvent("Again", n)
		} else {
			sc.EmitEvent("Done", n, WithVisibility(VisibilityPublic))
		}
		return n, nil
	})
	b := NewBuilder("counter")
	c := b.AddStep("counter", count)
	b.OnInputEvent("Start").SendEventTo(c)
	c.OnEvent("Again").SendEventTo(c)
	c.OnEvent("Done").StopProcess()
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func TestLocalProcess_CycleAndPublicEvents(t *testing.T) {
	var public []*Event
	lp, err := Start(context.Background(), nil, counterProcess(t, 3), &Event{ID: "Start"},
		WithOnEvent(func(ev *Event) { public = append(public, ev) }))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, lp))

	st := lp.State()
	assert.Equal(t, float64(3), st.Steps["counter"]["count"])
	assert.Equal(t, 3, st.Superstep)
	require.Len(t, public, 1)
	assert.Equal(t, "Done", public[0].ID)
	assert.Equal(t, "counter", public[0].SourceID)
	assert.Equal(t, float64(3), public[0].Data)
}

func TestLocalProcess_MaxSupersteps(t *testing.T) {
	lp, err := Start(context.Background(), nil, counterProcess(t, 1000), &Event{ID: "Start"},
		WithMaxSupersteps(5))
	require.NoError(t, err)
	err = waitDone(t, lp)
	assert.ErrorIs(t, err, ErrMaxSupersteps)
	assert.Equal(t, store.StatusFailed, lp.Status())
	assert.Equal(t, float64(5), lp.State().Steps["counter"]["count"])
}

func TestLocalProcess_Errors(t *testing.T) {
	boom := errors.New("boom")
	failing := func() *StepFunction {
		return NewStepFunction("fail", func(context.Context, *StepContext, function.Arguments) (any, error) {
			return nil, boom
		})
	}

	t.Run("unhandled", func(t *testing.T) {
		b := NewBuilder("failing")
		f := b.AddStep("f", failing())
		b.OnInputEvent("Start").SendEventTo(f)
		p, err := b.Build()
		require.NoError(t, err)

		lp, err := Start(context.Background(), nil, p, &Event{ID: "Start"})
		require.NoError(t, err)
		err = waitDone(t, lp)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, store.StatusFailed, lp.Status())
		assert.Equal(t, err.Error(), lp.State().Error)
	})

	t.Run("handled", func(t *testing.T) {
		var got atomic.Value
		handler := NewStepFunction("handle", func(_ context.Context, _ *StepContext, args function.Arguments) (any, error) {
			got.Store(args["err"])
			return nil, nil
		}, "err")
		b := NewBuilder("failing")
		f := b.AddStep("f", failing())
		h := b.AddStep("h", handler)
		b.OnInputEvent("Start").SendEventTo(f)
		f.OnFunctionError("fail").SendEventTo(h)
		p, err := b.Build()
		require.NoError(t, err)

		lp, err := Start(context.Background(), nil, p, &Event{ID: "Start"})
		require.NoError(t, err)
		require.NoError(t, waitDone(t, lp))
		assert.Equal(t, store.StatusCompleted, lp.Status())
		assert.Equal(t, boom, got.Load())
	})

	t.Run("panic", func(t *testing.T) {
		b := NewBuilder("panicking")
		f := b.AddStep("f", NewStepFunction("run", func(context.Context, *StepContext, function.Arguments) (any, error) {
			panic("bad step")
		}))
		b.OnInputEvent("Start").SendEventTo(f)
		p, err := b.Build()
		require.NoError(t, err)

		lp, err := Start(context.Background(), nil, p, &Event{ID: "Start"})
		require.NoError(t, err)
		err = waitDone(t, lp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked: bad step")
	})
}

func TestLocalProcess_KernelFunctionAndExternalEvents(t *testing.T) {
	type addInput struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	add := function.MustFromFunc("add", "adds", func(_ context.Context, in addInput) (int, error) {
		return in.A + in.B, nil
	})
	k, err := kernel.New(kernel.WithPlugin(function.MustNewPlugin("math", "math", add)))
	require.NoError(t, err)
	fn, err := k.Function("math", "add")
	require.NoError(t, err)

	sf := FromKernelFunction(fn)
	assert.Equal(t, "add", sf.Name())
	assert.Equal(t, []string{"a", "b"}, sf.Parameters())

	rec := &recorder{}
	b := NewBuilder("adder")
	a := b.AddStep("adder", sf)
	sink := b.AddStep("sink", rec.fn("sum"))
	b.OnInputEvent("A").SendEventTo(a, WithParameter("a"))
	b.OnInputEvent("B").SendEventTo(a, WithParameter("b"))
	a.OnFunctionResult("add").SendEventTo(sink)
	sink.OnFunctionResult("").StopProcess()
	p, err := b.Build()
	require.NoError(t, err)

	lp, err := Start(context.Background(), k, p, &Event{ID: "A", Data: 1}, WithKeepAlive(true))
	require.NoError(t, err)
	require.NoError(t, lp.SendEvent(context.Background(), &Event{ID: "Unknown"}))
	require.NoError(t, lp.SendEvent(context.Background(), &Event{ID: "B", Data: 2}))
	require.NoError(t, waitDone(t, lp))

	assert.Equal(t, []any{3}, rec.values())
	assert.Equal(t, store.StatusCompleted, lp.Status())
}

func TestLocalProcess_NestedProcess(t *testing.T) {
	upper := NewStepFunction("upper", func(_ context.Context, sc *StepContext, args function.Arguments) (any, error) {
		n, _ := sc.State()["calls"].(float64)
		sc.State()["calls"] = n + 1
		out := strings.ToUpper(args["text"].(string))
		sc.EmitEvent("Upper", out, WithVisibility(VisibilityPublic))
		sc.EmitEvent("Private", out)
		return out, nil
	}, "text")
	ib := NewBuilder("inner")
	u := ib.AddStep("upper", upper)
	ib.OnInputEvent("In").SendEventTo(u)
	inner, err := ib.Build()
	require.NoError(t, err)

	rec := &recorder{}
	var public []string
	b := NewBuilder("outer")
	n := b.AddProcess(inner)
	sink := b.AddStep("sink", rec.fn("text"))
	b.OnInputEvent("Go").SendEventTo(n, WithEventID("In"))
	n.OnEvent("Upper").SendEventTo(sink)
	n.OnEvent("Private").StopProcess()
	outer, err := b.Build()
	require.NoError(t, err)

	lp, err := Start(context.Background(), nil, outer, &Event{ID: "Go", Data: "quiet"},
		WithOnEvent(func(ev *Event) { public = append(public, ev.SourceID+"."+ev.ID) }))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, lp))

	assert.Equal(t, []any{"QUIET"}, rec.values())
	assert.Equal(t, []string{"inner.Upper"}, public)
	assert.Equal(t, float64(1), lp.State().Steps["inner/upper"]["calls"])
}

func TestLocalProcess_StopAndCancel(t *testing.T) {
	wb := NewBuilder("waiting")
	w := wb.AddStep("w", noop("pair", "x", "y"))
	wb.OnInputEvent("X").SendEventTo(w, WithParameter("x"))
	waiting, err := wb.Build()
	require.NoError(t, err)

	lp, err := Start(context.Background(), nil, waiting, &Event{ID: "X"}, WithKeepAlive(true))
	require.NoError(t, err)
	lp.Stop()
	require.NoError(t, waitDone(t, lp))
	assert.Equal(t, store.StatusStopped, lp.Status())
	assert.ErrorIs(t, lp.SendEvent(context.Background(), &Event{ID: "X"}), ErrProcessFinished)

	block := NewStepFunction("block", func(ctx context.Context, _ *StepContext, _ function.Arguments) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	b := NewBuilder("blocking")
	s := b.AddStep("s", block)
	b.OnInputEvent("Start").SendEventTo(s)
	blocking, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	lp, err = Start(ctx, nil, blocking, &Event{ID: "Start"})
	require.NoError(t, err)
	cancel()
	assert.ErrorIs(t, waitDone(t, lp), context.Canceled)
	assert.Equal(t, store.StatusStopped, lp.Status())
}

func TestLocalProcess_StateStoreResume(t *testing.T) {
	s := store.NewMemory()
	p := counterProcess(t, 2)

	lp, err := Start(context.Background(), nil, p, &Event{ID: "Start"},
		WithStateStore(s), WithProcessID("job-1"))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, lp))
	assert.Equal(t, "job-1", lp.ID())

	saved, err := s.Load(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, saved.Status)
	assert.Equal(t, 2, saved.Superstep)
	assert.Equal(t, float64(2), saved.Steps["counter"]["count"])

	lp, err = Start(context.Background(), nil, p, &Event{ID: "Start"},
		WithStateStore(s), WithProcessID("job-1"))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, lp))
	saved, err = s.Load(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, saved.Superstep)
	assert.Equal(t, float64(3), saved.Steps["counter"]["count"])
}

func TestStart_Errors(t *testing.T) {
	p := counterProcess(t, 1)
	_, err := Start(context.Background(), nil, p, &Event{ID: "Nope"})
	assert.ErrorIs(t, err, ErrUnknownEvent)
	_, err = Start(context.Background(), nil, nil, &Event{ID: "Start"})
	assert.Error(t, err)
	_, err = Start(context.Background(), nil, p, nil)
	assert.Error(t, err)
}
