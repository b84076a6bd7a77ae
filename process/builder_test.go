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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/function"
)

func noop(name string, params ...string) *StepFunction {
	return NewStepFunction(name, func(context.Context, *StepContext, function.Arguments) (any, error) {
		return nil, nil
	}, params...)
}

func TestBuild(t *testing.T) {
	b := NewBuilder("flow")
	a := b.AddStep("a", noop("run", "in"))
	c := b.AddStep("c", noop("left", "x"), noop("right", "x", "y"))
	b.OnInputEvent("Start").SendEventTo(a)
	a.OnFunctionResult("").
		SendEventTo(c, WithFunction("left")).
		SendEventTo(c, WithFunction("right"), WithParameter("y"))
	c.OnFunctionResult("right").StopProcess()

	p, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "flow", p.Name())
	assert.Equal(t, []string{"a", "c"}, p.Steps())
	assert.Equal(t, []string{"Start"}, p.InputEvents())

	edges := p.byName["a"].edges["run.OnResult"]
	require.Len(t, edges, 2)
	assert.Equal(t, &edge{target: "c", fn: "left", param: "x"}, edges[0])
	assert.Equal(t, &edge{target: "c", fn: "right", param: "y"}, edges[1])
	assert.True(t, p.byName["c"].edges["right.OnResult"][0].stop)
}

func TestBuild_NestedProcess(t *testing.T) {
	sb := NewBuilder("inner")
	s := sb.AddStep("s", noop("run"))
	sb.OnInputEvent("In").SendEventTo(s)
	sub, err := sb.Build()
	require.NoError(t, err)

	b := NewBuilder("outer")
	n := b.AddProcess(sub)
	b.OnInputEvent("Go").SendEventTo(n, WithEventID("In"))
	p, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, &edge{target: "inner", eventID: "In"}, p.inputs["Go"][0])

	b = NewBuilder("outer")
	n = b.AddProcess(sub)
	b.OnInputEvent("Go").SendEventTo(n)
	_, err = b.Build()
	assert.ErrorIs(t, err, ErrInvalidProcess)
	assert.Contains(t, err.Error(), "has no input event Go")
}

func TestBuild_Invalid(t *testing.T) {
	other := NewBuilder("other").AddStep("x", noop("run"))
	tests := []struct {
		name  string
		build func(b *Builder)
		want  string
	}{
		{
			name:  "no input",
			build: func(b *Builder) { b.AddStep("a", noop("run")) },
			want:  "no input events",
		},
		{
			name: "duplicate step",
			build: func(b *Builder) {
				a := b.AddStep("a", noop("run"))
				b.AddStep("a", noop("run"))
				b.OnInputEvent("Start").SendEventTo(a)
			},
			want: "duplicate step a",
		},
		{
			name: "step without functions",
			build: func(b *Builder) {
				b.OnInputEvent("Start").SendEventTo(b.AddStep("a"))
			},
			want: "has no functions",
		},
		{
			name: "duplicate function",
			build: func(b *Builder) {
				b.OnInputEvent("Start").SendEventTo(b.AddStep("a", noop("run"), noop("run")), WithFunction("run"))
			},
			want: "duplicate function run",
		},
		{
			name: "foreign target",
			build: func(b *Builder) {
				b.OnInputEvent("Start").SendEventTo(other)
			},
			want: "does not belong",
		},
		{
			name: "ambiguous function",
			build: func(b *Builder) {
				b.OnInputEvent("Start").SendEventTo(b.AddStep("a", noop("one"), noop("two")))
			},
			want: "needs a function name",
		},
		{
			name: "unknown function",
			build: func(b *Builder) {
				b.OnInputEvent("Start").SendEventTo(b.AddStep("a", noop("one")), WithFunction("two"))
			},
			want: "has no function two",
		},
		{
			name: "unknown parameter",
			build: func(b *Builder) {
				b.OnInputEvent("Start").SendEventTo(b.AddStep("a", noop("one", "x")), WithParameter("y"))
			},
			want: "has no parameter y",
		},
		{
			name: "ambiguous parameter",
			build: func(b *Builder) {
				b.OnInputEvent("Start").SendEventTo(b.AddStep("a", noop("one", "x", "y")))
			},
			want: "needs a parameter name",
		},
		{
			name: "result of unknown function",
			build: func(b *Builder) {
				a := b.AddStep("a", noop("one"))
				b.OnInputEvent("Start").SendEventTo(a)
				a.OnFunctionResult("two").StopProcess()
			},
			want: "step a has no function two",
		},
		{
			name: "edge without target",
			build: func(b *Builder) {
				b.OnInputEvent("Start")
			},
			want: "edge has no target",
		},
		{
			name: "invalid step name",
			build: func(b *Builder) {
				b.OnInputEvent("Start").SendEventTo(b.AddStep("a.b", noop("run")))
			},
			want: "step name",
		},
		{
			name: "nil nested process",
			build: func(b *Builder) {
				b.AddProcess(nil)
				b.OnInputEvent("Start").SendEventTo(b.AddStep("a", noop("run")))
			},
			want: "nil nested process",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("p")
			tt.build(b)
			_, err := b.Build()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidProcess)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
