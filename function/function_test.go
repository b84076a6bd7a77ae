//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package function_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/function"
)

type addInput struct {
	A    int     `json:"a" description:"first operand"`
	B    int     `json:"b"`
	Note *string `json:"note"`
	Tag  string  `json:"tag,omitempty"`
}

type addOutput struct {
	Sum int `json:"sum"`
}

func TestFromFunc_SchemaAndInvoke(t *testing.T) {
	fn, err := function.FromFunc("add", "Adds two integers.",
		func(_ context.Context, in addInput) (addOutput, error) {
			return addOutput{Sum: in.A + in.B}, nil
		})
	require.NoError(t, err)

	meta := fn.Metadata()
	assert.Equal(t, "add", meta.Name)
	require.Len(t, meta.Parameters, 4)
	assert.Equal(t, "a", meta.Parameters[0].Name)
	assert.Equal(t, "first operand", meta.Parameters[0].Description)
	assert.Equal(t, "integer", meta.Parameters[0].Schema.Type)
	assert.True(t, meta.Parameters[0].Required)
	assert.False(t, meta.Parameters[2].Required, "pointer fields are optional")
	assert.False(t, meta.Parameters[3].Required, "omitempty fields are optional")

	schema := meta.ParametersSchema()
	assert.Equal(t, "object", schema.Type)
	assert.ElementsMatch(t, []string{"a", "b"}, schema.Required)

	// Numbers decoded from JSON arrive as float64.
	res, err := fn.Invoke(context.Background(), function.Arguments{"a": float64(2), "b": 3})
	require.NoError(t, err)
	assert.Equal(t, addOutput{Sum: 5}, res.Value)
	assert.Equal(t, `{"sum":5}`, res.String())
	assert.Equal(t, []string{"b"}, meta.MissingArguments(function.Arguments{"a": 1}))
}

func TestFromFunc_InvalidArguments(t *testing.T) {
	fn := function.MustFromFunc("add", "", func(_ context.Context, in addInput) (addOutput, error) {
		return addOutput{}, nil
	})
	_, err := fn.Invoke(context.Background(), function.Arguments{"a": "not a number"})
	assert.ErrorIs(t, err, function.ErrInvalidArguments)
}

func TestNewFunction_DefaultsAndPanics(t *testing.T) {
	fn, err := function.NewFunction("greet", "Greets someone.",
		func(_ context.Context, args function.Arguments) (any, error) {
			return "hello " + args["name"].(string), nil
		},
		function.WithParameters(&function.Parameter{Name: "name", Default: "world"}),
	)
	require.NoError(t, err)
	res, err := fn.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.String())

	boom := function.MustNewFunction("boom", "", func(context.Context, function.Arguments) (any, error) {
		panic("kaboom")
	})
	_, err = boom.Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	_, err = function.NewFunction("bad name", "", nil)
	assert.ErrorIs(t, err, function.ErrInvalidName)
}

func TestPlugin(t *testing.T) {
	fail := errors.New("fail")
	f1 := function.MustNewFunction("b_fn", "", func(context.Context, function.Arguments) (any, error) { return 1, nil })
	f2 := function.MustNewFunction("a_fn", "", func(context.Context, function.Arguments) (any, error) { return nil, fail })

	p, err := function.NewPlugin("math", "Math helpers", f1, f2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	names := []string{}
	for _, m := range p.Metadata() {
		names = append(names, m.FullyQualifiedName(function.DefaultSeparator))
	}
	assert.Equal(t, []string{"math-a_fn", "math-b_fn"}, names)
	assert.Empty(t, f1.Metadata().PluginName, "the source function is not modified")

	got, ok := p.Get("b_fn")
	require.True(t, ok)
	res, err := got.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "math", res.Function.PluginName)

	err = p.Add(f1)
	assert.ErrorIs(t, err, function.ErrDuplicateFunction)

	_, err = function.NewPlugin("bad-name", "")
	assert.ErrorIs(t, err, function.ErrInvalidName)

	other := function.InPlugin(got, "other")
	assert.Equal(t, "other", other.Metadata().PluginName)
	assert.Equal(t, "math", got.Metadata().PluginName)

	assert.True(t, p.Remove("a_fn"))
	assert.False(t, p.Remove("a_fn"))
	assert.Equal(t, 1, p.Len())
}

func TestSchemaMapRoundTrip(t *testing.T) {
	s := &function.Schema{
		Type:     "object",
		Required: []string{"q"},
		Properties: map[string]*function.Schema{
			"q":    {Type: "string", Description: "query"},
			"tags": {Type: "array", Items: &function.Schema{Type: "string"}},
		},
	}
	back := function.SchemaFromMap(s.Map())
	assert.Equal(t, s.Required, back.Required)
	assert.Equal(t, "query", back.Properties["q"].Description)
	assert.Equal(t, "string", back.Properties["tags"].Items.Type)
}
