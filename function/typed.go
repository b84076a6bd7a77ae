//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// typedFunction adapts a Go func with a struct input to the Function interface.
type typedFunction[I, O any] struct {
	meta *Metadata
	fn   func(context.Context, I) (O, error)
}

// FromFunc builds a Function whose parameters are the json fields of I.
// Arguments are converted into I through JSON, so numbers and nested objects decoded
// from model tool calls bind naturally.
func FromFunc[I, O any](name, description string, fn func(context.Context, I) (O, error), opts ...Option) (Function, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var (
		in  I
		out O
	)
	meta := &Metadata{
		Name:        name,
		Description: description,
		Parameters:  parametersOf(reflect.TypeOf(in)),
		Return:      &Parameter{Name: "return", Schema: schemaOf(reflect.TypeOf(out))},
	}
	for _, opt := range opts {
		opt(meta)
	}
	return &typedFunction[I, O]{meta: meta, fn: fn}, nil
}

// MustFromFunc is FromFunc that panics on invalid names.
func MustFromFunc[I, O any](name, description string, fn func(context.Context, I) (O, error), opts ...Option) Function {
	f, err := FromFunc(name, description, fn, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

func parametersOf(t reflect.Type) []*Parameter {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct || t == timeType {
		return nil
	}
	fields := structFields(t)
	params := make([]*Parameter, 0, len(fields))
	for _, f := range fields {
		params = append(params, &Parameter{
			Name:        f.name,
			Description: f.description,
			Schema:      schemaOf(f.typ),
			Required:    f.required,
		})
	}
	return params
}

func (f *typedFunction[I, O]) Metadata() *Metadata { return f.meta }

func (f *typedFunction[I, O]) Invoke(ctx context.Context, args Arguments) (res *Result, err error) {
	defer recoverInvoke(f.meta, &err)
	in, err := bind[I](args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.meta.FullyQualifiedName(DefaultSeparator), err)
	}
	out, err := f.fn(ctx, in)
	if err != nil {
		return nil, err
	}
	return &Result{Function: f.meta, Value: out}, nil
}

func bind[I any](args Arguments) (I, error) {
	var in I
	if len(args) == 0 {
		return in, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return in, nil
}
