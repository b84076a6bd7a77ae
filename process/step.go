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

	"trpc.group/trpc-go/trpc-kernel-go/function"
)

// Event id suffixes of function outcomes.
const (
	SuffixOnResult = ".OnResult"
	SuffixOnError  = ".OnError"
)

// StepFunc is the body of a step function. args holds one value per parameter.
type StepFunc func(ctx context.Context, sc *StepContext, args function.Arguments) (any, error)

// StepFunction is a function of a step. It runs once every required parameter has a
// value, or, without required parameters, whenever a message reaches it.
type StepFunction struct {
	name     string
	params   []string
	required []string
	fn       StepFunc
}

// NewStepFunction creates a step function whose params are all required.
func NewStepFunction(name string, fn StepFunc, params ...string) *StepFunction {
	return &StepFunction{name: name, params: params, required: params, fn: fn}
}

// FromKernelFunction wraps a kernel function. Its required parameters gate execution and
// the invocation goes through the kernel so invocation filters apply. The step result is
// the function result value.
func FromKernelFunction(kf function.Function) *StepFunction {
	meta := kf.Metadata()
	sf := &StepFunction{name: meta.Name}
	for _, p := range meta.Parameters {
		sf.params = append(sf.params, p.Name)
		if p.Required {
			sf.required = append(sf.required, p.Name)
		}
	}
	sf.fn = func(ctx context.Context, sc *StepContext, args function.Arguments) (any, error) {
		res, err := sc.Kernel().InvokeFunction(ctx, kf, args)
		if err != nil {
			return nil, err
		}
		return res.Value, nil
	}
	return sf
}

// Name returns the function name.
func (f *StepFunction) Name() string { return f.name }

// Parameters returns the declared parameter names.
func (f *StepFunction) Parameters() []string { return append([]string(nil), f.params...) }

func (f *StepFunction) hasParam(name string) bool {
	for _, p := range f.params {
		if p == name {
			return true
		}
	}
	return false
}

func (f *StepFunction) ready(p *pendingCall) bool {
	if p == nil || !p.triggered {
		return false
	}
	for _, r := range f.required {
		if _, ok := p.args[r]; !ok {
			return false
		}
	}
	return true
}

// pendingCall collects parameter values until the function can run.
type pendingCall struct {
	args      function.Arguments
	triggered bool
}
