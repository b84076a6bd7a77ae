//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package kernel

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	itelemetry "trpc.group/trpc-go/trpc-kernel-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
	"trpc.group/trpc-go/trpc-kernel-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-kernel-go/telemetry/trace"
)

// FunctionInvocationContext is passed through the function invocation filters.
// Filters may change Arguments before calling next and replace Result after it.
type FunctionInvocationContext struct {
	Function  function.Function
	Arguments function.Arguments
	Result    *function.Result
}

// FunctionInvocationFilter wraps every function invocation. A filter that does not call
// next skips the invocation.
type FunctionInvocationFilter func(
	ctx context.Context,
	fc *FunctionInvocationContext,
	next func(ctx context.Context, fc *FunctionInvocationContext) error,
) error

// AutoFunctionInvocationContext is passed through the auto function invocation filters
// when the kernel executes a call requested by a model.
type AutoFunctionInvocationContext struct {
	Function     function.Function
	Arguments    function.Arguments
	Result       *function.Result
	History      *model.History
	FunctionCall *model.FunctionCall
	// RequestSequenceIndex is the model round, FunctionSequenceIndex the call within it.
	RequestSequenceIndex  int
	FunctionSequenceIndex int
	FunctionCount         int
	// Terminate stops the auto invocation loop after the current round.
	Terminate bool
}

// AutoFunctionInvocationFilter wraps a model requested function call.
type AutoFunctionInvocationFilter func(
	ctx context.Context,
	ac *AutoFunctionInvocationContext,
	next func(ctx context.Context, ac *AutoFunctionInvocationContext) error,
) error

// Invoke invokes a function by plugin and function name.
func (k *Kernel) Invoke(
	ctx context.Context,
	pluginName, functionName string,
	args function.Arguments,
) (*function.Result, error) {
	fn, err := k.Function(pluginName, functionName)
	if err != nil {
		return nil, err
	}
	return k.InvokeFunction(ctx, fn, args)
}

// InvokeFunction runs fn through the function invocation filters.
func (k *Kernel) InvokeFunction(
	ctx context.Context,
	fn function.Function,
	args function.Arguments,
) (res *function.Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta := fn.Metadata()
	fqn := meta.FullyQualifiedName(function.DefaultSeparator)
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewInvokeFunctionSpanName(fqn),
		oteltrace.WithAttributes(itelemetry.FunctionAttributes(meta.PluginName, meta.Name)...))
	start := time.Now()
	defer func() {
		metric.RecordFunctionDuration(ctx, meta.PluginName, meta.Name, time.Since(start), err)
		itelemetry.EndSpan(span, err)
	}()

	if args == nil {
		args = function.Arguments{}
	}
	fc := &FunctionInvocationContext{Function: fn, Arguments: args}
	k.mu.RLock()
	filters := k.functionFilters
	k.mu.RUnlock()

	var next func(ctx context.Context, fc *FunctionInvocationContext) error
	idx := 0
	next = func(ctx context.Context, fc *FunctionInvocationContext) error {
		if idx < len(filters) {
			f := filters[idx]
			idx++
			return callFilter(func() error { return f(ctx, fc, next) })
		}
		r, err := fc.Function.Invoke(ctx, fc.Arguments)
		if err != nil {
			return err
		}
		fc.Result = r
		return nil
	}
	if err := next(ctx, fc); err != nil {
		log.Debugf("kernel: function %s failed: %v", fqn, err)
		return nil, err
	}
	if fc.Result == nil {
		fc.Result = &function.Result{Function: meta}
	}
	return fc.Result, nil
}

// callFilter converts a panicking filter into an error.
func callFilter(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("kernel: filter panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("kernel: filter panic: %v", r)
		}
	}()
	return fn()
}

func (k *Kernel) runAutoFilters(ctx context.Context, ac *AutoFunctionInvocationContext) error {
	k.mu.RLock()
	filters := k.autoFilters
	k.mu.RUnlock()

	var next func(ctx context.Context, ac *AutoFunctionInvocationContext) error
	idx := 0
	next = func(ctx context.Context, ac *AutoFunctionInvocationContext) error {
		if idx < len(filters) {
			f := filters[idx]
			idx++
			return callFilter(func() error { return f(ctx, ac, next) })
		}
		return k.invokeAuto(ctx, ac)
	}
	return next(ctx, ac)
}

// invokeAuto is the innermost auto invocation step. Function errors become the result
// text so the model can react to them.
func (k *Kernel) invokeAuto(ctx context.Context, ac *AutoFunctionInvocationContext) error {
	res, err := k.InvokeFunction(ctx, ac.Function, ac.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fqn := ac.Function.Metadata().FullyQualifiedName(function.DefaultSeparator)
		log.Warnf("kernel: auto invocation of %s failed: %v", fqn, err)
		ac.Result = &function.Result{
			Function: ac.Function.Metadata(),
			Value:    fmt.Sprintf("Exception occurred while invoking function %s, exception: %v", fqn, err),
		}
		return nil
	}
	ac.Result = res
	return nil
}
