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
	"strings"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// Result texts returned to the model when a call cannot be executed.
const (
	MalformedArgumentsMessage = "The tool call arguments are malformed. Arguments must be in JSON format. Please try again."
	missingNameMessage        = "The tool call is missing the function name, please try again with a supplied tool call name."
	unknownToolMessage        = "The tool call with name `%s` is not part of the provided tools, please try again " +
		"with a supplied tool call name and make sure to validate the name."
	missingArgumentsMessage = "Missing required argument(s): %s"
)

// FunctionCallRequest describes one model requested call.
type FunctionCallRequest struct {
	Call *model.FunctionCall
	// Arguments are merged below the call arguments.
	Arguments function.Arguments
	// Behavior restricts the callable functions; nil allows every function.
	Behavior              *model.FunctionChoiceBehavior
	RequestSequenceIndex  int
	FunctionSequenceIndex int
	FunctionCount         int
}

// InvokeFunctionCall executes a model requested function call and appends the tool
// message with its result to history.
//
// Failures the model can recover from (malformed arguments, unknown or disallowed
// functions, missing arguments, function errors) are reported as the result text. The
// returned context is nil when the function was not invoked. Errors are returned for
// cancellation and filter failures only.
func (k *Kernel) InvokeFunctionCall(
	ctx context.Context,
	history *model.History,
	req *FunctionCallRequest,
) (*AutoFunctionInvocationContext, error) {
	msg, ac, err := k.invokeFunctionCall(ctx, history, req)
	if err != nil {
		return nil, err
	}
	history.Add(msg)
	return ac, nil
}

func (k *Kernel) invokeFunctionCall(
	ctx context.Context,
	history *model.History,
	req *FunctionCallRequest,
) (*model.Message, *AutoFunctionInvocationContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	call := req.Call
	reply := func(result string) (*model.Message, *AutoFunctionInvocationContext, error) {
		return model.NewFunctionResultMessage(call, result), nil, nil
	}

	parsed, err := call.ToArguments()
	if err != nil {
		log.Infof("kernel: received invalid arguments for %s: %v", call.FullyQualifiedName(), err)
		return reply(MalformedArgumentsMessage)
	}
	args := req.Arguments.Clone()
	for name, v := range parsed {
		args[name] = v
	}

	if call.FunctionName == "" {
		return reply(missingNameMessage)
	}
	fqn := call.FullyQualifiedName()
	fn, err := k.FunctionFromFullyQualifiedName(fqn)
	if err == nil && !req.Behavior.Allows(fn.Metadata()) {
		err = fmt.Errorf("function %s is not allowed", fqn)
	}
	if err != nil {
		log.Warnf("kernel: tool call %s rejected: %v", fqn, err)
		return reply(fmt.Sprintf(unknownToolMessage, fqn))
	}
	if missing := fn.Metadata().MissingArguments(args); len(missing) > 0 {
		return reply(fmt.Sprintf(missingArgumentsMessage, strings.Join(missing, ", ")))
	}

	ac := &AutoFunctionInvocationContext{
		Function:              fn,
		Arguments:             args,
		Result:                &function.Result{Function: fn.Metadata()},
		History:               history,
		FunctionCall:          call,
		RequestSequenceIndex:  req.RequestSequenceIndex,
		FunctionSequenceIndex: req.FunctionSequenceIndex,
		FunctionCount:         req.FunctionCount,
	}
	if err := k.runAutoFilters(ctx, ac); err != nil {
		return nil, nil, err
	}
	var value any
	if ac.Result != nil {
		value = ac.Result.String()
	}
	return model.NewFunctionResultMessage(call, value), ac, nil
}
