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
	"errors"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	itelemetry "trpc.group/trpc-go/trpc-kernel-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
	"trpc.group/trpc-go/trpc-kernel-go/telemetry/trace"
)

// GetChatMessages asks the chat service selected by settings.ServiceID for a response.
//
// When settings.FunctionChoice is set the allowed kernel functions are advertised. With
// auto invocation, each response carrying function calls is appended to history together
// with one tool message per call, and the model is asked again, for at most
// MaximumAutoInvokeAttempts rounds; a last round then runs with tool choice "none". The
// messages of the final round are returned and not appended to history. When an auto
// function invocation filter terminates, the tool messages of that round are returned.
func (k *Kernel) GetChatMessages(
	ctx context.Context,
	history *model.History,
	settings *model.Settings,
	args function.Arguments,
) ([]*model.Message, error) {
	if history == nil {
		return nil, errors.New("kernel: history cannot be nil")
	}
	s := settings.Clone()
	svc, err := k.ChatCompletion(s.ServiceID)
	if err != nil {
		return nil, err
	}
	behavior := s.FunctionChoice
	if behavior != nil {
		s.Tools = k.FunctionsMetadata(behavior)
		if len(s.Tools) > 0 {
			s.ToolChoice = behavior.ToolChoice()
		}
	}
	if behavior == nil || !behavior.AutoInvoke || len(s.Tools) == 0 {
		return k.chat(ctx, svc, history, s)
	}

	for round := 0; round < behavior.MaximumAutoInvokeAttempts; round++ {
		msgs, err := k.chat(ctx, svc, history, s)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 || len(msgs[0].FunctionCalls()) == 0 {
			return msgs, nil
		}
		history.Add(msgs[0])
		results, terminate, err := k.invokeFunctionCalls(ctx, history, msgs[0].FunctionCalls(), args, behavior, round)
		if err != nil {
			return nil, err
		}
		history.Add(results...)
		if terminate {
			log.Debugf("kernel: auto function invocation terminated in round %d", round)
			return results, nil
		}
	}
	final := s.Clone()
	final.ToolChoice = model.ToolChoiceNone
	return k.chat(ctx, svc, history, final)
}

func (k *Kernel) chat(
	ctx context.Context,
	svc model.ChatCompletion,
	history *model.History,
	s *model.Settings,
) (msgs []*model.Message, err error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewChatSpanName(svc.ModelID()), oteltrace.WithAttributes(
		attribute.String(itelemetry.KeyServiceID, svc.ServiceID()),
		attribute.String(itelemetry.KeyModelID, svc.ModelID()),
	))
	defer func() { itelemetry.EndSpan(span, err) }()
	return svc.GetChatMessages(ctx, history, s)
}

// invokeFunctionCalls runs the calls of one round concurrently and returns the tool
// messages in call order.
func (k *Kernel) invokeFunctionCalls(
	ctx context.Context,
	history *model.History,
	calls []*model.FunctionCall,
	args function.Arguments,
	behavior *model.FunctionChoiceBehavior,
	round int,
) ([]*model.Message, bool, error) {
	results := make([]*model.Message, len(calls))
	terminated := make([]bool, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			msg, ac, err := k.invokeFunctionCall(gctx, history, &FunctionCallRequest{
				Call:                  call,
				Arguments:             args,
				Behavior:              behavior,
				RequestSequenceIndex:  round,
				FunctionSequenceIndex: i,
				FunctionCount:         len(calls),
			})
			if err != nil {
				return err
			}
			results[i] = msg
			terminated[i] = ac != nil && ac.Terminate
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	for _, t := range terminated {
		if t {
			return results, true, nil
		}
	}
	return results, false, nil
}
