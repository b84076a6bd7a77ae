//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package agent provides agents backed by kernel chat completion, the threads they talk
// in, and declarative agent definitions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

var (
	// ErrNoResponse is returned by GetResponse when the agent produced no message.
	ErrNoResponse = errors.New("agent: no response")
	// ErrInvalidName is returned for agent names outside [0-9A-Za-z_-].
	ErrInvalidName = errors.New("agent: invalid name")
)

var namePattern = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Agent answers messages.
type Agent interface {
	ID() string
	Name() string
	Description() string
	// GetResponse returns the last message of an invocation.
	GetResponse(ctx context.Context, messages []*model.Message, opts ...InvokeOption) (*ResponseItem, error)
	// Invoke returns every response message of an invocation.
	Invoke(ctx context.Context, messages []*model.Message, opts ...InvokeOption) ([]*ResponseItem, error)
}

// ResponseItem is one response message with the thread it was recorded on.
type ResponseItem struct {
	Message *model.Message
	Thread  Thread
}

// InvokeOptions tune one invocation.
type InvokeOptions struct {
	Thread               Thread
	InstructionsOverride string
	Arguments            function.Arguments
	Settings             *model.Settings
	// OnIntermediateMessage receives the function call and function result messages
	// produced before the final response.
	OnIntermediateMessage func(ctx context.Context, msg *model.Message) error
}

// InvokeOption configures InvokeOptions.
type InvokeOption func(*InvokeOptions)

// WithThread continues the conversation of thread.
func WithThread(t Thread) InvokeOption {
	return func(o *InvokeOptions) { o.Thread = t }
}

// WithInstructionsOverride replaces the agent instructions for one call.
func WithInstructionsOverride(instructions string) InvokeOption {
	return func(o *InvokeOptions) { o.InstructionsOverride = instructions }
}

// WithArguments passes kernel arguments to auto-invoked functions.
func WithArguments(args function.Arguments) InvokeOption {
	return func(o *InvokeOptions) { o.Arguments = args }
}

// WithSettings overrides execution settings for one call.
func WithSettings(s *model.Settings) InvokeOption {
	return func(o *InvokeOptions) { o.Settings = s }
}

// WithOnIntermediateMessage registers a callback for intermediate messages.
func WithOnIntermediateMessage(fn func(ctx context.Context, msg *model.Message) error) InvokeOption {
	return func(o *InvokeOptions) { o.OnIntermediateMessage = fn }
}

func newInvokeOptions(opts []InvokeOption) *InvokeOptions {
	o := &InvokeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Last returns the last item or ErrNoResponse.
func last(items []*ResponseItem, err error) (*ResponseItem, error) {
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoResponse
	}
	return items[len(items)-1], nil
}

// Messages wraps user texts as messages.
func Messages(texts ...string) []*model.Message {
	out := make([]*model.Message, len(texts))
	for i, t := range texts {
		out[i] = model.NewUserMessage(t)
	}
	return out
}

// Function parameter names of AsFunction.
const (
	ParamMessages             = "messages"
	ParamInstructionsOverride = "instructions_override"
)

// AsFunction exposes an agent as a kernel function named after the agent. The function
// takes the user messages and an optional instructions override, and returns the text
// of the agent response.
func AsFunction(a Agent) (function.Function, error) {
	name := a.Name()
	if err := function.ValidateName(name); err != nil {
		return nil, err
	}
	return function.NewFunction(name, a.Description(), func(ctx context.Context, args function.Arguments) (any, error) {
		msgs, err := messagesArgument(args[ParamMessages])
		if err != nil {
			return nil, err
		}
		var opts []InvokeOption
		if s, ok := args[ParamInstructionsOverride].(string); ok && s != "" {
			opts = append(opts, WithInstructionsOverride(s))
		}
		res, err := a.GetResponse(ctx, msgs, opts...)
		if err != nil {
			return nil, err
		}
		return res.Message.Content(), nil
	}, function.WithParameters(
		&function.Parameter{
			Name:        ParamMessages,
			Description: "The user messages for the agent.",
			Schema:      &function.Schema{Type: "string"},
			Required:    true,
		},
		&function.Parameter{
			Name:        ParamInstructionsOverride,
			Description: "Override agent instructions.",
			Schema:      &function.Schema{Type: "string"},
		},
	))
}

func messagesArgument(v any) ([]*model.Message, error) {
	switch m := v.(type) {
	case string:
		return Messages(m), nil
	case []string:
		return Messages(m...), nil
	case []any:
		var out []*model.Message
		for _, it := range m {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("%w: messages must be strings, got %T", function.ErrInvalidArguments, it)
			}
			out = append(out, model.NewUserMessage(s))
		}
		return out, nil
	case *model.Message:
		return []*model.Message{m}, nil
	case []*model.Message:
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unsupported messages %T", function.ErrInvalidArguments, v)
	}
}
