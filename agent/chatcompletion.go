//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-kernel-go/agent/history"
	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/internal/instruction"
	itelemetry "trpc.group/trpc-go/trpc-kernel-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-kernel-go/kernel"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
	"trpc.group/trpc-go/trpc-kernel-go/telemetry/trace"
)

// ChatCompletionAgent answers with the chat completion services of a kernel.
type ChatCompletionAgent struct {
	id           string
	name         string
	description  string
	instructions string
	serviceID    string
	settings     *model.Settings
	behavior     *model.FunctionChoiceBehavior
	kernel       *kernel.Kernel
	store        history.Store
}

var _ Agent = (*ChatCompletionAgent)(nil)

// Option configures a ChatCompletionAgent.
type Option func(*options)

type options struct {
	kernel       *kernel.Kernel
	id           string
	name         string
	description  string
	instructions string
	serviceID    string
	settings     *model.Settings
	behavior     *model.FunctionChoiceBehavior
	plugins      []*function.Plugin
	services     []model.ChatCompletion
	store        history.Store
}

// WithKernel sets the kernel whose services and functions the agent uses.
func WithKernel(k *kernel.Kernel) Option {
	return func(o *options) { o.kernel = k }
}

// WithID sets the agent id. A uuid is generated by default.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithName sets the agent name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDescription sets the agent description.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// WithInstructions sets the system prompt of the agent.
func WithInstructions(instructions string) Option {
	return func(o *options) { o.instructions = instructions }
}

// WithServiceID selects the chat completion service.
func WithServiceID(id string) Option {
	return func(o *options) { o.serviceID = id }
}

// WithExecutionSettings sets the default execution settings.
func WithExecutionSettings(s *model.Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithFunctionChoiceBehavior sets how kernel functions are offered to the model.
func WithFunctionChoiceBehavior(b *model.FunctionChoiceBehavior) Option {
	return func(o *options) { o.behavior = b }
}

// WithPlugins adds plugins. They are registered on a clone of the kernel, so the
// caller's kernel is left untouched.
func WithPlugins(plugins ...*function.Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, plugins...) }
}

// WithChatCompletion adds a chat completion service, also on a kernel clone.
func WithChatCompletion(svc model.ChatCompletion) Option {
	return func(o *options) { o.services = append(o.services, svc) }
}

// WithHistoryStore sets the store of threads created by the agent.
func WithHistoryStore(s history.Store) Option {
	return func(o *options) { o.store = s }
}

// NewChatCompletionAgent creates an agent.
func NewChatCompletionAgent(opts ...Option) (*ChatCompletionAgent, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.name == "" {
		o.name = "UnnamedAgent_" + o.id[:8]
	}
	if err := validateName(o.name); err != nil {
		return nil, err
	}
	k := o.kernel
	if k == nil {
		var err error
		if k, err = kernel.New(); err != nil {
			return nil, err
		}
	} else if len(o.plugins) > 0 || len(o.services) > 0 {
		k = k.Clone()
	}
	for _, p := range o.plugins {
		if err := k.AddPlugin(p); err != nil {
			return nil, fmt.Errorf("agent %s: %w", o.name, err)
		}
	}
	for _, svc := range o.services {
		if err := k.AddService(svc, true); err != nil {
			return nil, fmt.Errorf("agent %s: %w", o.name, err)
		}
	}
	return &ChatCompletionAgent{
		id:           o.id,
		name:         o.name,
		description:  o.description,
		instructions: o.instructions,
		serviceID:    o.serviceID,
		settings:     o.settings,
		behavior:     o.behavior,
		kernel:       k,
		store:        o.store,
	}, nil
}

// ID implements Agent.
func (a *ChatCompletionAgent) ID() string { return a.id }

// Name implements Agent.
func (a *ChatCompletionAgent) Name() string { return a.name }

// Description implements Agent.
func (a *ChatCompletionAgent) Description() string { return a.description }

// Instructions returns the system prompt.
func (a *ChatCompletionAgent) Instructions() string { return a.instructions }

// Kernel returns the kernel the agent runs on.
func (a *ChatCompletionAgent) Kernel() *kernel.Kernel { return a.kernel }

// GetResponse implements Agent.
func (a *ChatCompletionAgent) GetResponse(
	ctx context.Context, messages []*model.Message, opts ...InvokeOption,
) (*ResponseItem, error) {
	return last(a.Invoke(ctx, messages, opts...))
}

// Invoke implements Agent. The new messages are recorded on the thread, then the chat
// history is rebuilt from the instructions and the thread. Function calls and results
// produced while auto-invoking functions are recorded and passed to the intermediate
// message callback before the response messages.
func (a *ChatCompletionAgent) Invoke(
	ctx context.Context, messages []*model.Message, opts ...InvokeOption,
) (items []*ResponseItem, err error) {
	o := newInvokeOptions(opts)
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewInvokeAgentSpanName(a.name), oteltrace.WithAttributes(
		attribute.String(itelemetry.KeyAgentName, a.name),
	))
	defer func() { itelemetry.EndSpan(span, err) }()

	thread := o.Thread
	if thread == nil {
		var topts []ThreadOption
		if a.store != nil {
			topts = append(topts, WithStore(a.store))
		}
		thread = NewChatHistoryThread(topts...)
	}
	threadID, err := thread.Create(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(itelemetry.KeyThreadID, threadID))
	for _, m := range messages {
		if err := thread.OnNewMessage(ctx, m); err != nil {
			return nil, err
		}
	}
	past, err := thread.Messages(ctx)
	if err != nil {
		return nil, err
	}

	h := model.NewHistory()
	instructions := a.instructions
	if o.InstructionsOverride != "" {
		instructions = o.InstructionsOverride
	}
	if instructions != "" {
		sys := model.NewSystemMessage(instruction.Render(instructions, o.Arguments))
		sys.Name = a.name
		h.Add(sys)
	}
	h.Add(past...)
	start := h.Len()

	msgs, err := a.kernel.GetChatMessages(ctx, h, a.executionSettings(o.Settings), o.Arguments)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.name, err)
	}

	final := make(map[*model.Message]bool, len(msgs))
	for _, m := range msgs {
		final[m] = true
	}
	for _, m := range h.Messages[start:] {
		if final[m] {
			continue
		}
		a.stamp(m)
		if err := thread.OnNewMessage(ctx, m); err != nil {
			return nil, err
		}
		if o.OnIntermediateMessage != nil {
			if err := o.OnIntermediateMessage(ctx, m); err != nil {
				return nil, err
			}
		}
	}
	for _, m := range msgs {
		a.stamp(m)
		if err := thread.OnNewMessage(ctx, m); err != nil {
			return nil, err
		}
		items = append(items, &ResponseItem{Message: m, Thread: thread})
	}
	log.Debugf("agent %s: %d response message(s) on thread %s", a.name, len(items), threadID)
	return items, nil
}

func (a *ChatCompletionAgent) executionSettings(override *model.Settings) *model.Settings {
	s := a.settings.Merge(override)
	if s.ServiceID == "" {
		s.ServiceID = a.serviceID
	}
	if s.FunctionChoice == nil {
		s.FunctionChoice = a.behavior
	}
	return s
}

func (a *ChatCompletionAgent) stamp(m *model.Message) {
	if m.Role == model.RoleAssistant && m.Name == "" {
		m.Name = a.name
	}
}
