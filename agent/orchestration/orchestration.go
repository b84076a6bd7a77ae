//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package orchestration coordinates several agents on an actor runtime. Every
// invocation registers its own actors under a fresh internal topic, so one runtime can
// host many concurrent invocations.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-kernel-go/agent"
	"trpc.group/trpc-go/trpc-kernel-go/agent/runtime"
	itelemetry "trpc.group/trpc-go/trpc-kernel-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
	"trpc.group/trpc-go/trpc-kernel-go/telemetry/trace"
)

var (
	// ErrCancelled is returned by Result.Get after Result.Cancel.
	ErrCancelled = errors.New("orchestration: cancelled")
	// ErrNoMembers is returned when an orchestration has no agents.
	ErrNoMembers = errors.New("orchestration: no members")
	// ErrUnsupportedType is returned by the default transforms for other types.
	ErrUnsupportedType = errors.New("orchestration: unsupported type")
)

// InputTransform turns the task of an invocation into messages.
type InputTransform[TIn any] func(ctx context.Context, task TIn) ([]*model.Message, error)

// OutputTransform turns the final messages into the invocation result.
type OutputTransform[TOut any] func(ctx context.Context, msgs []*model.Message) (TOut, error)

// ResponseCallback observes every agent response.
type ResponseCallback func(ctx context.Context, msg *model.Message)

// Option configures an orchestration.
type Option func(*options)

type options struct {
	name            string
	description     string
	inputTransform  any
	outputTransform any
	callback        ResponseCallback
}

// WithName sets the name used in spans and logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDescription sets the description.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// WithInputTransform replaces DefaultInputTransform. TIn must match the orchestration.
func WithInputTransform[TIn any](fn InputTransform[TIn]) Option {
	return func(o *options) { o.inputTransform = fn }
}

// WithOutputTransform replaces DefaultOutputTransform. TOut must match the orchestration.
func WithOutputTransform[TOut any](fn OutputTransform[TOut]) Option {
	return func(o *options) { o.outputTransform = fn }
}

// WithResponseCallback observes agent responses.
func WithResponseCallback(cb ResponseCallback) Option {
	return func(o *options) { o.callback = cb }
}

// DefaultInputTransform accepts string, *model.Message and []*model.Message tasks.
func DefaultInputTransform[TIn any](_ context.Context, task TIn) ([]*model.Message, error) {
	switch v := any(task).(type) {
	case string:
		return []*model.Message{model.NewUserMessage(v)}, nil
	case *model.Message:
		return []*model.Message{v}, nil
	case []*model.Message:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: input %T", ErrUnsupportedType, task)
	}
}

// DefaultOutputTransform produces string (joined contents), *model.Message (the last
// message) or []*model.Message results.
func DefaultOutputTransform[TOut any](_ context.Context, msgs []*model.Message) (TOut, error) {
	var out TOut
	switch p := any(&out).(type) {
	case *string:
		parts := make([]string, 0, len(msgs))
		for _, m := range msgs {
			parts = append(parts, m.Content())
		}
		*p = strings.Join(parts, "\n")
	case **model.Message:
		if len(msgs) > 0 {
			*p = msgs[len(msgs)-1]
		}
	case *[]*model.Message:
		*p = msgs
	default:
		return out, fmt.Errorf("%w: output %T", ErrUnsupportedType, out)
	}
	return out, nil
}

// pattern is the actor layout of one orchestration kind.
type pattern interface {
	// prepare registers the factories and subscriptions of one invocation.
	prepare(inv *invocation) error
	// start hands the task to the actors.
	start(ctx context.Context, inv *invocation, task []*model.Message) error
}

// invocation is the state shared by the actors of one invocation.
type invocation struct {
	rt       *runtime.InProcessRuntime
	topic    string
	members  []agent.Agent
	callback ResponseCallback
	finish   func(msgs []*model.Message, err error)
	subs     []string
}

// actorType returns "<agent>_<topic>".
func (inv *invocation) actorType(name string) string {
	return name + "_" + inv.topic
}

func (inv *invocation) topicID() runtime.TopicID {
	return runtime.TopicID{Type: inv.topic, Source: inv.topic}
}

func (inv *invocation) respond(ctx context.Context, msg *model.Message) {
	if inv.callback != nil {
		inv.callback(ctx, msg)
	}
}

// subscribe routes the internal topic to each actor type.
func (inv *invocation) subscribe(types ...string) error {
	for _, t := range types {
		if err := inv.route(inv.topic, t); err != nil {
			return err
		}
	}
	return nil
}

func (inv *invocation) route(topicType, actorType string) error {
	id, err := inv.rt.AddSubscription(runtime.TypeSubscription{TopicType: topicType, AgentType: actorType})
	if err != nil {
		return err
	}
	inv.subs = append(inv.subs, id)
	return nil
}

func (inv *invocation) unsubscribe() {
	for _, id := range inv.subs {
		if err := inv.rt.RemoveSubscription(id); err != nil {
			log.Warnf("orchestration: remove subscription %s: %v", id, err)
		}
	}
}

// base holds what every orchestration kind shares.
type base[TIn, TOut any] struct {
	name        string
	description string
	members     []agent.Agent
	in          InputTransform[TIn]
	out         OutputTransform[TOut]
	callback    ResponseCallback
	pattern     pattern
}

func newBase[TIn, TOut any](kind string, members []agent.Agent, p pattern, opts []Option) (*base[TIn, TOut], error) {
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	o := &options{name: kind}
	for _, opt := range opts {
		opt(o)
	}
	b := &base[TIn, TOut]{
		name:        o.name,
		description: o.description,
		members:     members,
		in:          DefaultInputTransform[TIn],
		out:         DefaultOutputTransform[TOut],
		callback:    o.callback,
		pattern:     p,
	}
	if o.inputTransform != nil {
		in, ok := o.inputTransform.(InputTransform[TIn])
		if !ok {
			return nil, fmt.Errorf("%w: input transform %T", ErrUnsupportedType, o.inputTransform)
		}
		b.in = in
	}
	if o.outputTransform != nil {
		out, ok := o.outputTransform.(OutputTransform[TOut])
		if !ok {
			return nil, fmt.Errorf("%w: output transform %T", ErrUnsupportedType, o.outputTransform)
		}
		b.out = out
	}
	return b, nil
}

// Name returns the orchestration name.
func (b *base[TIn, TOut]) Name() string { return b.name }

// Description returns the orchestration description.
func (b *base[TIn, TOut]) Description() string { return b.description }

// Invoke starts the orchestration on rt, which must be started, and returns at once.
func (b *base[TIn, TOut]) Invoke(ctx context.Context, task TIn, rt *runtime.InProcessRuntime) (*Result[TOut], error) {
	msgs, err := b.in(ctx, task)
	if err != nil {
		return nil, err
	}
	ictx, cancel := context.WithCancel(ctx)
	res := newResult[TOut](cancel)
	inv := &invocation{
		rt:       rt,
		topic:    uuid.NewString(),
		members:  b.members,
		callback: b.callback,
	}
	inv.finish = func(out []*model.Message, err error) {
		var v TOut
		if err == nil {
			v, err = b.out(ictx, out)
		}
		if res.complete(v, err) {
			cancel()
		}
	}
	if err := b.pattern.prepare(inv); err != nil {
		inv.unsubscribe()
		cancel()
		return nil, err
	}

	go func() {
		sctx, span := trace.Tracer.Start(ictx, itelemetry.NewOrchestrationSpanName(b.name), oteltrace.WithAttributes(
			attribute.String(itelemetry.KeyOrchestration, b.name),
		))
		log.Debugf("orchestration %s: started on topic %s", b.name, inv.topic)
		if err := b.pattern.start(sctx, inv, msgs); err != nil {
			inv.finish(nil, err)
		}
		<-ictx.Done()
		var zero TOut
		res.complete(zero, ErrCancelled)
		inv.unsubscribe()
		_, err := res.Get(context.Background())
		itelemetry.EndSpan(span, err)
		log.Debugf("orchestration %s: finished on topic %s: %v", b.name, inv.topic, err)
	}()
	return res, nil
}
