//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package orchestration

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-kernel-go/agent"
	"trpc.group/trpc-go/trpc-kernel-go/agent/runtime"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// Sequential passes the task to the first agent and each answer to the next agent.
// The result is the answer of the last agent.
type Sequential[TIn, TOut any] struct {
	*base[TIn, TOut]
}

// NewSequential creates a sequential orchestration over members, in order.
func NewSequential[TIn, TOut any](members []agent.Agent, opts ...Option) (*Sequential[TIn, TOut], error) {
	b, err := newBase[TIn, TOut]("sequential", members, sequentialPattern{}, opts)
	if err != nil {
		return nil, err
	}
	return &Sequential[TIn, TOut]{base: b}, nil
}

type sequentialRequest struct {
	Messages []*model.Message
}

type sequentialPattern struct{}

// Each member listens on a topic of its own actor type.
func (sequentialPattern) prepare(inv *invocation) error {
	for i, a := range inv.members {
		actorType := inv.actorType(a.Name())
		next := ""
		if i+1 < len(inv.members) {
			next = inv.actorType(inv.members[i+1].Name())
		}
		err := inv.rt.RegisterFactory(actorType, func(context.Context, runtime.AgentID) (runtime.Actor, error) {
			return &sequentialActor{inv: inv, agent: a, next: next}, nil
		})
		if err != nil {
			return err
		}
		if err := inv.route(actorType, actorType); err != nil {
			return err
		}
	}
	return nil
}

func (sequentialPattern) start(ctx context.Context, inv *invocation, task []*model.Message) error {
	first := inv.actorType(inv.members[0].Name())
	return inv.rt.PublishMessage(ctx, &sequentialRequest{Messages: task}, runtime.TopicID{Type: first, Source: inv.topic}, nil)
}

type sequentialActor struct {
	inv   *invocation
	agent agent.Agent
	next  string
}

func (s *sequentialActor) OnMessage(ctx context.Context, msg any, mc runtime.MessageContext) (any, error) {
	req, ok := msg.(*sequentialRequest)
	if !ok {
		return nil, fmt.Errorf("sequential: unexpected message %T", msg)
	}
	log.Debugf("sequential: %s received %d message(s)", s.agent.Name(), len(req.Messages))
	res, err := s.agent.GetResponse(ctx, req.Messages)
	if err != nil {
		s.inv.finish(nil, fmt.Errorf("agent %s: %w", s.agent.Name(), err))
		return nil, err
	}
	s.inv.respond(ctx, res.Message)
	if s.next == "" {
		s.inv.finish([]*model.Message{res.Message}, nil)
		return nil, nil
	}
	return nil, s.inv.rt.PublishMessage(ctx, &sequentialRequest{Messages: []*model.Message{res.Message}},
		runtime.TopicID{Type: s.next, Source: mc.Topic.Source}, nil)
}
