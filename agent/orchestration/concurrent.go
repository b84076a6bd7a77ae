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
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// Concurrent sends the task to every agent in parallel and collects every answer, in
// arrival order.
type Concurrent[TIn, TOut any] struct {
	*base[TIn, TOut]
}

// NewConcurrent creates a concurrent orchestration.
func NewConcurrent[TIn, TOut any](members []agent.Agent, opts ...Option) (*Concurrent[TIn, TOut], error) {
	b, err := newBase[TIn, TOut]("concurrent", members, concurrentPattern{}, opts)
	if err != nil {
		return nil, err
	}
	return &Concurrent[TIn, TOut]{base: b}, nil
}

type concurrentRequest struct {
	Messages []*model.Message
}

type concurrentResponse struct {
	Message *model.Message
}

const collectorName = "collector"

type concurrentPattern struct{}

func (concurrentPattern) prepare(inv *invocation) error {
	collectorType := inv.actorType(collectorName)
	var types []string
	for _, a := range inv.members {
		actorType := inv.actorType(a.Name())
		types = append(types, actorType)
		err := inv.rt.RegisterFactory(actorType, func(context.Context, runtime.AgentID) (runtime.Actor, error) {
			return &concurrentActor{inv: inv, agent: a, collector: collectorType}, nil
		})
		if err != nil {
			return err
		}
	}
	err := inv.rt.RegisterFactory(collectorType, func(context.Context, runtime.AgentID) (runtime.Actor, error) {
		return &collectorActor{inv: inv, expected: len(inv.members)}, nil
	})
	if err != nil {
		return err
	}
	if err := inv.route(collectorType, collectorType); err != nil {
		return err
	}
	return inv.subscribe(types...)
}

func (concurrentPattern) start(ctx context.Context, inv *invocation, task []*model.Message) error {
	return inv.rt.PublishMessage(ctx, &concurrentRequest{Messages: task}, inv.topicID(), nil)
}

type concurrentActor struct {
	inv       *invocation
	agent     agent.Agent
	collector string
}

func (c *concurrentActor) OnMessage(ctx context.Context, msg any, mc runtime.MessageContext) (any, error) {
	req, ok := msg.(*concurrentRequest)
	if !ok {
		return nil, fmt.Errorf("concurrent: unexpected message %T", msg)
	}
	res, err := c.agent.GetResponse(ctx, req.Messages)
	if err != nil {
		c.inv.finish(nil, fmt.Errorf("agent %s: %w", c.agent.Name(), err))
		return nil, err
	}
	c.inv.respond(ctx, res.Message)
	return nil, c.inv.rt.PublishMessage(ctx, &concurrentResponse{Message: res.Message},
		runtime.TopicID{Type: c.collector, Source: mc.Topic.Source}, nil)
}

type collectorActor struct {
	inv      *invocation
	expected int
	results  []*model.Message
}

func (c *collectorActor) OnMessage(_ context.Context, msg any, _ runtime.MessageContext) (any, error) {
	resp, ok := msg.(*concurrentResponse)
	if !ok {
		return nil, fmt.Errorf("concurrent: unexpected message %T", msg)
	}
	c.results = append(c.results, resp.Message)
	if len(c.results) == c.expected {
		c.inv.finish(c.results, nil)
	}
	return nil, nil
}
