//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package runtime is an in-process actor runtime. Actors are created lazily from
// factories registered per type, each actor instance owns a mailbox drained by one
// goroutine, and messages are either sent directly (request/response) or published to
// topics that subscriptions map onto actor types.
package runtime

import (
	"context"
	"errors"
)

var (
	// ErrRuntimeStopped is returned for messages sent to a runtime that is not running.
	ErrRuntimeStopped = errors.New("runtime: not running")
	// ErrDuplicateAgentType is returned when a factory is registered twice for a type.
	ErrDuplicateAgentType = errors.New("runtime: agent type already registered")
	// ErrUnknownAgentType is returned when no factory serves a type.
	ErrUnknownAgentType = errors.New("runtime: unknown agent type")
	// ErrDuplicateSubscription is returned when a subscription id is added twice.
	ErrDuplicateSubscription = errors.New("runtime: subscription already exists")
	// ErrSubscriptionNotFound is returned when removing an unknown subscription.
	ErrSubscriptionNotFound = errors.New("runtime: subscription not found")
)

// AgentID names one actor instance.
type AgentID struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// String returns "type/key".
func (id AgentID) String() string { return id.Type + "/" + id.Key }

// DefaultKey is the key used when an actor is addressed by type only.
const DefaultKey = "default"

// TopicID names a topic. Source becomes the key of the receiving actors.
type TopicID struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// String returns "type/source".
func (t TopicID) String() string { return t.Type + "/" + t.Source }

// TypeSubscription delivers messages published on topics of TopicType to actors of
// AgentType, keyed by the topic source.
type TypeSubscription struct {
	ID        string
	TopicType string
	AgentType string
}

func (s TypeSubscription) matches(topic TopicID) bool {
	return s.TopicType == topic.Type
}

func (s TypeSubscription) recipient(topic TopicID) AgentID {
	return AgentID{Type: s.AgentType, Key: topic.Source}
}

// MessageContext describes how a message reached an actor.
type MessageContext struct {
	// Sender is nil for messages from outside the runtime.
	Sender *AgentID
	// Topic is set for published messages.
	Topic     *TopicID
	IsRPC     bool
	MessageID string
}

// Actor handles the messages delivered to one actor instance. Calls for the same
// instance never overlap, so a handler must not SendMessage to its own instance.
type Actor interface {
	// OnMessage handles msg. The returned value answers SendMessage and is dropped for
	// published messages.
	OnMessage(ctx context.Context, msg any, mc MessageContext) (any, error)
}

// ActorFunc adapts a function to Actor.
type ActorFunc func(ctx context.Context, msg any, mc MessageContext) (any, error)

// OnMessage implements Actor.
func (f ActorFunc) OnMessage(ctx context.Context, msg any, mc MessageContext) (any, error) {
	return f(ctx, msg, mc)
}

// Factory creates the actor for id. It runs while the runtime is locked and must not
// call back into the runtime.
type Factory func(ctx context.Context, id AgentID) (Actor, error)

// Runtime delivers messages between actors.
type Runtime interface {
	SendMessage(ctx context.Context, msg any, recipient AgentID, sender *AgentID) (any, error)
	PublishMessage(ctx context.Context, msg any, topic TopicID, sender *AgentID) error
}
