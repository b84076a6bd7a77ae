//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter counts messages without locking; the runtime serializes its calls.
type counter struct {
	n       int
	senders []string
}

func (c *counter) OnMessage(_ context.Context, msg any, mc MessageContext) (any, error) {
	c.n++
	if mc.Sender != nil {
		c.senders = append(c.senders, mc.Sender.String())
	}
	return c.n, nil
}

func newStarted(t *testing.T) *InProcessRuntime {
	t.Helper()
	r := NewInProcessRuntime()
	require.NoError(t, r.Start())
	t.Cleanup(func() { _ = r.Stop() })
	return r
}

func TestInProcessRuntime_SendMessage(t *testing.T) {
	r := newStarted(t)
	require.NoError(t, r.RegisterFactory("echo", func(_ context.Context, id AgentID) (Actor, error) {
		return ActorFunc(func(_ context.Context, msg any, mc MessageContext) (any, error) {
			assert.True(t, mc.IsRPC)
			assert.NotEmpty(t, mc.MessageID)
			return fmt.Sprintf("%s:%v", id.Key, msg), nil
		}), nil
	}))

	got, err := r.SendMessage(context.Background(), "ping", AgentID{Type: "echo", Key: "k1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "k1:ping", got)

	id, err := r.Get(context.Background(), "echo", "")
	require.NoError(t, err)
	assert.Equal(t, AgentID{Type: "echo", Key: DefaultKey}, id)
	assert.Equal(t, "echo/default", id.String())
}

func TestInProcessRuntime_Errors(t *testing.T) {
	r := NewInProcessRuntime()
	require.NoError(t, r.RegisterFactory("a", func(context.Context, AgentID) (Actor, error) {
		return ActorFunc(func(_ context.Context, msg any, _ MessageContext) (any, error) {
			switch msg {
			case "fail":
				return nil, errors.New("boom")
			case "panic":
				panic("kaboom")
			}
			return msg, nil
		}), nil
	}))
	assert.ErrorIs(t, r.RegisterFactory("a", nil), ErrDuplicateAgentType)

	ctx := context.Background()
	_, err := r.SendMessage(ctx, "x", AgentID{Type: "a", Key: "1"}, nil)
	assert.ErrorIs(t, err, ErrRuntimeStopped)

	require.NoError(t, r.Start())
	_, err = r.SendMessage(ctx, "x", AgentID{Type: "missing", Key: "1"}, nil)
	assert.ErrorIs(t, err, ErrUnknownAgentType)

	_, err = r.SendMessage(ctx, "fail", AgentID{Type: "a", Key: "1"}, nil)
	assert.EqualError(t, err, "boom")
	_, err = r.SendMessage(ctx, "panic", AgentID{Type: "a", Key: "1"}, nil)
	assert.ErrorContains(t, err, "kaboom")
	got, err := r.SendMessage(ctx, "still alive", AgentID{Type: "a", Key: "1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "still alive", got)

	_, err = r.AddSubscription(TypeSubscription{ID: "s", TopicType: "t", AgentType: "a"})
	require.NoError(t, err)
	_, err = r.AddSubscription(TypeSubscription{ID: "s", TopicType: "t", AgentType: "a"})
	assert.ErrorIs(t, err, ErrDuplicateSubscription)
	require.NoError(t, r.RemoveSubscription("s"))
	assert.ErrorIs(t, r.RemoveSubscription("s"), ErrSubscriptionNotFound)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	_, err = r.SendMessage(ctx, "x", AgentID{Type: "a", Key: "1"}, nil)
	assert.ErrorIs(t, err, ErrRuntimeStopped)
	assert.ErrorIs(t, r.PublishMessage(ctx, "x", TopicID{Type: "t", Source: "1"}, nil), ErrRuntimeStopped)
	assert.ErrorIs(t, r.Start(), ErrRuntimeStopped)
}

func TestInProcessRuntime_PublishExcludesSender(t *testing.T) {
	r := newStarted(t)
	for _, typ := range []string{"alice", "bob", "carol"} {
		require.NoError(t, r.RegisterFactory(typ, func(context.Context, AgentID) (Actor, error) {
			return &counter{}, nil
		}))
		_, err := r.AddSubscription(TypeSubscription{TopicType: "chat", AgentType: typ})
		require.NoError(t, err)
	}
	_, err := r.AddSubscription(TypeSubscription{TopicType: "other", AgentType: "carol"})
	require.NoError(t, err)

	ctx := context.Background()
	alice := AgentID{Type: "alice", Key: "room"}
	require.NoError(t, r.PublishMessage(ctx, "hello", TopicID{Type: "chat", Source: "room"}, &alice))
	require.NoError(t, r.StopWhenIdle(ctx))

	count := func(typ string) int {
		mb := r.actors[AgentID{Type: typ, Key: "room"}]
		if mb == nil {
			return 0
		}
		return mb.actor.(*counter).n
	}
	assert.Equal(t, 0, count("alice"))
	assert.Equal(t, 1, count("bob"))
	assert.Equal(t, 1, count("carol"))
	assert.Equal(t, []string{"alice/room"}, r.actors[AgentID{Type: "bob", Key: "room"}].actor.(*counter).senders)
}

func TestInProcessRuntime_SerializesHandlers(t *testing.T) {
	r := newStarted(t)
	require.NoError(t, r.RegisterFactory("counter", func(context.Context, AgentID) (Actor, error) {
		return &counter{}, nil
	}))
	_, err := r.AddSubscription(TypeSubscription{TopicType: "tick", AgentType: "counter"})
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.PublishMessage(ctx, "tick", TopicID{Type: "tick", Source: "one"}, nil))
		}()
	}
	wg.Wait()
	got, err := r.SendMessage(ctx, "tick", AgentID{Type: "counter", Key: "one"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 51, got)

	a, err := r.Actor(ctx, AgentID{Type: "counter", Key: "one"})
	require.NoError(t, err)
	require.NoError(t, r.StopWhenIdle(ctx))
	assert.Equal(t, 51, a.(*counter).n)
}

func TestInProcessRuntime_StopWhenIdleHonoursContext(t *testing.T) {
	r := newStarted(t)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, r.RegisterFactory("slow", func(context.Context, AgentID) (Actor, error) {
		return ActorFunc(func(context.Context, any, MessageContext) (any, error) {
			close(started)
			<-release
			return nil, nil
		}), nil
	}))
	_, err := r.AddSubscription(TypeSubscription{TopicType: "work", AgentType: "slow"})
	require.NoError(t, err)
	require.NoError(t, r.PublishMessage(context.Background(), "go", TopicID{Type: "work", Source: "x"}, nil))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.StopWhenIdle(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.StopWhenIdle(context.Background()))
}

func TestInProcessRuntime_SendHonoursContext(t *testing.T) {
	r := newStarted(t)
	block := make(chan struct{})
	defer close(block)
	require.NoError(t, r.RegisterFactory("stuck", func(context.Context, AgentID) (Actor, error) {
		return ActorFunc(func(context.Context, any, MessageContext) (any, error) {
			<-block
			return nil, nil
		}), nil
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.SendMessage(ctx, "x", AgentID{Type: "stuck", Key: "1"}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
