//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/model"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	s, err := New(WithRedisClient(client), WithTTL(time.Minute))
	require.NoError(t, err)

	call := model.NewFunctionCall("call_1", "math-add", `{"a":1}`)
	require.NoError(t, s.Append(ctx, "t1",
		model.NewUserMessage("add"),
		&model.Message{Role: model.RoleAssistant, Items: []model.Item{call}},
		model.NewFunctionResultMessage(call, 2),
	))

	msgs, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "add", msgs[0].Content())
	require.Len(t, msgs[1].FunctionCalls(), 1)
	assert.Equal(t, "call_1", msgs[1].FunctionCalls()[0].ID)
	assert.Equal(t, model.RoleTool, msgs[2].Role)
	assert.True(t, mr.TTL(defaultKeyPrefix+"t1") > 0)

	require.NoError(t, s.Clear(ctx, "t1"))
	msgs, err = s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStoreLimitAndPrefix(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	s, err := New(WithRedisClient(client), WithLimit(2), WithKeyPrefix("p:"))
	require.NoError(t, err)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(ctx, "t", model.NewUserMessage(text)))
	}
	assert.True(t, mr.Exists("p:t"))
	msgs, err := s.Load(ctx, "t")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content())
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
	_, err = New(WithURL("::bad::"))
	assert.Error(t, err)
}
