//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/model"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	msgs, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	user := model.NewUserMessage("hi")
	require.NoError(t, s.Append(ctx, "t1", user, model.NewAssistantMessage("hello")))
	user.Items = nil

	msgs, err = s.Load(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content())
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)

	require.NoError(t, s.Clear(ctx, "t1"))
	msgs, err = s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStoreLimit(t *testing.T) {
	ctx := context.Background()
	s := New(WithLimit(2))
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(ctx, "t", model.NewUserMessage(text)))
	}
	msgs, err := s.Load(ctx, "t")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content())
	assert.Equal(t, "c", msgs[1].Content())
}
