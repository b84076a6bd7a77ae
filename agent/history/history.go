//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package history defines where agent threads keep their messages.
package history

import (
	"context"

	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// Store persists the messages of agent threads.
type Store interface {
	// Load returns the messages of a thread in append order. Unknown threads are empty.
	Load(ctx context.Context, threadID string) ([]*model.Message, error)
	// Append adds messages to the end of a thread.
	Append(ctx context.Context, threadID string, msgs ...*model.Message) error
	// Clear removes a thread.
	Clear(ctx context.Context, threadID string) error
}
