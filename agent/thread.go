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
	"errors"
	"sync"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-kernel-go/agent/history"
	"trpc.group/trpc-go/trpc-kernel-go/agent/history/inmemory"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// ErrThreadDeleted is returned when using a deleted thread.
var ErrThreadDeleted = errors.New("agent: thread deleted")

// Thread is a conversation an agent takes part in.
type Thread interface {
	// ID is empty until the thread is created.
	ID() string
	// Create starts the thread if needed and returns its id.
	Create(ctx context.Context) (string, error)
	// Delete ends the thread. Deleted threads reject every other call.
	Delete(ctx context.Context) error
	// OnNewMessage records a message, creating the thread on first use.
	OnNewMessage(ctx context.Context, msg *model.Message) error
	// Messages returns the recorded messages in order.
	Messages(ctx context.Context) ([]*model.Message, error)
}

// ChatHistoryThread keeps its messages in a history.Store.
type ChatHistoryThread struct {
	mu      sync.Mutex
	id      string
	store   history.Store
	created bool
	deleted bool
}

var _ Thread = (*ChatHistoryThread)(nil)

// ThreadOption configures a ChatHistoryThread.
type ThreadOption func(*ChatHistoryThread)

// WithThreadID fixes the id, for example to resume a stored thread.
func WithThreadID(id string) ThreadOption {
	return func(t *ChatHistoryThread) { t.id = id }
}

// WithStore sets where messages live. The default is a private in-memory store.
func WithStore(s history.Store) ThreadOption {
	return func(t *ChatHistoryThread) { t.store = s }
}

// NewChatHistoryThread creates a thread. Seed messages are recorded on creation.
func NewChatHistoryThread(opts ...ThreadOption) *ChatHistoryThread {
	t := &ChatHistoryThread{}
	for _, opt := range opts {
		opt(t)
	}
	if t.store == nil {
		t.store = inmemory.New()
	}
	return t
}

// ID implements Thread.
func (t *ChatHistoryThread) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Create implements Thread.
func (t *ChatHistoryThread) Create(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createLocked()
}

func (t *ChatHistoryThread) createLocked() (string, error) {
	if t.deleted {
		return "", ErrThreadDeleted
	}
	if t.id == "" {
		t.id = uuid.NewString()
	}
	t.created = true
	return t.id, nil
}

// Delete implements Thread.
func (t *ChatHistoryThread) Delete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deleted {
		return ErrThreadDeleted
	}
	t.deleted = true
	if !t.created {
		return nil
	}
	return t.store.Clear(ctx, t.id)
}

// OnNewMessage implements Thread.
func (t *ChatHistoryThread) OnNewMessage(ctx context.Context, msg *model.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, err := t.createLocked()
	if err != nil {
		return err
	}
	return t.store.Append(ctx, id, msg)
}

// Messages implements Thread.
func (t *ChatHistoryThread) Messages(ctx context.Context) ([]*model.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deleted {
		return nil, ErrThreadDeleted
	}
	if !t.created {
		return nil, nil
	}
	return t.store.Load(ctx, t.id)
}
