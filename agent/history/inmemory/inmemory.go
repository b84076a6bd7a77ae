//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a process-local history.Store.
package inmemory

import (
	"context"
	"sync"

	"trpc.group/trpc-go/trpc-kernel-go/agent/history"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

var _ history.Store = (*Store)(nil)

// Store keeps cloned messages per thread.
type Store struct {
	mu      sync.RWMutex
	threads map[string][]*model.Message
	limit   int
}

// Option configures the store.
type Option func(*Store)

// WithLimit keeps only the last n messages of each thread. 0 keeps everything.
func WithLimit(n int) Option {
	return func(s *Store) { s.limit = n }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{threads: map[string][]*model.Message{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load implements history.Store.
func (s *Store) Load(ctx context.Context, threadID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.threads[threadID]
	out := make([]*model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out, nil
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, threadID string, msgs ...*model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread := s.threads[threadID]
	for _, m := range msgs {
		thread = append(thread, m.Clone())
	}
	if s.limit > 0 && len(thread) > s.limit {
		thread = append([]*model.Message(nil), thread[len(thread)-s.limit:]...)
	}
	s.threads[threadID] = thread
	return nil
}

// Clear implements history.Store.
func (s *Store) Clear(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}
