//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps states in a map. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	states map[string]*State
}

var _ StateStore = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{states: map[string]*State{}}
}

// Save implements StateStore.
func (m *Memory) Save(_ context.Context, s *State) error {
	cp, err := s.Clone()
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	m.mu.Lock()
	m.states[s.ProcessID] = cp
	m.mu.Unlock()
	return nil
}

// Load implements StateStore.
func (m *Memory) Load(_ context.Context, processID string) (*State, error) {
	m.mu.RLock()
	s, ok := m.states[processID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, processID)
	}
	return s.Clone()
}

// Delete implements StateStore.
func (m *Memory) Delete(_ context.Context, processID string) error {
	m.mu.Lock()
	delete(m.states, processID)
	m.mu.Unlock()
	return nil
}

// Close implements StateStore.
func (m *Memory) Close() error { return nil }
