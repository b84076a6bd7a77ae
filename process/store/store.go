//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package store persists the state of local processes between supersteps.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Load for unknown process ids.
var ErrNotFound = errors.New("store: process state not found")

// Status of a process.
type Status string

// Process statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// State is a snapshot of a process.
type State struct {
	ProcessID string                    `json:"process_id"`
	Name      string                    `json:"name"`
	Superstep int                       `json:"superstep"`
	Status    Status                    `json:"status"`
	Error     string                    `json:"error,omitempty"`
	Steps     map[string]map[string]any `json:"steps"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Clone deep-copies the state through JSON, so step state must be JSON friendly.
func (s *State) Clone() (*State, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var cp State
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// StateStore saves process states.
type StateStore interface {
	Save(ctx context.Context, s *State) error
	// Load returns ErrNotFound when nothing was saved for processID.
	Load(ctx context.Context, processID string) (*State, error)
	Delete(ctx context.Context, processID string) error
	Close() error
}
