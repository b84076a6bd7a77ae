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
	"sync"
)

// Result is the pending outcome of an orchestration invocation.
type Result[T any] struct {
	once   sync.Once
	done   chan struct{}
	value  T
	err    error
	cancel context.CancelFunc
}

func newResult[T any](cancel context.CancelFunc) *Result[T] {
	return &Result[T]{done: make(chan struct{}), cancel: cancel}
}

// complete sets the outcome. Later calls are ignored.
func (r *Result[T]) complete(v T, err error) bool {
	set := false
	r.once.Do(func() {
		r.value, r.err = v, err
		set = true
		close(r.done)
	})
	return set
}

// Get waits for the outcome or for ctx.
func (r *Result[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel stops the invocation. A pending Get returns ErrCancelled.
func (r *Result[T]) Cancel() {
	var zero T
	r.complete(zero, ErrCancelled)
	r.cancel()
}

// Done is closed once the outcome is known.
func (r *Result[T]) Done() <-chan struct{} { return r.done }
