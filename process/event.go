//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package process

import (
	"trpc.group/trpc-go/trpc-kernel-go/kernel"
)

// Visibility controls whether an event leaves the process that emitted it.
type Visibility int

const (
	// VisibilityInternal events are only routed inside their process.
	VisibilityInternal Visibility = iota
	// VisibilityPublic events are also reported to WithOnEvent and bubble up from a nested
	// process to its parent, where they are routed as events of the nested step.
	VisibilityPublic
)

// String implements fmt.Stringer.
func (v Visibility) String() string {
	if v == VisibilityPublic {
		return "public"
	}
	return "internal"
}

// Event is the unit routed between steps.
type Event struct {
	ID         string
	Data       any
	Visibility Visibility
	// SourceID is the step that emitted the event. It is empty for input events.
	SourceID string

	failure error
}

// Err returns the function error carried by an OnError event.
func (e *Event) Err() error { return e.failure }

// EmitOption configures StepContext.EmitEvent.
type EmitOption func(*Event)

// WithVisibility sets the visibility of an emitted event.
func WithVisibility(v Visibility) EmitOption {
	return func(e *Event) { e.Visibility = v }
}

// StepContext is handed to step functions. It is only valid during the call.
type StepContext struct {
	kernel *kernel.Kernel
	step   string
	state  map[string]any
	events []*Event
}

// StepName returns the name of the running step.
func (sc *StepContext) StepName() string { return sc.step }

// Kernel returns the kernel the process was started with.
func (sc *StepContext) Kernel() *kernel.Kernel { return sc.kernel }

// State returns the step state. It survives across invocations of the step's functions
// and is persisted by the state store, so values should be JSON friendly.
func (sc *StepContext) State() map[string]any { return sc.state }

// EmitEvent emits an event from the step. Emitted events are routed after the superstep,
// before the OnResult event of the function.
func (sc *StepContext) EmitEvent(id string, data any, opts ...EmitOption) {
	ev := &Event{ID: id, Data: data, SourceID: sc.step}
	for _, opt := range opts {
		opt(ev)
	}
	sc.events = append(sc.events, ev)
}
