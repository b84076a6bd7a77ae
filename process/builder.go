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
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-kernel-go/function"
)

// ErrInvalidProcess is returned by Build for inconsistent process definitions.
var ErrInvalidProcess = errors.New("process: invalid process")

// Process is an immutable process definition produced by Builder.Build.
type Process struct {
	name       string
	steps      []*step
	byName     map[string]*step
	inputs     map[string][]*edge
	inputOrder []string
}

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Steps returns the step names in declaration order.
func (p *Process) Steps() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.name
	}
	return out
}

// InputEvents returns the ids accepted by OnInputEvent edges.
func (p *Process) InputEvents() []string { return append([]string(nil), p.inputOrder...) }

type step struct {
	name      string
	functions []*StepFunction
	byName    map[string]*StepFunction
	sub       *Process
	edges     map[string][]*edge
}

// edge is a resolved route: either a stop or a delivery to target.
type edge struct {
	stop    bool
	target  string
	fn      string
	param   string
	eventID string
}

// Builder assembles a Process.
type Builder struct {
	name   string
	steps  []*StepBuilder
	inputs []*EdgeBuilder
}

// NewBuilder creates a builder for a process called name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AddStep adds a step running fns.
func (b *Builder) AddStep(name string, fns ...*StepFunction) *StepBuilder {
	s := &StepBuilder{b: b, name: name, functions: fns}
	b.steps = append(b.steps, s)
	return s
}

// AddProcess adds sub as a nested step named after it. Events sent to the step enter sub
// as input events, and public events of sub are emitted by the step.
func (b *Builder) AddProcess(sub *Process) *StepBuilder {
	s := &StepBuilder{b: b, sub: sub}
	if sub == nil {
		s.err = errors.New("nil nested process")
	} else {
		s.name = sub.name
	}
	b.steps = append(b.steps, s)
	return s
}

// OnInputEvent routes an input event of the process.
func (b *Builder) OnInputEvent(id string) *EdgeBuilder {
	e := &EdgeBuilder{b: b, eventID: id}
	b.inputs = append(b.inputs, e)
	return e
}

// StepBuilder declares a step and its outgoing edges.
type StepBuilder struct {
	b         *Builder
	name      string
	functions []*StepFunction
	sub       *Process
	edges     []*EdgeBuilder
	err       error
}

// Name returns the step name.
func (s *StepBuilder) Name() string { return s.name }

// OnEvent routes events emitted by the step with id.
func (s *StepBuilder) OnEvent(id string) *EdgeBuilder {
	e := &EdgeBuilder{b: s.b, source: s, eventID: id}
	s.edges = append(s.edges, e)
	return e
}

// OnFunctionResult routes the results of fn. fn may be empty for single function steps.
func (s *StepBuilder) OnFunctionResult(fn string) *EdgeBuilder {
	return s.OnEvent(s.functionName(fn) + SuffixOnResult)
}

// OnFunctionError routes the errors of fn. An error without such an edge fails the process.
func (s *StepBuilder) OnFunctionError(fn string) *EdgeBuilder {
	return s.OnEvent(s.functionName(fn) + SuffixOnError)
}

func (s *StepBuilder) functionName(fn string) string {
	if fn != "" {
		for _, f := range s.functions {
			if f.name == fn {
				return fn
			}
		}
		s.err = errors.Join(s.err, fmt.Errorf("step %s has no function %s", s.name, fn))
		return fn
	}
	if len(s.functions) != 1 {
		s.err = errors.Join(s.err, fmt.Errorf("step %s needs a function name", s.name))
		return fn
	}
	return s.functions[0].name
}

// EdgeBuilder declares where an event goes. Calls can be chained to fan out.
type EdgeBuilder struct {
	b       *Builder
	source  *StepBuilder
	eventID string
	targets []*edgeTarget
}

type edgeTarget struct {
	step *StepBuilder
	stop bool
	opts targetOptions
}

type targetOptions struct {
	function string
	param    string
	eventID  string
}

// TargetOption configures SendEventTo.
type TargetOption func(*targetOptions)

// WithFunction selects the target function. It may be omitted for single function steps.
func WithFunction(name string) TargetOption {
	return func(o *targetOptions) { o.function = name }
}

// WithParameter binds the event data to a parameter. It may be omitted when the target
// function declares at most one parameter.
func WithParameter(name string) TargetOption {
	return func(o *targetOptions) { o.param = name }
}

// WithEventID sets the input event id used when the target is a nested process. The
// source event id is used by default.
func WithEventID(id string) TargetOption {
	return func(o *targetOptions) { o.eventID = id }
}

// SendEventTo delivers the event data to target.
func (e *EdgeBuilder) SendEventTo(target *StepBuilder, opts ...TargetOption) *EdgeBuilder {
	t := &edgeTarget{step: target}
	for _, opt := range opts {
		opt(&t.opts)
	}
	e.targets = append(e.targets, t)
	return e
}

// StopProcess completes the process when the event is routed.
func (e *EdgeBuilder) StopProcess() *EdgeBuilder {
	e.targets = append(e.targets, &edgeTarget{stop: true})
	return e
}

// Build validates the definition and returns the process.
func (b *Builder) Build() (*Process, error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if err := function.ValidateName(b.name); err != nil {
		fail("process name: %v", err)
	}
	p := &Process{
		name:   b.name,
		byName: make(map[string]*step, len(b.steps)),
		inputs: map[string][]*edge{},
	}
	for _, sb := range b.steps {
		if sb.err != nil {
			errs = append(errs, sb.err)
		}
		if err := function.ValidateName(sb.name); err != nil {
			fail("step name: %v", err)
			continue
		}
		if _, dup := p.byName[sb.name]; dup {
			fail("duplicate step %s", sb.name)
			continue
		}
		s := &step{name: sb.name, sub: sb.sub, edges: map[string][]*edge{}}
		if sb.sub == nil {
			if len(sb.functions) == 0 {
				fail("step %s has no functions", sb.name)
			}
			s.byName = make(map[string]*StepFunction, len(sb.functions))
			for _, f := range sb.functions {
				if f == nil {
					fail("step %s has a nil function", sb.name)
					continue
				}
				if err := function.ValidateName(f.name); err != nil {
					fail("step %s: %v", sb.name, err)
					continue
				}
				if _, dup := s.byName[f.name]; dup {
					fail("step %s: duplicate function %s", sb.name, f.name)
					continue
				}
				s.byName[f.name] = f
				s.functions = append(s.functions, f)
			}
		}
		p.byName[s.name] = s
		p.steps = append(p.steps, s)
	}
	for _, sb := range b.steps {
		s, ok := p.byName[sb.name]
		if !ok {
			continue
		}
		for _, eb := range sb.edges {
			edges, err := b.resolve(p, eb)
			if err != nil {
				errs = append(errs, fmt.Errorf("step %s event %s: %w", sb.name, eb.eventID, err))
				continue
			}
			s.edges[eb.eventID] = append(s.edges[eb.eventID], edges...)
		}
	}
	for _, eb := range b.inputs {
		edges, err := b.resolve(p, eb)
		if err != nil {
			errs = append(errs, fmt.Errorf("input event %s: %w", eb.eventID, err))
			continue
		}
		if _, seen := p.inputs[eb.eventID]; !seen {
			p.inputOrder = append(p.inputOrder, eb.eventID)
		}
		p.inputs[eb.eventID] = append(p.inputs[eb.eventID], edges...)
	}
	if len(p.inputs) == 0 {
		fail("no input events")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidProcess, b.name, errors.Join(errs...))
	}
	return p, nil
}

func (b *Builder) resolve(p *Process, eb *EdgeBuilder) ([]*edge, error) {
	if eb.eventID == "" {
		return nil, errors.New("empty event id")
	}
	if len(eb.targets) == 0 {
		return nil, errors.New("edge has no target")
	}
	out := make([]*edge, 0, len(eb.targets))
	for _, t := range eb.targets {
		if t.stop {
			out = append(out, &edge{stop: true})
			continue
		}
		if t.step == nil || t.step.b != b {
			return nil, errors.New("target step does not belong to the process")
		}
		target, ok := p.byName[t.step.name]
		if !ok {
			return nil, fmt.Errorf("unknown target step %s", t.step.name)
		}
		e := &edge{target: target.name}
		if target.sub != nil {
			if t.opts.function != "" || t.opts.param != "" {
				return nil, fmt.Errorf("nested process %s takes no function or parameter", target.name)
			}
			e.eventID = t.opts.eventID
			if e.eventID == "" {
				e.eventID = eb.eventID
			}
			if _, ok := target.sub.inputs[e.eventID]; !ok {
				return nil, fmt.Errorf("nested process %s has no input event %s", target.name, e.eventID)
			}
			out = append(out, e)
			continue
		}
		fn, err := targetFunction(target, t.opts.function)
		if err != nil {
			return nil, err
		}
		e.fn = fn.name
		switch {
		case t.opts.param != "":
			if !fn.hasParam(t.opts.param) {
				return nil, fmt.Errorf("function %s.%s has no parameter %s", target.name, fn.name, t.opts.param)
			}
			e.param = t.opts.param
		case len(fn.params) == 1:
			e.param = fn.params[0]
		case len(fn.params) > 1:
			return nil, fmt.Errorf("function %s.%s needs a parameter name", target.name, fn.name)
		}
		out = append(out, e)
	}
	return out, nil
}

func targetFunction(s *step, name string) (*StepFunction, error) {
	if name == "" {
		if len(s.functions) != 1 {
			return nil, fmt.Errorf("step %s needs a function name", s.name)
		}
		return s.functions[0], nil
	}
	fn, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("step %s has no function %s", s.name, name)
	}
	return fn, nil
}
