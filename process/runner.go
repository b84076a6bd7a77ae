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
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	itelemetry "trpc.group/trpc-go/trpc-kernel-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-kernel-go/kernel"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/telemetry/trace"
)

// message is an event on its way to one step.
type message struct {
	target  string
	fn      string
	param   string
	eventID string
	data    any
}

type call struct {
	fn   *StepFunction
	args function.Arguments
}

// stepWork is what one step executes in a superstep.
type stepWork struct {
	step   *step
	calls  []*call
	inputs []*Event
}

// eventSource feeds external events into a run. With wait set and nothing queued it may
// block until an event arrives; an empty result ends the run.
type eventSource interface {
	events(ctx context.Context, wait bool) ([]*Event, error)
}

// runner executes one process definition. Nested processes get their own runner, which
// keeps its step state across deliveries.
type runner struct {
	proc      *Process
	kernel    *kernel.Kernel
	pool      *ants.Pool
	processID string
	maxSteps  int

	states   map[string]map[string]any
	pending  map[string]map[string]*pendingCall
	children map[string]*runner

	superstep int
	onPublic  func(*Event)
	afterStep func(ctx context.Context)
}

func newRunner(p *Process, k *kernel.Kernel, o *options, processID string) (*runner, error) {
	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create step worker pool: %w", err)
	}
	r := &runner{
		proc:      p,
		kernel:    k,
		pool:      pool,
		processID: processID,
		maxSteps:  o.maxSupersteps,
		states:    make(map[string]map[string]any, len(p.steps)),
		pending:   make(map[string]map[string]*pendingCall, len(p.steps)),
		children:  map[string]*runner{},
	}
	for _, s := range p.steps {
		if s.sub != nil {
			child, err := newRunner(s.sub, k, o, processID)
			if err != nil {
				r.release()
				return nil, err
			}
			r.children[s.name] = child
			continue
		}
		r.states[s.name] = map[string]any{}
		r.pending[s.name] = map[string]*pendingCall{}
	}
	return r, nil
}

func (r *runner) release() {
	r.pool.Release()
	for _, c := range r.children {
		c.release()
	}
}

// run executes supersteps until no message is left, a stop edge fires, the context ends
// or the superstep limit is hit.
func (r *runner) run(ctx context.Context, msgs []*message, src eventSource) error {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if src != nil {
			evs, err := src.events(ctx, len(msgs) == 0)
			if err != nil {
				return err
			}
			for _, ev := range evs {
				m, stop, err := r.routeInput(ev)
				if err != nil {
					log.Warnf("process %s: dropping external event: %v", r.proc.name, err)
					continue
				}
				if stop {
					return nil
				}
				msgs = append(msgs, m...)
			}
		}
		if len(msgs) == 0 {
			return nil
		}
		if steps >= r.maxSteps {
			return fmt.Errorf("%w: %d", ErrMaxSupersteps, r.maxSteps)
		}
		steps++
		var (
			stop bool
			err  error
		)
		msgs, stop, err = r.step(ctx, msgs)
		if err != nil {
			return err
		}
		if r.afterStep != nil {
			r.afterStep(ctx)
		}
		if stop {
			return nil
		}
	}
}

func (r *runner) step(ctx context.Context, msgs []*message) ([]*message, bool, error) {
	r.superstep++
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameSuperstep, oteltrace.WithAttributes(
		attribute.String(itelemetry.KeyProcessID, r.processID),
		attribute.Int(itelemetry.KeySuperstep, r.superstep),
	))
	log.Debugf("process %s: superstep %d delivers %d messages", r.proc.name, r.superstep, len(msgs))
	next, stop, err := r.execute(ctx, msgs)
	itelemetry.EndSpan(span, err)
	return next, stop, err
}

func (r *runner) execute(ctx context.Context, msgs []*message) ([]*message, bool, error) {
	work := r.deliver(msgs)
	outs := make([][]*Event, len(work))
	errs := make([]error, len(work))
	var wg sync.WaitGroup
	for i, w := range work {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outs[i], errs[i] = r.runStep(ctx, w)
		}
		if err := r.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("failed to submit step %s: %w", w.step.name, err)
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, false, err
	}

	var (
		next []*message
		stop bool
	)
	for _, evs := range outs {
		for _, ev := range evs {
			m, s, err := r.route(ev)
			if err != nil {
				return nil, false, err
			}
			stop = stop || s
			next = append(next, m...)
		}
	}
	return next, stop, nil
}

// deliver assigns messages to pending calls and collects the work that became ready,
// ordered by step declaration.
func (r *runner) deliver(msgs []*message) []*stepWork {
	nested := map[string]*stepWork{}
	touched := map[string]bool{}
	for _, m := range msgs {
		s := r.proc.byName[m.target]
		if s.sub != nil {
			w, ok := nested[s.name]
			if !ok {
				w = &stepWork{step: s}
				nested[s.name] = w
			}
			w.inputs = append(w.inputs, &Event{ID: m.eventID, Data: m.data})
			continue
		}
		pc := r.pending[s.name][m.fn]
		if pc == nil {
			pc = &pendingCall{args: function.Arguments{}}
			r.pending[s.name][m.fn] = pc
		}
		pc.triggered = true
		if m.param != "" {
			pc.args[m.param] = m.data
		}
		touched[s.name] = true
	}

	var work []*stepWork
	for _, s := range r.proc.steps {
		if s.sub != nil {
			if w, ok := nested[s.name]; ok {
				work = append(work, w)
			}
			continue
		}
		if !touched[s.name] {
			continue
		}
		w := &stepWork{step: s}
		for _, fn := range s.functions {
			pc := r.pending[s.name][fn.name]
			if !fn.ready(pc) {
				continue
			}
			delete(r.pending[s.name], fn.name)
			w.calls = append(w.calls, &call{fn: fn, args: pc.args})
		}
		if len(w.calls) > 0 {
			work = append(work, w)
		}
	}
	return work
}

// runStep runs the ready functions of one step in order. Steps run in parallel, the
// functions of one step never do.
func (r *runner) runStep(ctx context.Context, w *stepWork) ([]*Event, error) {
	if w.step.sub != nil {
		return r.runNested(ctx, w)
	}
	var evs []*Event
	for _, c := range w.calls {
		sc := &StepContext{kernel: r.kernel, step: w.step.name, state: r.states[w.step.name]}
		v, err := invokeStep(ctx, c.fn, sc, c.args)
		evs = append(evs, sc.events...)
		if err != nil {
			log.Debugf("process %s: step %s function %s failed: %v", r.proc.name, w.step.name, c.fn.name, err)
			evs = append(evs, &Event{ID: c.fn.name + SuffixOnError, Data: err, SourceID: w.step.name, failure: err})
			continue
		}
		evs = append(evs, &Event{ID: c.fn.name + SuffixOnResult, Data: v, SourceID: w.step.name})
	}
	return evs, nil
}

func invokeStep(ctx context.Context, fn *StepFunction, sc *StepContext, args function.Arguments) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("step %s function %s panicked: %v\n%s", sc.step, fn.name, rec, debug.Stack())
			err = fmt.Errorf("step %s function %s panicked: %v", sc.step, fn.name, rec)
		}
	}()
	return fn.fn(ctx, sc, args)
}

func (r *runner) runNested(ctx context.Context, w *stepWork) ([]*Event, error) {
	child := r.children[w.step.name]
	var out []*Event
	child.onPublic = func(ev *Event) {
		out = append(out, &Event{
			ID:         ev.ID,
			Data:       ev.Data,
			Visibility: ev.Visibility,
			SourceID:   w.step.name,
		})
	}
	var msgs []*message
	for _, ev := range w.inputs {
		m, stop, err := child.routeInput(ev)
		if err != nil {
			return nil, err
		}
		if stop {
			return out, nil
		}
		msgs = append(msgs, m...)
	}
	if err := child.run(ctx, msgs, nil); err != nil {
		return nil, fmt.Errorf("nested process %s: %w", w.step.name, err)
	}
	return out, nil
}

func (r *runner) routeInput(ev *Event) ([]*message, bool, error) {
	edges, ok := r.proc.inputs[ev.ID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s has no input event %s", ErrUnknownEvent, r.proc.name, ev.ID)
	}
	msgs, stop := follow(edges, ev)
	return msgs, stop, nil
}

// route sends a step event along its edges. An error event nobody handles fails the run.
func (r *runner) route(ev *Event) ([]*message, bool, error) {
	edges := r.proc.byName[ev.SourceID].edges[ev.ID]
	if ev.failure != nil && len(edges) == 0 {
		return nil, false, fmt.Errorf("process %s step %s: %w", r.proc.name, ev.SourceID, ev.failure)
	}
	if ev.Visibility == VisibilityPublic && r.onPublic != nil {
		r.onPublic(ev)
	}
	msgs, stop := follow(edges, ev)
	return msgs, stop, nil
}

func follow(edges []*edge, ev *Event) ([]*message, bool) {
	var (
		msgs []*message
		stop bool
	)
	for _, e := range edges {
		if e.stop {
			stop = true
			continue
		}
		msgs = append(msgs, &message{
			target:  e.target,
			fn:      e.fn,
			param:   e.param,
			eventID: e.eventID,
			data:    ev.Data,
		})
	}
	return msgs, stop
}

// snapshot writes step states into out, nested steps as "<step>/<child step>".
func (r *runner) snapshot(prefix string, out map[string]map[string]any) {
	for _, s := range r.proc.steps {
		if child, ok := r.children[s.name]; ok {
			child.snapshot(prefix+s.name+"/", out)
			continue
		}
		out[prefix+s.name] = r.states[s.name]
	}
}

func (r *runner) restore(prefix string, in map[string]map[string]any) {
	for _, s := range r.proc.steps {
		if child, ok := r.children[s.name]; ok {
			child.restore(prefix+s.name+"/", in)
			continue
		}
		if st, ok := in[prefix+s.name]; ok && st != nil {
			r.states[s.name] = st
		}
	}
}
