//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package process runs event driven step graphs in the local process.
//
// A process is a set of steps linked by edges. Steps run functions, functions emit events,
// and edges route event data to the parameters of other step functions. Execution
// advances in supersteps: every message produced by the previous superstep is delivered,
// then all steps with a ready function run in parallel.
package process

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-kernel-go/kernel"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/process/store"
)

// DefaultMaxSupersteps bounds a run when WithMaxSupersteps is not given.
const DefaultMaxSupersteps = 100

var (
	// ErrMaxSupersteps is returned when a run exceeds its superstep budget.
	ErrMaxSupersteps = errors.New("process: max supersteps exceeded")
	// ErrProcessFinished is returned by SendEvent once the process has ended.
	ErrProcessFinished = errors.New("process: process finished")
	// ErrUnknownEvent is returned for input events without an OnInputEvent edge.
	ErrUnknownEvent = errors.New("process: unknown input event")
)

type options struct {
	maxSupersteps int
	store         store.StateStore
	poolSize      int
	processID     string
	keepAlive     bool
	onEvent       func(*Event)
}

// Option configures Start.
type Option func(*options)

// WithMaxSupersteps bounds the number of supersteps of the run.
func WithMaxSupersteps(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSupersteps = n
		}
	}
}

// WithStateStore saves the process state after every superstep and when the run ends.
func WithStateStore(s store.StateStore) Option {
	return func(o *options) { o.store = s }
}

// WithPoolSize sets how many steps run concurrently. It defaults to the number of CPUs.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithProcessID sets the process id. With a state store, the step states saved under
// that id are restored before the initial event is delivered.
func WithProcessID(id string) Option {
	return func(o *options) { o.processID = id }
}

// WithKeepAlive keeps the process waiting for SendEvent once it runs out of messages.
// It then ends through a stop edge, Stop or the context.
func WithKeepAlive(keepAlive bool) Option {
	return func(o *options) { o.keepAlive = keepAlive }
}

// WithOnEvent observes public events. It is called from the process goroutine.
func WithOnEvent(fn func(*Event)) Option {
	return func(o *options) { o.onEvent = fn }
}

// LocalProcess is a running process.
type LocalProcess struct {
	id     string
	proc   *Process
	r      *runner
	opts   *options
	cancel context.CancelFunc
	done   chan struct{}
	notify chan struct{}

	mu       sync.Mutex
	queue    []*Event
	closed   bool
	stopped  bool
	status   store.Status
	err      error
	snapshot *store.State
}

// Start runs p in the background, delivering initial first. A nil kernel is replaced by
// an empty one. The run ends with ctx.
func Start(
	ctx context.Context,
	k *kernel.Kernel,
	p *Process,
	initial *Event,
	opts ...Option,
) (*LocalProcess, error) {
	if p == nil {
		return nil, errors.New("process: nil process")
	}
	if initial == nil {
		return nil, errors.New("process: nil initial event")
	}
	o := &options{maxSupersteps: DefaultMaxSupersteps, poolSize: runtime.NumCPU()}
	for _, opt := range opts {
		opt(o)
	}
	if k == nil {
		var err error
		if k, err = kernel.New(); err != nil {
			return nil, err
		}
	}
	id := o.processID
	if id == "" {
		id = uuid.NewString()
	}
	r, err := newRunner(p, k, o, id)
	if err != nil {
		return nil, err
	}
	if o.store != nil && o.processID != "" {
		st, err := o.store.Load(ctx, id)
		switch {
		case err == nil:
			r.restore("", st.Steps)
			r.superstep = st.Superstep
			log.Infof("process %s: resuming %s at superstep %d", p.name, id, st.Superstep)
		case errors.Is(err, store.ErrNotFound):
		default:
			r.release()
			return nil, fmt.Errorf("process: load state %s: %w", id, err)
		}
	}
	msgs, stop, err := r.routeInput(initial)
	if err != nil {
		r.release()
		return nil, err
	}

	lp := &LocalProcess{
		id:     id,
		proc:   p,
		r:      r,
		opts:   o,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
		status: store.StatusRunning,
	}
	r.onPublic = o.onEvent
	r.afterStep = lp.save
	if lp.snapshot, err = lp.buildState().Clone(); err != nil {
		r.release()
		return nil, fmt.Errorf("process: restored state is not serializable: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	lp.cancel = cancel
	go lp.loop(runCtx, msgs, stop)
	return lp, nil
}

func (lp *LocalProcess) loop(ctx context.Context, msgs []*message, stop bool) {
	defer close(lp.done)
	defer lp.r.release()
	defer lp.cancel()
	var err error
	if !stop {
		err = lp.r.run(ctx, msgs, lp)
	}
	lp.finish(ctx, err)
}

func (lp *LocalProcess) finish(ctx context.Context, err error) {
	lp.mu.Lock()
	lp.closed = true
	switch {
	case lp.stopped:
		lp.status = store.StatusStopped
		err = nil
	case err == nil:
		lp.status = store.StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		lp.status = store.StatusStopped
	default:
		lp.status = store.StatusFailed
	}
	lp.err = err
	status := lp.status
	lp.mu.Unlock()

	lp.save(ctx)
	if err != nil {
		log.Warnf("process %s (%s) ended %s: %v", lp.proc.name, lp.id, status, err)
		return
	}
	log.Debugf("process %s (%s) ended %s", lp.proc.name, lp.id, status)
}

// events implements eventSource.
func (lp *LocalProcess) events(ctx context.Context, wait bool) ([]*Event, error) {
	for {
		lp.mu.Lock()
		if len(lp.queue) > 0 || !wait || !lp.opts.keepAlive {
			evs := lp.queue
			lp.queue = nil
			if len(evs) == 0 && wait {
				lp.closed = true
			}
			lp.mu.Unlock()
			return evs, nil
		}
		lp.mu.Unlock()
		select {
		case <-lp.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (lp *LocalProcess) buildState() *store.State {
	steps := map[string]map[string]any{}
	lp.r.snapshot("", steps)
	lp.mu.Lock()
	defer lp.mu.Unlock()
	st := &store.State{
		ProcessID: lp.id,
		Name:      lp.proc.name,
		Superstep: lp.r.superstep,
		Status:    lp.status,
		Steps:     steps,
		UpdatedAt: time.Now(),
	}
	if lp.err != nil {
		st.Error = lp.err.Error()
	}
	return st
}

// save runs between supersteps, when no step function touches its state.
func (lp *LocalProcess) save(ctx context.Context) {
	st, err := lp.buildState().Clone()
	if err != nil {
		log.Warnf("process %s (%s): state is not serializable: %v", lp.proc.name, lp.id, err)
		return
	}
	lp.mu.Lock()
	lp.snapshot = st
	lp.mu.Unlock()
	if lp.opts.store == nil {
		return
	}
	if err := lp.opts.store.Save(context.WithoutCancel(ctx), st); err != nil {
		log.Errorf("process %s (%s): save state: %v", lp.proc.name, lp.id, err)
	}
}

// ID returns the process id.
func (lp *LocalProcess) ID() string { return lp.id }

// SendEvent queues an input event, delivered before the next superstep.
func (lp *LocalProcess) SendEvent(ctx context.Context, ev *Event) error {
	if ev == nil {
		return errors.New("process: nil event")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return ErrProcessFinished
	}
	lp.queue = append(lp.queue, ev)
	select {
	case lp.notify <- struct{}{}:
	default:
	}
	return nil
}

// Stop ends the run. Running step functions see their context cancelled.
func (lp *LocalProcess) Stop() {
	lp.mu.Lock()
	if !lp.closed {
		lp.stopped = true
	}
	lp.mu.Unlock()
	lp.cancel()
}

// Wait blocks until the run ends and returns its error. Stop is not an error.
func (lp *LocalProcess) Wait(ctx context.Context) error {
	select {
	case <-lp.done:
		lp.mu.Lock()
		defer lp.mu.Unlock()
		return lp.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the run ends.
func (lp *LocalProcess) Done() <-chan struct{} { return lp.done }

// Status returns the current status.
func (lp *LocalProcess) Status() store.Status {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.status
}

// State returns a copy of the state taken after the last superstep.
func (lp *LocalProcess) State() *store.State {
	lp.mu.Lock()
	st := lp.snapshot
	lp.mu.Unlock()
	cp, err := st.Clone()
	if err != nil {
		return nil
	}
	return cp
}
