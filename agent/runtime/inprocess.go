//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-kernel-go/log"
)

// InProcessRuntime runs actors as goroutines of the current process.
type InProcessRuntime struct {
	mu            sync.Mutex
	running       bool
	stopped       bool
	factories     map[string]Factory
	actors        map[AgentID]*mailbox
	subscriptions []TypeSubscription

	// pending counts queued and running deliveries.
	pending     int
	idleWaiters []chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

var _ Runtime = (*InProcessRuntime)(nil)

// NewInProcessRuntime creates a runtime. Call Start before sending messages.
func NewInProcessRuntime() *InProcessRuntime {
	return &InProcessRuntime{
		factories: map[string]Factory{},
		actors:    map[AgentID]*mailbox{},
		stopCh:    make(chan struct{}),
	}
}

// Start lets the runtime accept messages.
func (r *InProcessRuntime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRuntimeStopped
	}
	r.running = true
	return nil
}

// Stop rejects new messages, drops queued ones and waits for running handlers. It must
// not be called from a handler.
func (r *InProcessRuntime) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mb := range r.actors {
		for _, env := range mb.drain() {
			env.reply(nil, ErrRuntimeStopped)
			r.doneLocked()
		}
	}
	log.Debugf("runtime: stopped with %d actor(s)", len(r.actors))
	return nil
}

// StopWhenIdle waits until no delivery is queued or running, then stops.
func (r *InProcessRuntime) StopWhenIdle(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.pending == 0 {
			r.mu.Unlock()
			return r.Stop()
		}
		ch := make(chan struct{})
		r.idleWaiters = append(r.idleWaiters, ch)
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RegisterFactory registers the factory of actorType.
func (r *InProcessRuntime) RegisterFactory(actorType string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[actorType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgentType, actorType)
	}
	r.factories[actorType] = f
	return nil
}

// AddSubscription adds sub. An empty id is generated.
func (r *InProcessRuntime) AddSubscription(sub TypeSubscription) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	for _, s := range r.subscriptions {
		if s.ID == sub.ID {
			return "", fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.ID)
		}
	}
	r.subscriptions = append(r.subscriptions, sub)
	return sub.ID, nil
}

// RemoveSubscription removes the subscription with id.
func (r *InProcessRuntime) RemoveSubscription(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subscriptions {
		if s.ID == id {
			r.subscriptions = append(r.subscriptions[:i], r.subscriptions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
}

// Get returns the id of the actor of actorType with key, creating the actor if
// needed. An empty key selects DefaultKey.
func (r *InProcessRuntime) Get(ctx context.Context, actorType, key string) (AgentID, error) {
	if key == "" {
		key = DefaultKey
	}
	id := AgentID{Type: actorType, Key: key}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.mailboxLocked(ctx, id); err != nil {
		return AgentID{}, err
	}
	return id, nil
}

// Actor returns the instance behind id, creating it if needed.
func (r *InProcessRuntime) Actor(ctx context.Context, id AgentID) (Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, err := r.mailboxLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return mb.actor, nil
}

// SendMessage delivers msg to recipient and waits for the handler result.
func (r *InProcessRuntime) SendMessage(ctx context.Context, msg any, recipient AgentID, sender *AgentID) (any, error) {
	env := &envelope{
		ctx: ctx,
		msg: msg,
		mc: MessageContext{
			Sender:    sender,
			IsRPC:     true,
			MessageID: uuid.NewString(),
		},
		result: make(chan result, 1),
	}
	log.Tracef("runtime: send %T to %s", msg, recipient)

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil, ErrRuntimeStopped
	}
	mb, err := r.mailboxLocked(ctx, recipient)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.enqueueLocked(mb, env)
	r.mu.Unlock()

	select {
	case res := <-env.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.stopCh:
		return nil, ErrRuntimeStopped
	}
}

// PublishMessage delivers msg to every subscribed actor except sender. Handler errors
// are logged.
func (r *InProcessRuntime) PublishMessage(ctx context.Context, msg any, topic TopicID, sender *AgentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrRuntimeStopped
	}
	messageID := uuid.NewString()
	seen := map[AgentID]bool{}
	for _, sub := range r.subscriptions {
		if !sub.matches(topic) {
			continue
		}
		id := sub.recipient(topic)
		if seen[id] || (sender != nil && *sender == id) {
			continue
		}
		seen[id] = true
		mb, err := r.mailboxLocked(ctx, id)
		if err != nil {
			log.Warnf("runtime: publish %T on %s: %v", msg, topic, err)
			continue
		}
		t := topic
		r.enqueueLocked(mb, &envelope{
			ctx: ctx,
			msg: msg,
			mc:  MessageContext{Sender: sender, Topic: &t, MessageID: messageID},
		})
	}
	log.Tracef("runtime: published %T on %s to %d actor(s)", msg, topic, len(seen))
	return nil
}

func (r *InProcessRuntime) mailboxLocked(ctx context.Context, id AgentID) (*mailbox, error) {
	if mb, ok := r.actors[id]; ok {
		return mb, nil
	}
	f, ok := r.factories[id.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, id.Type)
	}
	actor, err := f(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("runtime: create %s: %w", id, err)
	}
	mb := &mailbox{id: id, actor: actor, signal: make(chan struct{}, 1)}
	r.actors[id] = mb
	r.wg.Add(1)
	go r.run(mb)
	log.Debugf("runtime: created actor %s", id)
	return mb, nil
}

func (r *InProcessRuntime) enqueueLocked(mb *mailbox, env *envelope) {
	r.pending++
	mb.push(env)
}

func (r *InProcessRuntime) doneLocked() {
	r.pending--
	if r.pending > 0 {
		return
	}
	for _, ch := range r.idleWaiters {
		close(ch)
	}
	r.idleWaiters = nil
}

func (r *InProcessRuntime) run(mb *mailbox) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-mb.signal:
		}
		for {
			env := mb.pop()
			if env == nil {
				break
			}
			select {
			case <-r.stopCh:
				mb.pushFront(env)
				return
			default:
			}
			r.deliver(mb, env)
			r.mu.Lock()
			r.doneLocked()
			r.mu.Unlock()
		}
	}
}

func (r *InProcessRuntime) deliver(mb *mailbox, env *envelope) {
	if err := env.ctx.Err(); err != nil {
		env.reply(nil, err)
		return
	}
	v, err := handle(env.ctx, mb.actor, env.msg, env.mc)
	if err != nil && !env.mc.IsRPC {
		log.Warnf("runtime: actor %s failed on %T: %v", mb.id, env.msg, err)
	}
	env.reply(v, err)
}

func handle(ctx context.Context, a Actor, msg any, mc MessageContext) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("runtime: actor panicked: %v\n%s", rec, debug.Stack())
			err = fmt.Errorf("runtime: actor panicked: %v", rec)
		}
	}()
	return a.OnMessage(ctx, msg, mc)
}

type result struct {
	value any
	err   error
}

type envelope struct {
	ctx    context.Context
	msg    any
	mc     MessageContext
	result chan result
}

func (e *envelope) reply(v any, err error) {
	if e.result != nil {
		e.result <- result{value: v, err: err}
	}
}

// mailbox is an unbounded FIFO queue owned by one actor.
type mailbox struct {
	id     AgentID
	actor  Actor
	mu     sync.Mutex
	queue  []*envelope
	signal chan struct{}
}

func (m *mailbox) push(env *envelope) {
	m.mu.Lock()
	m.queue = append(m.queue, env)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pushFront(env *envelope) {
	m.mu.Lock()
	m.queue = append([]*envelope{env}, m.queue...)
	m.mu.Unlock()
}

func (m *mailbox) pop() *envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	env := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return env
}

func (m *mailbox) drain() []*envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}
