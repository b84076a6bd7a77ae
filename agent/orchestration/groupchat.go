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
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-kernel-go/agent"
	"trpc.group/trpc-go/trpc-kernel-go/agent/runtime"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// ErrUnknownParticipant is returned when a manager selects an agent outside the chat.
var ErrUnknownParticipant = errors.New("orchestration: unknown participant")

// Participant is a group chat member as seen by a manager.
type Participant struct {
	Name        string
	Description string
}

// Decision is a yes/no answer with its reason.
type Decision struct {
	Result bool
	Reason string
}

// Selection names the next speaker with its reason.
type Selection struct {
	Name   string
	Reason string
}

// Manager drives a group chat. One manager serves one invocation at a time.
type Manager interface {
	// ShouldRequestUserInput reports whether a human answers before the next turn.
	ShouldRequestUserInput(ctx context.Context, h *model.History) (Decision, error)
	// ShouldTerminate reports whether the chat is over.
	ShouldTerminate(ctx context.Context, h *model.History) (Decision, error)
	// SelectNextAgent picks the next speaker among participants.
	SelectNextAgent(ctx context.Context, h *model.History, participants []Participant) (Selection, error)
	// FilterResults produces the result of the chat.
	FilterResults(ctx context.Context, h *model.History) (*model.Message, error)
}

// HumanResponder is implemented by managers able to collect user input.
type HumanResponder interface {
	HumanResponse(ctx context.Context, h *model.History) (*model.Message, error)
}

// RoundRobinManager lets the participants speak in member order for MaxRounds turns.
// When HumanResponseFunc is set, the user answers after every agent turn.
type RoundRobinManager struct {
	// MaxRounds of zero means no limit.
	MaxRounds         int
	HumanResponseFunc func(ctx context.Context, h *model.History) (*model.Message, error)

	round int
	index int
}

var (
	_ Manager        = (*RoundRobinManager)(nil)
	_ HumanResponder = (*RoundRobinManager)(nil)
)

// ShouldRequestUserInput implements Manager.
func (m *RoundRobinManager) ShouldRequestUserInput(_ context.Context, h *model.History) (Decision, error) {
	if m.HumanResponseFunc == nil {
		return Decision{Reason: "No human response function configured."}, nil
	}
	last := h.Last()
	if last == nil || last.Role == model.RoleUser {
		return Decision{Reason: "The last message came from the user."}, nil
	}
	return Decision{Result: true, Reason: "The user answers after every agent turn."}, nil
}

// ShouldTerminate implements Manager.
func (m *RoundRobinManager) ShouldTerminate(context.Context, *model.History) (Decision, error) {
	if m.MaxRounds > 0 && m.round >= m.MaxRounds {
		return Decision{Result: true, Reason: "Maximum number of rounds reached."}, nil
	}
	return Decision{Reason: "Rounds remain."}, nil
}

// SelectNextAgent implements Manager.
func (m *RoundRobinManager) SelectNextAgent(_ context.Context, _ *model.History, participants []Participant) (Selection, error) {
	if len(participants) == 0 {
		return Selection{}, ErrNoMembers
	}
	next := participants[m.index%len(participants)]
	m.index = (m.index + 1) % len(participants)
	m.round++
	return Selection{Name: next.Name, Reason: "Round robin."}, nil
}

// FilterResults implements Manager.
func (m *RoundRobinManager) FilterResults(_ context.Context, h *model.History) (*model.Message, error) {
	if last := h.Last(); last != nil {
		return last, nil
	}
	return nil, errors.New("group chat: empty history")
}

// HumanResponse implements HumanResponder.
func (m *RoundRobinManager) HumanResponse(ctx context.Context, h *model.History) (*model.Message, error) {
	if m.HumanResponseFunc == nil {
		return nil, errors.New("group chat: no human response function")
	}
	return m.HumanResponseFunc(ctx, h)
}

// GroupChat lets a Manager pick speakers turn by turn. Every answer is broadcast to all
// participants.
type GroupChat[TIn, TOut any] struct {
	*base[TIn, TOut]
}

// NewGroupChat creates a group chat orchestration.
func NewGroupChat[TIn, TOut any](members []agent.Agent, manager Manager, opts ...Option) (*GroupChat[TIn, TOut], error) {
	if manager == nil {
		return nil, errors.New("group chat: manager is required")
	}
	b, err := newBase[TIn, TOut]("group_chat", members, &groupChatPattern{manager: manager}, opts)
	if err != nil {
		return nil, err
	}
	return &GroupChat[TIn, TOut]{base: b}, nil
}

type groupChatStart struct {
	Messages []*model.Message
}

type groupChatRequest struct {
	AgentName string
}

type groupChatResponse struct {
	Message *model.Message
}

const groupChatManagerName = "GroupChatManager"

type groupChatPattern struct {
	manager Manager
}

func participantsOf(members []agent.Agent) []Participant {
	out := make([]Participant, len(members))
	for i, a := range members {
		out[i] = Participant{Name: a.Name(), Description: a.Description()}
	}
	return out
}

func (p *groupChatPattern) prepare(inv *invocation) error {
	types := make([]string, 0, len(inv.members)+1)
	for _, a := range inv.members {
		actorType := inv.actorType(a.Name())
		types = append(types, actorType)
		err := inv.rt.RegisterFactory(actorType, func(context.Context, runtime.AgentID) (runtime.Actor, error) {
			return &groupChatAgentActor{inv: inv, agent: a, thread: agent.NewChatHistoryThread()}, nil
		})
		if err != nil {
			return err
		}
	}
	managerType := inv.actorType(groupChatManagerName)
	types = append(types, managerType)
	participants := participantsOf(inv.members)
	err := inv.rt.RegisterFactory(managerType, func(context.Context, runtime.AgentID) (runtime.Actor, error) {
		return &groupChatManagerActor{
			inv:          inv,
			manager:      p.manager,
			participants: participants,
			history:      model.NewHistory(),
		}, nil
	})
	if err != nil {
		return err
	}
	return inv.subscribe(types...)
}

// start hands the task to every participant before the manager picks a speaker.
func (p *groupChatPattern) start(ctx context.Context, inv *invocation, task []*model.Message) error {
	for _, a := range inv.members {
		id := runtime.AgentID{Type: inv.actorType(a.Name()), Key: inv.topic}
		if _, err := inv.rt.SendMessage(ctx, &groupChatStart{Messages: task}, id, nil); err != nil {
			return err
		}
	}
	id := runtime.AgentID{Type: inv.actorType(groupChatManagerName), Key: inv.topic}
	_, err := inv.rt.SendMessage(ctx, &groupChatStart{Messages: task}, id, nil)
	return err
}

type groupChatManagerActor struct {
	inv          *invocation
	manager      Manager
	participants []Participant
	history      *model.History
}

func (m *groupChatManagerActor) OnMessage(ctx context.Context, msg any, mc runtime.MessageContext) (any, error) {
	switch v := msg.(type) {
	case *groupChatStart:
		m.history.Add(v.Messages...)
	case *groupChatResponse:
		m.history.Add(v.Message)
	default:
		return nil, nil
	}
	if err := m.next(ctx); err != nil {
		m.inv.finish(nil, err)
		return nil, err
	}
	return nil, nil
}

func (m *groupChatManagerActor) self() *runtime.AgentID {
	return &runtime.AgentID{Type: m.inv.actorType(groupChatManagerName), Key: m.inv.topic}
}

func (m *groupChatManagerActor) next(ctx context.Context) error {
	for {
		ask, err := m.manager.ShouldRequestUserInput(ctx, m.history.Clone())
		if err != nil {
			return err
		}
		if !ask.Result {
			break
		}
		responder, ok := m.manager.(HumanResponder)
		if !ok {
			return fmt.Errorf("group chat: manager %T cannot collect user input", m.manager)
		}
		reply, err := responder.HumanResponse(ctx, m.history.Clone())
		if err != nil {
			return err
		}
		if reply == nil {
			break
		}
		m.history.Add(reply)
		if err := m.inv.rt.PublishMessage(ctx, &groupChatResponse{Message: reply}, m.inv.topicID(), m.self()); err != nil {
			return err
		}
	}

	stop, err := m.manager.ShouldTerminate(ctx, m.history.Clone())
	if err != nil {
		return err
	}
	if stop.Result {
		log.Debugf("group chat: terminating: %s", stop.Reason)
		result, err := m.manager.FilterResults(ctx, m.history.Clone())
		if err != nil {
			return err
		}
		m.inv.finish([]*model.Message{result}, nil)
		return nil
	}

	sel, err := m.manager.SelectNextAgent(ctx, m.history.Clone(), m.participants)
	if err != nil {
		return err
	}
	known := false
	for _, p := range m.participants {
		known = known || p.Name == sel.Name
	}
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownParticipant, sel.Name)
	}
	log.Debugf("group chat: next speaker %s: %s", sel.Name, sel.Reason)
	return m.inv.rt.PublishMessage(ctx, &groupChatRequest{AgentName: sel.Name}, m.inv.topicID(), m.self())
}

// groupChatAgentActor buffers what was said since its agent last spoke.
type groupChatAgentActor struct {
	inv     *invocation
	agent   agent.Agent
	thread  agent.Thread
	pending []*model.Message
}

func (a *groupChatAgentActor) OnMessage(ctx context.Context, msg any, _ runtime.MessageContext) (any, error) {
	switch v := msg.(type) {
	case *groupChatStart:
		a.pending = append(a.pending, v.Messages...)
	case *groupChatResponse:
		a.pending = append(a.pending, v.Message)
	case *groupChatRequest:
		if v.AgentName != a.agent.Name() {
			return nil, nil
		}
		res, err := a.agent.GetResponse(ctx, a.pending, agent.WithThread(a.thread))
		if err != nil {
			err = fmt.Errorf("agent %s: %w", a.agent.Name(), err)
			a.inv.finish(nil, err)
			return nil, err
		}
		a.pending = nil
		a.inv.respond(ctx, res.Message)
		self := runtime.AgentID{Type: a.inv.actorType(a.agent.Name()), Key: a.inv.topic}
		return nil, a.inv.rt.PublishMessage(ctx, &groupChatResponse{Message: res.Message}, a.inv.topicID(), &self)
	}
	return nil, nil
}
