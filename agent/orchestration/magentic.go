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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"trpc.group/trpc-go/trpc-kernel-go/agent"
	"trpc.group/trpc-go/trpc-kernel-go/agent/runtime"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// Defaults of StandardMagenticManager.
const (
	DefaultMaxStallCount = 3
	magenticManagerName  = "MagenticManager"
)

// LedgerItem is one answered question of a progress ledger. Answer holds a bool or a
// string.
type LedgerItem struct {
	Reason string `json:"reason"`
	Answer any    `json:"answer"`
}

// Bool reads the answer as a boolean. "true" strings count as true.
func (i LedgerItem) Bool() bool {
	switch v := i.Answer.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}

// String reads the answer as text.
func (i LedgerItem) String() string {
	if s, ok := i.Answer.(string); ok {
		return s
	}
	return fmt.Sprint(i.Answer)
}

// ProgressLedger is the manager's assessment after each turn.
type ProgressLedger struct {
	IsRequestSatisfied    LedgerItem `json:"is_request_satisfied"`
	IsInLoop              LedgerItem `json:"is_in_loop"`
	IsProgressBeingMade   LedgerItem `json:"is_progress_being_made"`
	NextSpeaker           LedgerItem `json:"next_speaker"`
	InstructionOrQuestion LedgerItem `json:"instruction_or_question"`
}

// MagenticLimits bound a Magentic run. Zero MaxRoundCount or MaxResetCount means no
// limit.
type MagenticLimits struct {
	MaxStallCount int
	MaxRoundCount int
	MaxResetCount int
}

// MagenticManager plans and supervises a Magentic run.
type MagenticManager interface {
	// CreateFactsAndPlan gathers facts and a plan. oldFacts is set when re-planning
	// after a stall. h may be modified.
	CreateFactsAndPlan(ctx context.Context, h *model.History, task *model.Message,
		participants []Participant, oldFacts *model.Message) (facts, plan *model.Message, err error)
	// CreateTaskLedger renders the briefing shared with the team.
	CreateTaskLedger(ctx context.Context, task, facts, plan *model.Message, participants []Participant) (string, error)
	// CreateProgressLedger assesses the conversation so far. h may be modified.
	CreateProgressLedger(ctx context.Context, h *model.History, task *model.Message,
		participants []Participant) (*ProgressLedger, error)
	// PrepareFinalAnswer produces the result. h may be modified.
	PrepareFinalAnswer(ctx context.Context, h *model.History, task *model.Message) (*model.Message, error)
	Limits() MagenticLimits
}

// StandardMagenticManager implements MagenticManager with prompts sent to a chat
// completion service. Empty prompt fields use the defaults.
type StandardMagenticManager struct {
	Service  model.ChatCompletion
	Settings *model.Settings

	MaxStallCount int
	MaxRoundCount int
	MaxResetCount int

	FactsPrompt          string
	PlanPrompt           string
	TaskLedgerPrompt     string
	FactsUpdatePrompt    string
	PlanUpdatePrompt     string
	ProgressLedgerPrompt string
	FinalAnswerPrompt    string
}

var _ MagenticManager = (*StandardMagenticManager)(nil)

type promptData struct {
	Task     string
	Team     string
	Names    string
	Facts    string
	OldFacts string
	Plan     string
}

func newPromptData(task *model.Message, participants []Participant) promptData {
	team := make([]string, len(participants))
	names := make([]string, len(participants))
	for i, p := range participants {
		team[i] = p.Name + ": " + p.Description
		names[i] = p.Name
	}
	return promptData{Task: task.Content(), Team: strings.Join(team, "\n"), Names: strings.Join(names, ", ")}
}

func render(text, fallback string, data promptData) (string, error) {
	if text == "" {
		text = fallback
	}
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("magentic: parse prompt: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("magentic: render prompt: %w", err)
	}
	return buf.String(), nil
}

func (m *StandardMagenticManager) ask(ctx context.Context, h *model.History, prompt string, s *model.Settings) (*model.Message, error) {
	h.Add(model.NewUserMessage(prompt))
	msgs, err := m.Service.GetChatMessages(ctx, h, s)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New("magentic: empty response")
	}
	return msgs[0], nil
}

// CreateFactsAndPlan implements MagenticManager.
func (m *StandardMagenticManager) CreateFactsAndPlan(ctx context.Context, h *model.History, task *model.Message,
	participants []Participant, oldFacts *model.Message) (*model.Message, *model.Message, error) {
	data := newPromptData(task, participants)
	factsText, factsFallback := m.FactsPrompt, DefaultFactsPrompt
	planText, planFallback := m.PlanPrompt, DefaultPlanPrompt
	if oldFacts != nil {
		data.OldFacts = oldFacts.Content()
		factsText, factsFallback = m.FactsUpdatePrompt, DefaultFactsUpdatePrompt
		planText, planFallback = m.PlanUpdatePrompt, DefaultPlanUpdatePrompt
	}
	prompt, err := render(factsText, factsFallback, data)
	if err != nil {
		return nil, nil, err
	}
	facts, err := m.ask(ctx, h, prompt, m.Settings)
	if err != nil {
		return nil, nil, err
	}
	h.Add(facts)
	if prompt, err = render(planText, planFallback, data); err != nil {
		return nil, nil, err
	}
	plan, err := m.ask(ctx, h, prompt, m.Settings)
	if err != nil {
		return nil, nil, err
	}
	return facts, plan, nil
}

// CreateTaskLedger implements MagenticManager.
func (m *StandardMagenticManager) CreateTaskLedger(_ context.Context, task, facts, plan *model.Message,
	participants []Participant) (string, error) {
	data := newPromptData(task, participants)
	data.Facts, data.Plan = facts.Content(), plan.Content()
	return render(m.TaskLedgerPrompt, DefaultTaskLedgerPrompt, data)
}

// CreateProgressLedger implements MagenticManager. The service is asked for a JSON
// object.
func (m *StandardMagenticManager) CreateProgressLedger(ctx context.Context, h *model.History, task *model.Message,
	participants []Participant) (*ProgressLedger, error) {
	prompt, err := render(m.ProgressLedgerPrompt, DefaultProgressLedgerPrompt, newPromptData(task, participants))
	if err != nil {
		return nil, err
	}
	s := m.Settings.Merge(&model.Settings{ResponseFormat: "json_object"})
	resp, err := m.ask(ctx, h, prompt, s)
	if err != nil {
		return nil, err
	}
	var ledger ProgressLedger
	if err := json.Unmarshal([]byte(trimJSONFence(resp.Content())), &ledger); err != nil {
		return nil, fmt.Errorf("magentic: invalid progress ledger: %w", err)
	}
	return &ledger, nil
}

// trimJSONFence strips a ```json fence some models wrap around JSON answers.
func trimJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// PrepareFinalAnswer implements MagenticManager.
func (m *StandardMagenticManager) PrepareFinalAnswer(ctx context.Context, h *model.History,
	task *model.Message) (*model.Message, error) {
	prompt, err := render(m.FinalAnswerPrompt, DefaultFinalAnswerPrompt, newPromptData(task, nil))
	if err != nil {
		return nil, err
	}
	return m.ask(ctx, h, prompt, m.Settings)
}

// Limits implements MagenticManager.
func (m *StandardMagenticManager) Limits() MagenticLimits {
	l := MagenticLimits{MaxStallCount: m.MaxStallCount, MaxRoundCount: m.MaxRoundCount, MaxResetCount: m.MaxResetCount}
	if l.MaxStallCount <= 0 {
		l.MaxStallCount = DefaultMaxStallCount
	}
	return l
}

// Magentic lets a MagenticManager plan the task, track progress in ledgers and pick
// speakers, re-planning when the team stalls. Members need descriptions.
type Magentic[TIn, TOut any] struct {
	*base[TIn, TOut]
}

// NewMagentic creates a Magentic orchestration.
func NewMagentic[TIn, TOut any](members []agent.Agent, manager MagenticManager, opts ...Option) (*Magentic[TIn, TOut], error) {
	if manager == nil {
		return nil, errors.New("magentic: manager is required")
	}
	for _, a := range members {
		if a.Description() == "" {
			return nil, fmt.Errorf("magentic: member %s has no description", a.Name())
		}
	}
	b, err := newBase[TIn, TOut]("magentic", members, &magenticPattern{manager: manager}, opts)
	if err != nil {
		return nil, err
	}
	return &Magentic[TIn, TOut]{base: b}, nil
}

type magenticStart struct {
	Task *model.Message
}

type magenticRequest struct {
	AgentName string
}

type magenticResponse struct {
	Message *model.Message
}

type magenticReset struct{}

type magenticPattern struct {
	manager MagenticManager
}

func (p *magenticPattern) prepare(inv *invocation) error {
	types := make([]string, 0, len(inv.members)+1)
	for _, a := range inv.members {
		actorType := inv.actorType(a.Name())
		types = append(types, actorType)
		err := inv.rt.RegisterFactory(actorType, func(context.Context, runtime.AgentID) (runtime.Actor, error) {
			return &magenticAgentActor{inv: inv, agent: a, thread: agent.NewChatHistoryThread()}, nil
		})
		if err != nil {
			return err
		}
	}
	managerType := inv.actorType(magenticManagerName)
	types = append(types, managerType)
	participants := participantsOf(inv.members)
	err := inv.rt.RegisterFactory(managerType, func(context.Context, runtime.AgentID) (runtime.Actor, error) {
		return &magenticManagerActor{
			inv:          inv,
			manager:      p.manager,
			limits:       p.manager.Limits(),
			participants: participants,
			history:      model.NewHistory(),
		}, nil
	})
	if err != nil {
		return err
	}
	return inv.subscribe(types...)
}

func (p *magenticPattern) start(ctx context.Context, inv *invocation, task []*model.Message) error {
	if len(task) != 1 {
		return fmt.Errorf("magentic: the task must be one message, got %d", len(task))
	}
	id := runtime.AgentID{Type: inv.actorType(magenticManagerName), Key: inv.topic}
	_, err := inv.rt.SendMessage(ctx, &magenticStart{Task: task[0]}, id, nil)
	return err
}

type magenticManagerActor struct {
	inv          *invocation
	manager      MagenticManager
	limits       MagenticLimits
	participants []Participant
	history      *model.History

	task       *model.Message
	facts      *model.Message
	plan       *model.Message
	roundCount int
	stallCount int
	resetCount int
}

func (m *magenticManagerActor) OnMessage(ctx context.Context, msg any, _ runtime.MessageContext) (any, error) {
	var err error
	switch v := msg.(type) {
	case *magenticStart:
		m.task = v.Task
		m.facts, m.plan, err = m.manager.CreateFactsAndPlan(ctx, m.history.Clone(), m.task, m.participants, nil)
		if err == nil {
			err = m.outerLoop(ctx)
		}
	case *magenticResponse:
		if v.Message.Role != model.RoleUser {
			m.history.Add(model.NewUserMessage("Transferred to " + v.Message.Name))
		}
		m.history.Add(v.Message)
		err = m.innerLoop(ctx)
	default:
		return nil, nil
	}
	if err != nil {
		m.inv.finish(nil, err)
	}
	return nil, err
}

func (m *magenticManagerActor) self() *runtime.AgentID {
	return &runtime.AgentID{Type: m.inv.actorType(magenticManagerName), Key: m.inv.topic}
}

func (m *magenticManagerActor) broadcast(ctx context.Context, text string) error {
	msg := model.NewAssistantMessage(text)
	msg.Name = magenticManagerName
	m.history.Add(msg)
	return m.inv.rt.PublishMessage(ctx, &magenticResponse{Message: msg}, m.inv.topicID(), m.self())
}

func (m *magenticManagerActor) outerLoop(ctx context.Context) error {
	ledger, err := m.manager.CreateTaskLedger(ctx, m.task, m.facts, m.plan, m.participants)
	if err != nil {
		return err
	}
	log.Debugf("magentic: task ledger:\n%s", ledger)
	if err := m.broadcast(ctx, ledger); err != nil {
		return err
	}
	return m.innerLoop(ctx)
}

func (m *magenticManagerActor) innerLoop(ctx context.Context) error {
	m.roundCount++
	if m.limits.MaxRoundCount > 0 && m.roundCount > m.limits.MaxRoundCount {
		log.Debugf("magentic: max round count %d reached", m.limits.MaxRoundCount)
		return m.finalAnswer(ctx)
	}
	ledger, err := m.manager.CreateProgressLedger(ctx, m.history.Clone(), m.task, m.participants)
	if err != nil {
		return err
	}
	if ledger.IsRequestSatisfied.Bool() {
		log.Debugf("magentic: request satisfied: %s", ledger.IsRequestSatisfied.Reason)
		return m.finalAnswer(ctx)
	}
	if !ledger.IsProgressBeingMade.Bool() || ledger.IsInLoop.Bool() {
		m.stallCount++
	} else if m.stallCount > 0 {
		m.stallCount--
	}
	if m.stallCount > m.limits.MaxStallCount {
		m.resetCount++
		if m.limits.MaxResetCount > 0 && m.resetCount > m.limits.MaxResetCount {
			log.Debugf("magentic: max reset count %d reached", m.limits.MaxResetCount)
			return m.finalAnswer(ctx)
		}
		log.Debugf("magentic: stalled, re-planning")
		m.facts, m.plan, err = m.manager.CreateFactsAndPlan(ctx, m.history.Clone(), m.task, m.participants, m.facts)
		if err != nil {
			return err
		}
		if err := m.inv.rt.PublishMessage(ctx, &magenticReset{}, m.inv.topicID(), m.self()); err != nil {
			return err
		}
		m.history.Clear()
		m.stallCount = 0
		return m.outerLoop(ctx)
	}

	if err := m.broadcast(ctx, ledger.InstructionOrQuestion.String()); err != nil {
		return err
	}
	next := ledger.NextSpeaker.String()
	known := false
	for _, p := range m.participants {
		known = known || p.Name == next
	}
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownParticipant, next)
	}
	log.Debugf("magentic: next speaker %s", next)
	return m.inv.rt.PublishMessage(ctx, &magenticRequest{AgentName: next}, m.inv.topicID(), m.self())
}

func (m *magenticManagerActor) finalAnswer(ctx context.Context) error {
	answer, err := m.manager.PrepareFinalAnswer(ctx, m.history.Clone(), m.task)
	if err != nil {
		return err
	}
	m.inv.finish([]*model.Message{answer}, nil)
	return nil
}

type magenticAgentActor struct {
	inv     *invocation
	agent   agent.Agent
	thread  *agent.ChatHistoryThread
	pending []*model.Message
}

func (a *magenticAgentActor) OnMessage(ctx context.Context, msg any, _ runtime.MessageContext) (any, error) {
	switch v := msg.(type) {
	case *magenticResponse:
		if v.Message.Role != model.RoleUser {
			a.pending = append(a.pending, model.NewUserMessage("Transferred to "+v.Message.Name))
		}
		a.pending = append(a.pending, v.Message)
	case *magenticReset:
		a.pending = nil
		if err := a.thread.Delete(ctx); err != nil {
			log.Warnf("magentic: reset %s: %v", a.agent.Name(), err)
		}
		a.thread = agent.NewChatHistoryThread()
	case *magenticRequest:
		if v.AgentName != a.agent.Name() {
			return nil, nil
		}
		persona := model.NewUserMessage(fmt.Sprintf("Transferred to %s, adopt the persona immediately.", a.agent.Name()))
		res, err := a.agent.GetResponse(ctx, append(a.pending, persona), agent.WithThread(a.thread))
		if err != nil {
			err = fmt.Errorf("agent %s: %w", a.agent.Name(), err)
			a.inv.finish(nil, err)
			return nil, err
		}
		a.pending = nil
		a.inv.respond(ctx, res.Message)
		self := runtime.AgentID{Type: a.inv.actorType(a.agent.Name()), Key: a.inv.topic}
		return nil, a.inv.rt.PublishMessage(ctx, &magenticResponse{Message: res.Message}, a.inv.topicID(), &self)
	}
	return nil, nil
}
