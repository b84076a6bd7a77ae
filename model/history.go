//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package model

// History is an ordered chat transcript.
type History struct {
	Messages []*Message `json:"messages"`
}

// NewHistory creates a history holding msgs.
func NewHistory(msgs ...*Message) *History {
	return &History{Messages: append([]*Message(nil), msgs...)}
}

// Add appends messages.
func (h *History) Add(msgs ...*Message) {
	h.Messages = append(h.Messages, msgs...)
}

// AddSystem appends a system message.
func (h *History) AddSystem(text string) { h.Add(NewSystemMessage(text)) }

// AddUser appends a user message.
func (h *History) AddUser(text string) { h.Add(NewUserMessage(text)) }

// AddAssistant appends an assistant message.
func (h *History) AddAssistant(text string) { h.Add(NewAssistantMessage(text)) }

// Len returns the number of messages.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Messages)
}

// Last returns the last message or nil.
func (h *History) Last() *Message {
	if h.Len() == 0 {
		return nil
	}
	return h.Messages[len(h.Messages)-1]
}

// Clear removes every message.
func (h *History) Clear() {
	h.Messages = nil
}

// Clone deep-copies the history.
func (h *History) Clone() *History {
	if h == nil {
		return &History{}
	}
	cp := &History{Messages: make([]*Message, len(h.Messages))}
	for i, m := range h.Messages {
		cp.Messages[i] = m.Clone()
	}
	return cp
}

// Reducer shrinks a history in place.
type Reducer interface {
	// Reduce reports whether the history changed.
	Reduce(h *History) bool
}

// TruncationReducer keeps the most recent TargetCount messages once the history grows
// beyond TargetCount+ThresholdCount. A leading system or developer message is kept, and a
// function result is never kept without the call that produced it.
type TruncationReducer struct {
	TargetCount    int
	ThresholdCount int
}

var _ Reducer = (*TruncationReducer)(nil)

// Reduce implements Reducer.
func (r *TruncationReducer) Reduce(h *History) bool {
	if r.TargetCount <= 0 || h.Len() <= r.TargetCount+r.ThresholdCount {
		return false
	}
	var head *Message
	msgs := h.Messages
	if first := msgs[0]; first.Role == RoleSystem || first.Role == RoleDeveloper {
		head = first
		msgs = msgs[1:]
	}
	if len(msgs) <= r.TargetCount {
		return false
	}
	cut := len(msgs) - r.TargetCount
	// Move the cut back so the kept window does not start inside a call/result pair.
	for cut > 0 && isFunctionResult(msgs[cut]) {
		cut--
	}
	if cut == 0 {
		return false
	}
	kept := make([]*Message, 0, len(msgs)-cut+1)
	if head != nil {
		kept = append(kept, head)
	}
	kept = append(kept, msgs[cut:]...)
	h.Messages = kept
	return true
}

func isFunctionResult(m *Message) bool {
	return m.Role == RoleTool || len(m.FunctionResults()) > 0
}
