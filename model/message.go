//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-kernel-go/function"
)

// Role represents the role of a message author.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is one of the defined constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleDeveloper, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// ErrInvalidArguments is returned when function call arguments are not a JSON object.
var ErrInvalidArguments = errors.New("model: function call arguments are malformed")

// Item is one piece of message content.
type Item interface {
	itemType() string
}

// Item type tags used in JSON.
const (
	ItemTypeText           = "text"
	ItemTypeFunctionCall   = "function_call"
	ItemTypeFunctionResult = "function_result"
)

// Text is plain text content.
type Text struct {
	Text string `json:"text"`
}

// FunctionCall is a model request to invoke a function.
type FunctionCall struct {
	ID           string `json:"id,omitempty"`
	Index        int    `json:"index,omitempty"`
	PluginName   string `json:"plugin_name,omitempty"`
	FunctionName string `json:"function_name"`
	// Arguments holds the raw JSON object produced by the model.
	Arguments string `json:"arguments,omitempty"`
}

// FunctionResult carries the outcome of a FunctionCall back to the model.
type FunctionResult struct {
	CallID       string `json:"call_id,omitempty"`
	PluginName   string `json:"plugin_name,omitempty"`
	FunctionName string `json:"function_name"`
	Result       any    `json:"result,omitempty"`
}

func (*Text) itemType() string           { return ItemTypeText }
func (*FunctionCall) itemType() string   { return ItemTypeFunctionCall }
func (*FunctionResult) itemType() string { return ItemTypeFunctionResult }

// FullyQualifiedName returns "plugin-function", or the bare function name.
func (c *FunctionCall) FullyQualifiedName() string {
	if c.PluginName == "" {
		return c.FunctionName
	}
	return c.PluginName + function.DefaultSeparator + c.FunctionName
}

// ToArguments decodes the JSON arguments. An empty string yields empty arguments.
func (c *FunctionCall) ToArguments() (function.Arguments, error) {
	raw := strings.TrimSpace(c.Arguments)
	if raw == "" {
		return function.Arguments{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return function.Arguments(args), nil
}

// FullyQualifiedName returns "plugin-function", or the bare function name.
func (r *FunctionResult) FullyQualifiedName() string {
	if r.PluginName == "" {
		return r.FunctionName
	}
	return r.PluginName + function.DefaultSeparator + r.FunctionName
}

// String renders the result for the model.
func (r *FunctionResult) String() string {
	return (&function.Result{Value: r.Result}).String()
}

// ParseFullyQualifiedName splits "plugin-function". Names without separator have no plugin.
func ParseFullyQualifiedName(name string) (pluginName, functionName string) {
	if i := strings.Index(name, function.DefaultSeparator); i >= 0 {
		return name[:i], name[i+len(function.DefaultSeparator):]
	}
	return "", name
}

// NewFunctionCall builds a FunctionCall from a fully qualified name as emitted by models.
func NewFunctionCall(id, fullyQualifiedName, arguments string) *FunctionCall {
	plugin, fn := ParseFullyQualifiedName(fullyQualifiedName)
	return &FunctionCall{ID: id, PluginName: plugin, FunctionName: fn, Arguments: arguments}
}

// Message is a single chat message made of items.
type Message struct {
	Role         Role           `json:"role"`
	Name         string         `json:"name,omitempty"`
	Items        []Item         `json:"-"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ModelID      string         `json:"model_id,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// NewMessage creates a text message.
func NewMessage(role Role, text string) *Message {
	return &Message{Role: role, Items: []Item{&Text{Text: text}}}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(text string) *Message { return NewMessage(RoleSystem, text) }

// NewUserMessage creates a new user message.
func NewUserMessage(text string) *Message { return NewMessage(RoleUser, text) }

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(text string) *Message { return NewMessage(RoleAssistant, text) }

// NewFunctionResultMessage creates the tool message answering call.
func NewFunctionResultMessage(call *FunctionCall, result any) *Message {
	return &Message{
		Role: RoleTool,
		Items: []Item{&FunctionResult{
			CallID:       call.ID,
			PluginName:   call.PluginName,
			FunctionName: call.FunctionName,
			Result:       result,
		}},
	}
}

// Content concatenates the text items.
func (m *Message) Content() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, it := range m.Items {
		if t, ok := it.(*Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns the function call items.
func (m *Message) FunctionCalls() []*FunctionCall {
	var out []*FunctionCall
	for _, it := range m.Items {
		if c, ok := it.(*FunctionCall); ok {
			out = append(out, c)
		}
	}
	return out
}

// FunctionResults returns the function result items.
func (m *Message) FunctionResults() []*FunctionResult {
	var out []*FunctionResult
	for _, it := range m.Items {
		if r, ok := it.(*FunctionResult); ok {
			out = append(out, r)
		}
	}
	return out
}

// Clone deep-copies the message items and metadata.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Items = make([]Item, len(m.Items))
	for i, it := range m.Items {
		switch v := it.(type) {
		case *Text:
			c := *v
			cp.Items[i] = &c
		case *FunctionCall:
			c := *v
			cp.Items[i] = &c
		case *FunctionResult:
			c := *v
			cp.Items[i] = &c
		default:
			cp.Items[i] = it
		}
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// String returns the text content, for logs.
func (m *Message) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Content())
}

type itemEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type messageAlias Message

type messageJSON struct {
	*messageAlias
	Items []itemEnvelope `json:"items"`
}

// MarshalJSON encodes items with a type tag.
func (m *Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{messageAlias: (*messageAlias)(m), Items: make([]itemEnvelope, 0, len(m.Items))}
	for _, it := range m.Items {
		data, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, itemEnvelope{Type: it.itemType(), Data: data})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes items written by MarshalJSON.
func (m *Message) UnmarshalJSON(b []byte) error {
	in := messageJSON{messageAlias: (*messageAlias)(m)}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	m.Items = make([]Item, 0, len(in.Items))
	for _, env := range in.Items {
		var it Item
		switch env.Type {
		case ItemTypeText:
			it = &Text{}
		case ItemTypeFunctionCall:
			it = &FunctionCall{}
		case ItemTypeFunctionResult:
			it = &FunctionResult{}
		default:
			return fmt.Errorf("model: unknown item type %q", env.Type)
		}
		if err := json.Unmarshal(env.Data, it); err != nil {
			return err
		}
		m.Items = append(m.Items, it)
	}
	return nil
}
