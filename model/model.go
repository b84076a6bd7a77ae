//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package model provides the connector-neutral chat model: messages, histories, execution
// settings and the AI service interfaces implemented by connectors.
package model

import "context"

// Service is an AI service registered with a kernel.
type Service interface {
	// ServiceID identifies the service in the kernel.
	ServiceID() string
	// ModelID is the default model used by the service.
	ModelID() string
}

// ChatCompletion generates chat messages.
//
// Implementations translate the history and settings (including Settings.Tools) into
// the provider request and map the response back, including function calls. They do not
// invoke functions; the kernel does.
type ChatCompletion interface {
	Service
	// GetChatMessages returns one message per choice.
	GetChatMessages(ctx context.Context, history *History, settings *Settings) ([]*Message, error)
}

// StreamingChatCompletion is implemented by services able to stream.
//
// The channel is closed when the response is complete. A chunk with a non-nil Err
// terminates the stream.
type StreamingChatCompletion interface {
	ChatCompletion
	StreamChatMessages(ctx context.Context, history *History, settings *Settings) (<-chan *StreamingMessage, error)
}

// StreamingMessage is one chunk of a streamed response.
type StreamingMessage struct {
	*Message
	ChoiceIndex int
	Err         error
}

// Merge folds chunk into m. Text is concatenated; function call fragments with the same
// index are joined.
func (m *StreamingMessage) Merge(chunk *StreamingMessage) {
	if chunk == nil || chunk.Message == nil {
		return
	}
	if m.Message == nil {
		m.Message = &Message{Role: chunk.Role}
	}
	if m.Role == "" {
		m.Role = chunk.Role
	}
	if chunk.FinishReason != "" {
		m.FinishReason = chunk.FinishReason
	}
	if chunk.ModelID != "" {
		m.ModelID = chunk.ModelID
	}
	for _, it := range chunk.Items {
		switch v := it.(type) {
		case *Text:
			if n := len(m.Items); n > 0 {
				if last, ok := m.Items[n-1].(*Text); ok {
					last.Text += v.Text
					continue
				}
			}
			c := *v
			m.Items = append(m.Items, &c)
		case *FunctionCall:
			if existing := m.callAt(v.Index); existing != nil {
				if v.ID != "" {
					existing.ID = v.ID
				}
				if v.FunctionName != "" {
					existing.FunctionName = v.FunctionName
					existing.PluginName = v.PluginName
				}
				existing.Arguments += v.Arguments
				continue
			}
			c := *v
			m.Items = append(m.Items, &c)
		default:
			m.Items = append(m.Items, it)
		}
	}
}

func (m *StreamingMessage) callAt(index int) *FunctionCall {
	for _, it := range m.Items {
		if c, ok := it.(*FunctionCall); ok && c.Index == index {
			return c
		}
	}
	return nil
}
