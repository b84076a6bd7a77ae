//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "math-add", "arguments": "{\"a\":1,\"b\":2}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
}`

func newServer(t *testing.T, handler func(body map[string]any, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		handler(body, w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestModel_GetChatMessages(t *testing.T) {
	var got map[string]any
	srv := newServer(t, func(body map[string]any, w http.ResponseWriter) {
		got = body
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	})
	m := New("gpt-4o-mini", WithAPIKey("k"), WithBaseURL(srv.URL), WithServiceID("svc"))
	assert.Equal(t, "svc", m.ServiceID())
	assert.Equal(t, "gpt-4o-mini", m.ModelID())

	call := model.NewFunctionCall("call_0", "math-add", `{"a":0}`)
	h := model.NewHistory(
		model.NewSystemMessage("be brief"),
		model.NewUserMessage("add"),
		&model.Message{Role: model.RoleAssistant, Items: []model.Item{call}},
		model.NewFunctionResultMessage(call, 0),
	)
	add := function.MustNewFunction("add", "adds", func(ctx context.Context, args function.Arguments) (any, error) {
		return nil, nil
	}, function.WithParameters(&function.Parameter{Name: "a", Schema: &function.Schema{Type: "integer"}, Required: true}))
	meta := add.Metadata().Clone()
	meta.PluginName = "math"

	msgs, err := m.GetChatMessages(context.Background(), h, &model.Settings{
		Temperature: model.Float(0.5),
		MaxTokens:   model.Int(16),
		Tools:       []*function.Metadata{meta},
		ToolChoice:  model.ToolChoiceAuto,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, "tool_calls", msgs[0].FinishReason)
	calls := msgs[0].FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "math", calls[0].PluginName)
	assert.Equal(t, "add", calls[0].FunctionName)
	assert.Equal(t, "call_1", calls[0].ID)

	require.NotNil(t, got)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.Equal(t, 0.5, got["temperature"])
	assert.Equal(t, "auto", got["tool_choice"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 4)
	assert.Equal(t, "tool", messages[3].(map[string]any)["role"])
	assert.Equal(t, "call_0", messages[3].(map[string]any)["tool_call_id"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "math-add", fn["name"])
}

func TestModel_GetChatMessages_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad"}}`)
	}))
	defer srv.Close()
	m := New("gpt", WithAPIKey("k"), WithBaseURL(srv.URL), WithOpenAIOptions())
	_, err := m.GetChatMessages(context.Background(), model.NewHistory(model.NewUserMessage("x")), nil)
	assert.Error(t, err)

	_, err = m.GetChatMessages(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestModel_StreamChatMessages(t *testing.T) {
	chunks := []string{
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"time-now","arguments":""}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`,
	}
	srv := newServer(t, func(body map[string]any, w http.ResponseWriter) {
		assert.Equal(t, true, body["stream"])
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	var seen int
	m := New("gpt", WithAPIKey("k"), WithBaseURL(srv.URL), WithChatChunkCallback(
		func(context.Context, *openai.ChatCompletionNewParams, *openai.ChatCompletionChunk) { seen++ }))

	ch, err := m.StreamChatMessages(context.Background(), model.NewHistory(model.NewUserMessage("hi")), nil)
	require.NoError(t, err)
	acc := &model.StreamingMessage{}
	for sm := range ch {
		require.NoError(t, sm.Err)
		acc.Merge(sm)
	}
	assert.Equal(t, len(chunks), seen)
	assert.Equal(t, "Hello", acc.Content())
	require.Len(t, acc.FunctionCalls(), 1)
	assert.Equal(t, "now", acc.FunctionCalls()[0].FunctionName)
	assert.Equal(t, "{}", acc.FunctionCalls()[0].Arguments)
	assert.Equal(t, "tool_calls", acc.FinishReason)
}
