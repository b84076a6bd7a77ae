//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

const messageBody = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-test",
  "stop_reason": "tool_use",
  "content": [
    {"type": "text", "text": "Let me check."},
    {"type": "tool_use", "id": "toolu_1", "name": "time-now", "input": {"zone": "UTC"}}
  ],
  "usage": {"input_tokens": 5, "output_tokens": 6}
}`

func TestModel_GetChatMessages(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, messageBody)
	}))
	defer srv.Close()

	m := New("claude-test", WithAPIKey("k"), WithBaseURL(srv.URL))
	assert.Equal(t, DefaultServiceID, m.ServiceID())

	call := model.NewFunctionCall("toolu_0", "time-now", "")
	h := model.NewHistory(
		model.NewSystemMessage("you tell time"),
		model.NewUserMessage("time?"),
		&model.Message{Role: model.RoleAssistant, Items: []model.Item{call}},
		model.NewFunctionResultMessage(call, "noon"),
		model.NewUserMessage("and now?"),
	)
	now := function.MustNewFunction("now", "current time",
		func(context.Context, function.Arguments) (any, error) { return "noon", nil },
		function.WithPluginName("time"),
		function.WithParameters(&function.Parameter{Name: "zone", Schema: &function.Schema{Type: "string"}}))

	msgs, err := m.GetChatMessages(context.Background(), h, &model.Settings{
		Tools:      []*function.Metadata{now.Metadata()},
		ToolChoice: model.ToolChoiceRequired,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Let me check.", msgs[0].Content())
	assert.Equal(t, "tool_use", msgs[0].FinishReason)
	calls := msgs[0].FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "time", calls[0].PluginName)
	args, err := calls[0].ToArguments()
	require.NoError(t, err)
	assert.Equal(t, "UTC", args["zone"])

	assert.Equal(t, float64(DefaultMaxTokens), got["max_tokens"])
	system := got["system"].([]any)
	require.Len(t, system, 1)
	// user, assistant(tool_use), user(tool_result + text)
	messages := got["messages"].([]any)
	require.Len(t, messages, 3)
	last := messages[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	assert.Len(t, last["content"].([]any), 2)
	assert.Equal(t, "any", got["tool_choice"].(map[string]any)["type"])
}

func TestModel_ToolChoiceNone(t *testing.T) {
	m := New("claude-test", WithAPIKey("k"))
	meta := &function.Metadata{Name: "now", PluginName: "time"}
	params := m.buildParams(model.NewHistory(model.NewUserMessage("x")), &model.Settings{
		Tools:      []*function.Metadata{meta},
		ToolChoice: model.ToolChoiceNone,
		MaxTokens:  model.Int(12),
	})
	assert.Empty(t, params.Tools)
	assert.Equal(t, int64(12), params.MaxTokens)
}

func TestModel_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer srv.Close()
	m := New("claude-test", WithAPIKey("k"), WithBaseURL(srv.URL), WithRequestOptions())
	_, err := m.GetChatMessages(context.Background(), model.NewHistory(model.NewUserMessage("x")), nil)
	assert.Error(t, err)
}
