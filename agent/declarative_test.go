//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/kernel"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

const weatherAgent = `
type: chat_completion_agent
name: WeatherAgent
description: Answers weather questions.
instructions: You answer questions about the weather in ${WEATHER_CITY}.
model:
  id: gpt-4o-mini
  service_id: chat
  options:
    temperature: 0.3
    max_tokens: 256
    top_p: 0.9
tools:
  - id: math.add
    type: function
`

func TestFromYAML(t *testing.T) {
	t.Setenv("WEATHER_CITY", "Shenzhen")
	chat := &scriptedChat{id: "chat", replies: []*model.Message{model.NewAssistantMessage("sunny")}}
	k, err := kernel.New(kernel.WithService(chat), kernel.WithPlugin(mathPlugin()))
	require.NoError(t, err)

	a, err := FromYAML([]byte(weatherAgent), k)
	require.NoError(t, err)
	assert.Equal(t, "WeatherAgent", a.Name())
	assert.Equal(t, "Answers weather questions.", a.Description())
	assert.Equal(t, "You answer questions about the weather in Shenzhen.", a.Instructions())

	res, err := a.GetResponse(context.Background(), Messages("weather?"))
	require.NoError(t, err)
	assert.Equal(t, "sunny", res.Message.Content())

	require.Len(t, chat.settings, 1)
	s := chat.settings[0]
	assert.Equal(t, "gpt-4o-mini", s.ModelID)
	assert.Equal(t, 0.3, *s.Temperature)
	assert.Equal(t, 256, *s.MaxTokens)
	assert.Equal(t, 0.9, *s.TopP)
	require.NotNil(t, s.FunctionChoice)
	assert.Equal(t, []string{"math-add"}, s.FunctionChoice.Filters.IncludedFunctions)
	require.Len(t, s.Tools, 1)
	assert.Equal(t, "add", s.Tools[0].Name)
}

func TestFromYAML_UnsetVariableIsKept(t *testing.T) {
	def, err := ParseDefinition([]byte("type: chat_completion_agent\nname: a\ninstructions: ${TRPC_KERNEL_UNSET_VAR}\n"))
	require.NoError(t, err)
	assert.Equal(t, "${TRPC_KERNEL_UNSET_VAR}", def.Instructions)
}

func TestFromYAML_Invalid(t *testing.T) {
	k, err := kernel.New(kernel.WithPlugin(mathPlugin()))
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "type: [chat"},
		{"unknown type", "type: assistant_agent\nname: a\n"},
		{"missing name", "type: chat_completion_agent\n"},
		{"unknown tool type", "type: chat_completion_agent\nname: a\ntools:\n  - id: math.add\n    type: code_interpreter\n"},
		{"malformed tool id", "type: chat_completion_agent\nname: a\ntools:\n  - id: math-add\n    type: function\n"},
		{"missing function", "type: chat_completion_agent\nname: a\ntools:\n  - id: math.sub\n    type: function\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.doc), k)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}

	_, err = FromYAML([]byte("type: chat_completion_agent\nname: a\n"), nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}
