//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package anthropic provides a chat completion service for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

const (
	// DefaultMaxTokens is sent when the settings carry no MaxTokens; the API requires one.
	DefaultMaxTokens = 1024
	// DefaultServiceID is used when WithServiceID is not given.
	DefaultServiceID = "anthropic"

	envAPIKey = "ANTHROPIC_API_KEY"
)

type options struct {
	apiKey         string
	baseURL        string
	serviceID      string
	maxTokens      int64
	requestOptions []option.RequestOption
}

// Option configures a Model.
type Option func(*options)

// WithAPIKey sets the API key. Defaults to $ANTHROPIC_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithServiceID sets the id the service is registered under in a kernel.
func WithServiceID(id string) Option {
	return func(o *options) { o.serviceID = id }
}

// WithMaxTokens sets the max tokens used when the settings do not carry one.
func WithMaxTokens(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithRequestOptions appends raw anthropic-sdk-go request options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(o *options) { o.requestOptions = append(o.requestOptions, opts...) }
}

// Model wraps the Anthropic Messages API behind model.ChatCompletion.
type Model struct {
	client    anthropic.Client
	name      string
	serviceID string
	maxTokens int64
}

var _ model.ChatCompletion = (*Model)(nil)

// New creates a chat completion service for the named Claude model.
func New(name string, opts ...Option) *Model {
	o := &options{
		apiKey:    os.Getenv(envAPIKey),
		serviceID: DefaultServiceID,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []option.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, o.requestOptions...)
	return &Model{
		client:    anthropic.NewClient(clientOpts...),
		name:      name,
		serviceID: o.serviceID,
		maxTokens: o.maxTokens,
	}
}

// ServiceID implements model.Service.
func (m *Model) ServiceID() string { return m.serviceID }

// ModelID implements model.Service.
func (m *Model) ModelID() string { return m.name }

// GetChatMessages implements model.ChatCompletion.
func (m *Model) GetChatMessages(
	ctx context.Context,
	history *model.History,
	settings *model.Settings,
) ([]*model.Message, error) {
	if history == nil {
		return nil, errors.New("anthropic: history cannot be nil")
	}
	params := m.buildParams(history, settings)
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages: %w", err)
	}
	msg := &model.Message{
		Role:         model.RoleAssistant,
		ModelID:      string(resp.Model),
		FinishReason: string(resp.StopReason),
		Metadata: map[string]any{
			"id": resp.ID,
			"usage": map[string]int64{
				"input_tokens":  resp.Usage.InputTokens,
				"output_tokens": resp.Usage.OutputTokens,
			},
		},
	}
	var index int
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if text := block.AsText().Text; text != "" {
				msg.Items = append(msg.Items, &model.Text{Text: text})
			}
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if b, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(b)
				}
			}
			call := model.NewFunctionCall(toolBlock.ID, toolBlock.Name, args)
			call.Index = index
			index++
			msg.Items = append(msg.Items, call)
		}
	}
	return []*model.Message{msg}, nil
}

func (m *Model) buildParams(history *model.History, settings *model.Settings) anthropic.MessageNewParams {
	if settings == nil {
		settings = &model.Settings{}
	}
	name := m.name
	if settings.ModelID != "" {
		name = settings.ModelID
	}
	maxTokens := m.maxTokens
	if settings.MaxTokens != nil {
		maxTokens = int64(*settings.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(name),
		MaxTokens: maxTokens,
		Messages:  buildMessages(history.Messages),
	}
	if system := systemBlocks(history.Messages); len(system) > 0 {
		params.System = system
	}
	if settings.Temperature != nil {
		params.Temperature = anthropic.Float(*settings.Temperature)
	}
	if settings.TopP != nil {
		params.TopP = anthropic.Float(*settings.TopP)
	}
	if len(settings.Stop) > 0 {
		params.StopSequences = settings.Stop
	}
	// "none" is expressed by not advertising any tool.
	if len(settings.Tools) > 0 && settings.ToolChoice != model.ToolChoiceNone {
		params.Tools = buildTools(settings.Tools)
		if settings.ToolChoice == model.ToolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}
	return params
}

func systemBlocks(msgs []*model.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range msgs {
		if msg.Role != model.RoleSystem && msg.Role != model.RoleDeveloper {
			continue
		}
		if text := msg.Content(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	return blocks
}

// buildMessages maps the history onto alternating user/assistant turns. Tool results
// become tool_result blocks of a user turn; consecutive user turns are merged.
func buildMessages(msgs []*model.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	appendTurn := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	for _, msg := range msgs {
		switch msg.Role {
		case model.RoleSystem, model.RoleDeveloper:
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := msg.Content(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, c := range msg.FunctionCalls() {
				var input any = map[string]any{}
				if c.Arguments != "" {
					if err := json.Unmarshal([]byte(c.Arguments), &input); err != nil {
						input = c.Arguments
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, input, c.FullyQualifiedName()))
			}
			appendTurn(anthropic.MessageParamRoleAssistant, blocks)
		case model.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, fr := range msg.FunctionResults() {
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.CallID, fr.String(), false))
			}
			appendTurn(anthropic.MessageParamRoleUser, blocks)
		default:
			if text := msg.Content(); text != "" {
				appendTurn(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)})
			}
		}
	}
	return out
}

func buildTools(metas []*function.Metadata) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(metas))
	for _, meta := range metas {
		schema := meta.ParametersSchema()
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:     constant.Object("object"),
			Required: schema.Required,
		}
		if len(schema.Properties) > 0 {
			props := make(map[string]any, len(schema.Properties))
			for name, p := range schema.Properties {
				props[name] = p.Map()
			}
			inputSchema.Properties = props
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, meta.FullyQualifiedName(function.DefaultSeparator))
		if meta.Description != "" && tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(meta.Description)
		}
		tools = append(tools, tool)
	}
	log.Debugf("anthropic: advertising %d tools", len(tools))
	return tools
}
