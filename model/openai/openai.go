//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides the OpenAI-compatible chat completion service.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

const (
	// defaultChannelBufferSize is the default channel buffer size.
	defaultChannelBufferSize = 256
	// DefaultServiceID is used when WithServiceID is not given.
	DefaultServiceID = "openai"

	envAPIKey  = "OPENAI_API_KEY"
	envBaseURL = "OPENAI_BASE_URL"
)

// HTTPClient is the interface for the HTTP client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// ChatRequestCallbackFunc is called before a chat request is sent.
type ChatRequestCallbackFunc func(ctx context.Context, chatRequest *openai.ChatCompletionNewParams)

// ChatResponseCallbackFunc is called after a non-streaming chat response is received.
type ChatResponseCallbackFunc func(
	ctx context.Context,
	chatRequest *openai.ChatCompletionNewParams,
	chatResponse *openai.ChatCompletion,
)

// ChatChunkCallbackFunc is called for every streamed chunk.
type ChatChunkCallbackFunc func(
	ctx context.Context,
	chatRequest *openai.ChatCompletionNewParams,
	chatChunk *openai.ChatCompletionChunk,
)

type options struct {
	APIKey               string
	BaseURL              string
	ServiceID            string
	ChannelBufferSize    int
	HTTPClient           HTTPClient
	ChatRequestCallback  ChatRequestCallbackFunc
	ChatResponseCallback ChatResponseCallbackFunc
	ChatChunkCallback    ChatChunkCallbackFunc
	OpenAIOptions        []openaiopt.RequestOption
	ExtraFields          map[string]any
}

// Option configures a Model.
type Option func(*options)

// WithAPIKey sets the API key. Defaults to $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.APIKey = key
	}
}

// WithBaseURL sets the base URL for OpenAI-compatible APIs. Defaults to $OPENAI_BASE_URL.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.BaseURL = url
	}
}

// WithServiceID sets the id the service is registered under in a kernel.
func WithServiceID(id string) Option {
	return func(opts *options) {
		opts.ServiceID = id
	}
}

// WithHTTPClient sets the HTTP client used by the underlying OpenAI client.
func WithHTTPClient(c HTTPClient) Option {
	return func(opts *options) {
		opts.HTTPClient = c
	}
}

// WithChannelBufferSize sets the buffer size of streaming channels.
func WithChannelBufferSize(size int) Option {
	return func(opts *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		opts.ChannelBufferSize = size
	}
}

// WithChatRequestCallback sets the function called before sending a chat request.
func WithChatRequestCallback(fn ChatRequestCallbackFunc) Option {
	return func(opts *options) {
		opts.ChatRequestCallback = fn
	}
}

// WithChatResponseCallback sets the function called after a non-streaming response.
func WithChatResponseCallback(fn ChatResponseCallbackFunc) Option {
	return func(opts *options) {
		opts.ChatResponseCallback = fn
	}
}

// WithChatChunkCallback sets the function called for each streamed chunk.
func WithChatChunkCallback(fn ChatChunkCallbackFunc) Option {
	return func(opts *options) {
		opts.ChatChunkCallback = fn
	}
}

// WithOpenAIOptions appends raw openai-go request options, e.g. middleware.
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(opts *options) {
		opts.OpenAIOptions = append(opts.OpenAIOptions, openaiOpts...)
	}
}

// WithExtraFields adds fields to every request body.
func WithExtraFields(extraFields map[string]any) Option {
	return func(opts *options) {
		if opts.ExtraFields == nil {
			opts.ExtraFields = make(map[string]any)
		}
		for k, v := range extraFields {
			opts.ExtraFields[k] = v
		}
	}
}

// Model is a chat completion service backed by the OpenAI chat completions API.
type Model struct {
	client               openai.Client
	name                 string
	serviceID            string
	channelBufferSize    int
	chatRequestCallback  ChatRequestCallbackFunc
	chatResponseCallback ChatResponseCallbackFunc
	chatChunkCallback    ChatChunkCallbackFunc
	extraFields          map[string]any
}

var _ model.StreamingChatCompletion = (*Model)(nil)

// New creates a chat completion service for the named model.
func New(name string, opts ...Option) *Model {
	o := &options{
		APIKey:            os.Getenv(envAPIKey),
		BaseURL:           os.Getenv(envBaseURL),
		ServiceID:         DefaultServiceID,
		ChannelBufferSize: defaultChannelBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	if o.HTTPClient != nil {
		clientOpts = append(clientOpts, openaiopt.WithHTTPClient(o.HTTPClient))
	}
	clientOpts = append(clientOpts, o.OpenAIOptions...)

	return &Model{
		client:               openai.NewClient(clientOpts...),
		name:                 name,
		serviceID:            o.ServiceID,
		channelBufferSize:    o.ChannelBufferSize,
		chatRequestCallback:  o.ChatRequestCallback,
		chatResponseCallback: o.ChatResponseCallback,
		chatChunkCallback:    o.ChatChunkCallback,
		extraFields:          o.ExtraFields,
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
		return nil, errors.New("openai: history cannot be nil")
	}
	chatRequest, opts := m.buildRequest(history, settings)
	if m.chatRequestCallback != nil {
		m.chatRequestCallback(ctx, &chatRequest)
	}
	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest, opts...)
	if m.chatResponseCallback != nil {
		m.chatResponseCallback(ctx, &chatRequest, chatCompletion)
	}
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	out := make([]*model.Message, 0, len(chatCompletion.Choices))
	for _, choice := range chatCompletion.Choices {
		msg := &model.Message{
			Role:         model.RoleAssistant,
			ModelID:      chatCompletion.Model,
			FinishReason: choice.FinishReason,
			Metadata: map[string]any{
				"id":    chatCompletion.ID,
				"usage": usageMetadata(chatCompletion.Usage),
			},
		}
		if choice.Message.Content != "" {
			msg.Items = append(msg.Items, &model.Text{Text: choice.Message.Content})
		}
		for i, tc := range choice.Message.ToolCalls {
			call := model.NewFunctionCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
			call.Index = i
			msg.Items = append(msg.Items, call)
		}
		out = append(out, msg)
	}
	return out, nil
}

// StreamChatMessages implements model.StreamingChatCompletion.
func (m *Model) StreamChatMessages(
	ctx context.Context,
	history *model.History,
	settings *model.Settings,
) (<-chan *model.StreamingMessage, error) {
	if history == nil {
		return nil, errors.New("openai: history cannot be nil")
	}
	chatRequest, opts := m.buildRequest(history, settings)
	chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	if m.chatRequestCallback != nil {
		m.chatRequestCallback(ctx, &chatRequest)
	}

	out := make(chan *model.StreamingMessage, m.channelBufferSize)
	go func() {
		defer close(out)
		stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest, opts...)
		defer stream.Close()

		send := func(sm *model.StreamingMessage) bool {
			select {
			case out <- sm:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for stream.Next() {
			chunk := stream.Current()
			if m.chatChunkCallback != nil {
				m.chatChunkCallback(ctx, &chatRequest, &chunk)
			}
			for _, choice := range chunk.Choices {
				sm := chunkMessage(chunk.Model, choice)
				if sm == nil {
					continue
				}
				if !send(sm) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			log.Warnf("openai: stream for %s failed: %v", m.name, err)
			send(&model.StreamingMessage{Err: fmt.Errorf("openai: stream: %w", err)})
		}
	}()
	return out, nil
}

func chunkMessage(modelID string, choice openai.ChatCompletionChunkChoice) *model.StreamingMessage {
	delta := choice.Delta
	if delta.Content == "" && len(delta.ToolCalls) == 0 && choice.FinishReason == "" {
		return nil
	}
	msg := &model.Message{
		Role:         model.RoleAssistant,
		ModelID:      modelID,
		FinishReason: choice.FinishReason,
	}
	if delta.Content != "" {
		msg.Items = append(msg.Items, &model.Text{Text: delta.Content})
	}
	for _, tc := range delta.ToolCalls {
		call := &model.FunctionCall{ID: tc.ID, Index: int(tc.Index), Arguments: tc.Function.Arguments}
		if tc.Function.Name != "" {
			call.PluginName, call.FunctionName = model.ParseFullyQualifiedName(tc.Function.Name)
		}
		msg.Items = append(msg.Items, call)
	}
	return &model.StreamingMessage{Message: msg, ChoiceIndex: int(choice.Index)}
}

func (m *Model) buildRequest(
	history *model.History,
	settings *model.Settings,
) (openai.ChatCompletionNewParams, []openaiopt.RequestOption) {
	if settings == nil {
		settings = &model.Settings{}
	}
	name := m.name
	if settings.ModelID != "" {
		name = settings.ModelID
	}
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(name),
		Messages: convertMessages(history.Messages),
		Tools:    convertTools(settings.Tools),
	}
	if len(chatRequest.Tools) > 0 && settings.ToolChoice != "" {
		chatRequest.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(settings.ToolChoice),
		}
	}
	// MaxTokens is deprecated and not compatible with o-series models.
	if settings.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*settings.MaxTokens))
	}
	if settings.Temperature != nil {
		chatRequest.Temperature = openai.Float(*settings.Temperature)
	}
	if settings.TopP != nil {
		chatRequest.TopP = openai.Float(*settings.TopP)
	}
	if len(settings.Stop) > 0 {
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: settings.Stop}
	}
	switch rf := settings.ResponseFormat.(type) {
	case nil:
	case string:
		if rf == "json_object" {
			chatRequest.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	case map[string]any:
		chatRequest.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: rf,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	var opts []openaiopt.RequestOption
	for key, value := range m.extraFields {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}
	for key, value := range settings.Extra {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}
	return chatRequest, opts
}

func convertMessages(messages []*model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content()),
					},
				},
			})
		case model.RoleDeveloper:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfDeveloper: &openai.ChatCompletionDeveloperMessageParam{
					Content: openai.ChatCompletionDeveloperMessageParamContentUnion{
						OfString: openai.String(msg.Content()),
					},
				},
			})
		case model.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: convertToolCalls(msg.FunctionCalls()),
			}
			if text := msg.Content(); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			if msg.Name != "" {
				assistant.Name = openai.String(msg.Name)
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case model.RoleTool:
			// One tool message per function result.
			for _, fr := range msg.FunctionResults() {
				result = append(result, openai.ChatCompletionMessageParamUnion{
					OfTool: &openai.ChatCompletionToolMessageParam{
						Content: openai.ChatCompletionToolMessageParamContentUnion{
							OfString: openai.String(fr.String()),
						},
						ToolCallID: fr.CallID,
					},
				})
			}
		default:
			user := &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(msg.Content()),
				},
			}
			if msg.Name != "" {
				user.Name = openai.String(msg.Name)
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfUser: user})
		}
	}
	return result
}

func convertToolCalls(calls []*model.FunctionCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, c := range calls {
		args := c.Arguments
		if args == "" {
			args = "{}"
		}
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: c.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      c.FullyQualifiedName(),
				Arguments: args,
			},
		})
	}
	return result
}

func convertTools(metas []*function.Metadata) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, meta := range metas {
		// Round-trip through JSON to get the map shape openai-go expects.
		schemaBytes, err := json.Marshal(meta.ParametersSchema().Map())
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", meta.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", meta.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        meta.FullyQualifiedName(function.DefaultSeparator),
				Description: openai.String(meta.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

func usageMetadata(u openai.CompletionUsage) map[string]int64 {
	return map[string]int64{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
	}
}
