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
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/kernel"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// TypeChatCompletionAgent is the only declarative agent type.
const TypeChatCompletionAgent = "chat_completion_agent"

// ToolTypeFunction references a kernel function as "plugin.function".
const ToolTypeFunction = "function"

// ErrInvalidDefinition is returned for malformed declarative agents.
var ErrInvalidDefinition = errors.New("agent: invalid definition")

// Definition is the YAML document of a declarative agent.
type Definition struct {
	Type         string           `yaml:"type"`
	ID           string           `yaml:"id,omitempty"`
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description,omitempty"`
	Instructions string           `yaml:"instructions,omitempty"`
	Model        ModelDefinition  `yaml:"model,omitempty"`
	Tools        []ToolDefinition `yaml:"tools,omitempty"`
}

// ModelDefinition selects the service and its settings.
type ModelDefinition struct {
	ID        string       `yaml:"id,omitempty"`
	ServiceID string       `yaml:"service_id,omitempty"`
	Options   ModelOptions `yaml:"options,omitempty"`
}

// ModelOptions are the supported execution settings.
type ModelOptions struct {
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty"`
}

// ToolDefinition references a kernel function.
type ToolDefinition struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the environment value. Unset variables are kept as-is.
func expandEnv(data []byte) []byte {
	return placeholder.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(placeholder.FindSubmatch(m)[1])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return m
	})
}

// ParseDefinition decodes a YAML agent after expanding ${VAR} placeholders.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(expandEnv(data), &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if def.Type != TypeChatCompletionAgent {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidDefinition, def.Type)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	return &def, nil
}

// FromYAML builds a ChatCompletionAgent from a YAML document. Tools must exist in k.
// Extra options are applied after the ones derived from the document.
func FromYAML(data []byte, k *kernel.Kernel, opts ...Option) (*ChatCompletionAgent, error) {
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return FromDefinition(def, k, opts...)
}

// FromDefinition builds a ChatCompletionAgent from a parsed definition.
func FromDefinition(def *Definition, k *kernel.Kernel, opts ...Option) (*ChatCompletionAgent, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: kernel is required", ErrInvalidDefinition)
	}
	var included []string
	for _, tool := range def.Tools {
		if tool.Type != ToolTypeFunction {
			return nil, fmt.Errorf("%w: unsupported tool type %q", ErrInvalidDefinition, tool.Type)
		}
		plugin, fn, ok := strings.Cut(tool.ID, ".")
		if !ok || plugin == "" || fn == "" {
			return nil, fmt.Errorf("%w: tool id %q must be plugin.function", ErrInvalidDefinition, tool.ID)
		}
		if _, err := k.Function(plugin, fn); err != nil {
			return nil, fmt.Errorf("%w: tool %s: %v", ErrInvalidDefinition, tool.ID, err)
		}
		included = append(included, plugin+function.DefaultSeparator+fn)
	}
	settings := &model.Settings{
		ModelID:     def.Model.ID,
		Temperature: def.Model.Options.Temperature,
		MaxTokens:   def.Model.Options.MaxTokens,
		TopP:        def.Model.Options.TopP,
	}
	base := []Option{
		WithKernel(k),
		WithID(def.ID),
		WithName(def.Name),
		WithDescription(def.Description),
		WithInstructions(def.Instructions),
		WithServiceID(def.Model.ServiceID),
		WithExecutionSettings(settings),
	}
	if len(included) > 0 {
		base = append(base, WithFunctionChoiceBehavior(model.Auto(model.FunctionFilters{IncludedFunctions: included})))
	}
	return NewChatCompletionAgent(append(base, opts...)...)
}
