//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package model

import "trpc.group/trpc-go/trpc-kernel-go/function"

// Tool choice values sent to providers.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Settings are the execution settings of one request to an AI service.
type Settings struct {
	// ServiceID selects the kernel service; empty selects the default one.
	ServiceID string `json:"service_id,omitempty"`
	// ModelID overrides the model configured on the service.
	ModelID     string   `json:"model_id,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	// Dimensions is used by embedding generators.
	Dimensions *int `json:"dimensions,omitempty"`
	// ResponseFormat is "json_object" or a JSON schema object for structured output.
	ResponseFormat any `json:"response_format,omitempty"`

	// FunctionChoice decides which kernel functions are advertised and auto-invoked.
	FunctionChoice *FunctionChoiceBehavior `json:"-"`
	// Tools are the functions advertised to the model. Filled by the kernel.
	Tools []*function.Metadata `json:"-"`
	// ToolChoice is filled by the kernel from FunctionChoice.
	ToolChoice string `json:"-"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy safe to mutate.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return &Settings{}
	}
	cp := *s
	cp.Stop = append([]string(nil), s.Stop...)
	cp.Tools = append([]*function.Metadata(nil), s.Tools...)
	if s.Extra != nil {
		cp.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}

// Merge returns a copy of s where every field set in other wins.
func (s *Settings) Merge(other *Settings) *Settings {
	out := s.Clone()
	if other == nil {
		return out
	}
	if other.ServiceID != "" {
		out.ServiceID = other.ServiceID
	}
	if other.ModelID != "" {
		out.ModelID = other.ModelID
	}
	if other.MaxTokens != nil {
		out.MaxTokens = other.MaxTokens
	}
	if other.Temperature != nil {
		out.Temperature = other.Temperature
	}
	if other.TopP != nil {
		out.TopP = other.TopP
	}
	if len(other.Stop) > 0 {
		out.Stop = append([]string(nil), other.Stop...)
	}
	if other.Dimensions != nil {
		out.Dimensions = other.Dimensions
	}
	if other.ResponseFormat != nil {
		out.ResponseFormat = other.ResponseFormat
	}
	if other.FunctionChoice != nil {
		out.FunctionChoice = other.FunctionChoice
	}
	for k, v := range other.Extra {
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		out.Extra[k] = v
	}
	return out
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
