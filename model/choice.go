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
	"github.com/bmatcuk/doublestar/v4"

	"trpc.group/trpc-go/trpc-kernel-go/function"
)

// DefaultMaximumAutoInvokeAttempts bounds the rounds of automatic function calling.
const DefaultMaximumAutoInvokeAttempts = 5

// ChoiceType is the kind of function choice.
type ChoiceType string

// Function choice kinds.
const (
	ChoiceAuto     ChoiceType = "auto"
	ChoiceRequired ChoiceType = "required"
	ChoiceNone     ChoiceType = "none"
)

// FunctionFilters restrict the advertised functions. Entries may be plain names or
// doublestar patterns such as "math-*". Functions are matched on "plugin-function".
type FunctionFilters struct {
	IncludedPlugins   []string `json:"included_plugins,omitempty"`
	ExcludedPlugins   []string `json:"excluded_plugins,omitempty"`
	IncludedFunctions []string `json:"included_functions,omitempty"`
	ExcludedFunctions []string `json:"excluded_functions,omitempty"`
}

// FunctionChoiceBehavior decides which kernel functions the model may call and whether the
// kernel invokes them automatically.
type FunctionChoiceBehavior struct {
	Type                      ChoiceType      `json:"type"`
	Filters                   FunctionFilters `json:"filters,omitempty"`
	AutoInvoke                bool            `json:"auto_invoke"`
	MaximumAutoInvokeAttempts int             `json:"maximum_auto_invoke_attempts"`
}

// Auto lets the model decide and invokes chosen functions automatically.
func Auto(filters FunctionFilters) *FunctionChoiceBehavior {
	return &FunctionChoiceBehavior{
		Type:                      ChoiceAuto,
		Filters:                   filters,
		AutoInvoke:                true,
		MaximumAutoInvokeAttempts: DefaultMaximumAutoInvokeAttempts,
	}
}

// Required forces one round of function calling.
func Required(filters FunctionFilters) *FunctionChoiceBehavior {
	return &FunctionChoiceBehavior{
		Type:                      ChoiceRequired,
		Filters:                   filters,
		AutoInvoke:                true,
		MaximumAutoInvokeAttempts: 1,
	}
}

// NoneInvoke advertises functions but tells the model not to call them.
func NoneInvoke(filters FunctionFilters) *FunctionChoiceBehavior {
	return &FunctionChoiceBehavior{Type: ChoiceNone, Filters: filters}
}

// ToolChoice returns the provider tool_choice value.
func (b *FunctionChoiceBehavior) ToolChoice() string {
	switch b.Type {
	case ChoiceRequired:
		return ToolChoiceRequired
	case ChoiceNone:
		return ToolChoiceNone
	default:
		return ToolChoiceAuto
	}
}

// Allows reports whether meta passes the filters.
func (b *FunctionChoiceBehavior) Allows(meta *function.Metadata) bool {
	if b == nil {
		return true
	}
	f := b.Filters
	fqn := meta.FullyQualifiedName(function.DefaultSeparator)
	if len(f.IncludedPlugins) > 0 && !matchAny(f.IncludedPlugins, meta.PluginName) {
		return false
	}
	if matchAny(f.ExcludedPlugins, meta.PluginName) {
		return false
	}
	if len(f.IncludedFunctions) > 0 && !matchAny(f.IncludedFunctions, fqn) {
		return false
	}
	return !matchAny(f.ExcludedFunctions, fqn)
}

// Select keeps the functions the behavior allows.
func (b *FunctionChoiceBehavior) Select(metas []*function.Metadata) []*function.Metadata {
	out := make([]*function.Metadata, 0, len(metas))
	for _, m := range metas {
		if b.Allows(m) {
			out = append(out, m)
		}
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
