//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package function defines kernel functions and plugins, the units a language model can
// call through function calling.
package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"

	"trpc.group/trpc-go/trpc-kernel-go/log"
)

// DefaultSeparator joins plugin and function names in fully qualified names.
const DefaultSeparator = "-"

var (
	// ErrInvalidName is returned for plugin or function names outside [0-9A-Za-z_].
	ErrInvalidName = errors.New("function: invalid name")
	// ErrDuplicateFunction is returned when a plugin already holds a function with the same name.
	ErrDuplicateFunction = errors.New("function: duplicate function")
	// ErrInvalidArguments is returned when arguments cannot be converted to the function input.
	ErrInvalidArguments = errors.New("function: invalid arguments")
)

var namePattern = regexp.MustCompile(`^[0-9A-Za-z_]+$`)

// ValidateName checks a plugin or function name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, namePattern.String())
	}
	return nil
}

// Function is an invocable unit registered with a kernel.
type Function interface {
	// Metadata describes the function to the kernel and to language models.
	Metadata() *Metadata
	// Invoke runs the function.
	Invoke(ctx context.Context, args Arguments) (*Result, error)
}

// Parameter describes one function parameter.
type Parameter struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Default     any     `json:"default,omitempty"`
}

// Metadata describes a function.
type Metadata struct {
	Name        string       `json:"name"`
	PluginName  string       `json:"plugin_name,omitempty"`
	Description string       `json:"description,omitempty"`
	Parameters  []*Parameter `json:"parameters,omitempty"`
	Return      *Parameter   `json:"return,omitempty"`
}

// FullyQualifiedName joins plugin and function name with sep.
// A function without plugin returns its bare name.
func (m *Metadata) FullyQualifiedName(sep string) string {
	if m.PluginName == "" {
		return m.Name
	}
	return m.PluginName + sep + m.Name
}

// Parameter returns the named parameter or nil.
func (m *Metadata) Parameter(name string) *Parameter {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ParametersSchema returns the object schema advertised to language models.
func (m *Metadata) ParametersSchema() *Schema {
	s := &Schema{Type: "object", Properties: map[string]*Schema{}}
	for _, p := range m.Parameters {
		ps := &Schema{Type: "string"}
		if p.Schema != nil {
			cp := *p.Schema
			ps = &cp
		}
		if ps.Description == "" {
			ps.Description = p.Description
		}
		s.Properties[p.Name] = ps
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

// MissingArguments lists required parameters absent from args.
func (m *Metadata) MissingArguments(args Arguments) []string {
	var missing []string
	for _, p := range m.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// Clone returns a copy that can be renamed or re-parented safely.
func (m *Metadata) Clone() *Metadata {
	cp := *m
	cp.Parameters = append([]*Parameter(nil), m.Parameters...)
	return &cp
}

// Arguments are the named arguments of an invocation.
type Arguments map[string]any

// Clone returns a shallow copy.
func (a Arguments) Clone() Arguments {
	out := make(Arguments, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge returns a copy of a overridden by other.
func (a Arguments) Merge(other Arguments) Arguments {
	out := a.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Keys returns the argument names in sorted order.
func (a Arguments) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Result is the outcome of a function invocation.
type Result struct {
	Function *Metadata      `json:"function,omitempty"`
	Value    any            `json:"value"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// String renders strings as-is and everything else as JSON.
func (r *Result) String() string {
	if r == nil || r.Value == nil {
		return ""
	}
	switch v := r.Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Sprint(r.Value)
	}
	return string(b)
}

// Func is the body of a function built with NewFunction.
type Func func(ctx context.Context, args Arguments) (any, error)

type closureFunction struct {
	meta *Metadata
	fn   Func
}

// Option configures NewFunction.
type Option func(*Metadata)

// WithParameters sets the parameters of the function.
func WithParameters(params ...*Parameter) Option {
	return func(m *Metadata) { m.Parameters = params }
}

// WithReturn sets the return parameter description.
func WithReturn(ret *Parameter) Option {
	return func(m *Metadata) { m.Return = ret }
}

// WithPluginName sets the plugin the function belongs to.
func WithPluginName(name string) Option {
	return func(m *Metadata) { m.PluginName = name }
}

// NewFunction builds a Function from a closure.
func NewFunction(name, description string, fn Func, opts ...Option) (Function, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	meta := &Metadata{Name: name, Description: description}
	for _, opt := range opts {
		opt(meta)
	}
	return &closureFunction{meta: meta, fn: fn}, nil
}

// MustNewFunction is NewFunction that panics on invalid names.
func MustNewFunction(name, description string, fn Func, opts ...Option) Function {
	f, err := NewFunction(name, description, fn, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *closureFunction) Metadata() *Metadata { return f.meta }

func (f *closureFunction) Invoke(ctx context.Context, args Arguments) (res *Result, err error) {
	defer recoverInvoke(f.meta, &err)
	args = applyDefaults(f.meta, args)
	v, err := f.fn(ctx, args)
	if err != nil {
		return nil, err
	}
	return &Result{Function: f.meta, Value: v}, nil
}

func applyDefaults(meta *Metadata, args Arguments) Arguments {
	var out Arguments
	for _, p := range meta.Parameters {
		if p.Default == nil {
			continue
		}
		if _, ok := args[p.Name]; ok {
			continue
		}
		if out == nil {
			out = args.Clone()
		}
		out[p.Name] = p.Default
	}
	if out == nil {
		return args
	}
	return out
}

func recoverInvoke(meta *Metadata, err *error) {
	if r := recover(); r != nil {
		log.Errorf("function %s panicked: %v\n%s", meta.FullyQualifiedName(DefaultSeparator), r, debug.Stack())
		*err = fmt.Errorf("function %s panicked: %v", meta.FullyQualifiedName(DefaultSeparator), r)
	}
}

// inPlugin re-parents a function under a plugin without touching the original.
type inPlugin struct {
	Function
	meta *Metadata
}

func (f *inPlugin) Metadata() *Metadata { return f.meta }

func (f *inPlugin) Invoke(ctx context.Context, args Arguments) (*Result, error) {
	res, err := f.Function.Invoke(ctx, args)
	if res != nil {
		res.Function = f.meta
	}
	return res, err
}

// InPlugin returns fn as a member of pluginName.
func InPlugin(fn Function, pluginName string) Function {
	if p, ok := fn.(*inPlugin); ok {
		fn = p.Function
	}
	meta := fn.Metadata().Clone()
	meta.PluginName = pluginName
	return &inPlugin{Function: fn, meta: meta}
}
