//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"fmt"
	"sort"
	"sync"
)

// Plugin is a named group of functions.
type Plugin struct {
	Name        string
	Description string

	mu        sync.RWMutex
	functions map[string]Function
}

// NewPlugin creates a plugin and adds fns to it.
func NewPlugin(name, description string, fns ...Function) (*Plugin, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	p := &Plugin{Name: name, Description: description, functions: map[string]Function{}}
	if err := p.Add(fns...); err != nil {
		return nil, err
	}
	return p, nil
}

// MustNewPlugin is NewPlugin that panics on error.
func MustNewPlugin(name, description string, fns ...Function) *Plugin {
	p, err := NewPlugin(name, description, fns...)
	if err != nil {
		panic(err)
	}
	return p
}

// Add adds functions to the plugin. Each function is re-parented under the plugin;
// the function passed in is left untouched.
func (p *Plugin) Add(fns ...Function) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fn := range fns {
		name := fn.Metadata().Name
		if err := ValidateName(name); err != nil {
			return err
		}
		if _, ok := p.functions[name]; ok {
			return fmt.Errorf("%w: %s in plugin %s", ErrDuplicateFunction, name, p.Name)
		}
		p.functions[name] = InPlugin(fn, p.Name)
	}
	return nil
}

// Set adds or replaces a function.
func (p *Plugin) Set(fn Function) error {
	name := fn.Metadata().Name
	if err := ValidateName(name); err != nil {
		return err
	}
	p.mu.Lock()
	p.functions[name] = InPlugin(fn, p.Name)
	p.mu.Unlock()
	return nil
}

// Remove deletes the named function and reports whether it was present.
func (p *Plugin) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.functions[name]
	delete(p.functions, name)
	return ok
}

// Get returns the named function.
func (p *Plugin) Get(name string) (Function, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn, ok := p.functions[name]
	return fn, ok
}

// Functions returns the functions sorted by name.
func (p *Plugin) Functions() []Function {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Function, 0, len(p.functions))
	for _, fn := range p.functions {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata().Name < out[j].Metadata().Name
	})
	return out
}

// Metadata returns the metadata of every function, sorted by name.
func (p *Plugin) Metadata() []*Metadata {
	fns := p.Functions()
	out := make([]*Metadata, len(fns))
	for i, fn := range fns {
		out[i] = fn.Metadata()
	}
	return out
}

// Len returns the number of functions.
func (p *Plugin) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.functions)
}

// Clone returns a plugin with the same functions that can be extended independently.
func (p *Plugin) Clone() *Plugin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := &Plugin{Name: p.Name, Description: p.Description, functions: make(map[string]Function, len(p.functions))}
	for k, v := range p.functions {
		cp.functions[k] = v
	}
	return cp
}
