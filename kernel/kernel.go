//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package kernel provides the Kernel, the registry of AI services and plugins that
// invokes functions on behalf of language models.
package kernel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-kernel-go/embedder"
	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// DefaultServiceID is the id selected when no service id is requested.
const DefaultServiceID = "default"

var (
	// ErrServiceNotFound is returned when no registered service matches.
	ErrServiceNotFound = errors.New("kernel: service not found")
	// ErrPluginNotFound is returned when the named plugin is not registered.
	ErrPluginNotFound = errors.New("kernel: plugin not found")
	// ErrFunctionNotFound is returned when the named function is not registered.
	ErrFunctionNotFound = errors.New("kernel: function not found")
	// ErrDuplicateService is returned when adding a service id twice without overwrite.
	ErrDuplicateService = errors.New("kernel: duplicate service")
	// ErrDuplicatePlugin is returned when adding a plugin name twice.
	ErrDuplicatePlugin = errors.New("kernel: duplicate plugin")
)

// Kernel holds AI services, plugins and invocation filters.
// It is safe for concurrent use.
type Kernel struct {
	mu           sync.RWMutex
	services     map[string]model.Service
	serviceOrder []string
	plugins      map[string]*function.Plugin

	functionFilters []FunctionInvocationFilter
	autoFilters     []AutoFunctionInvocationFilter
}

// Option configures a Kernel.
type Option func(*Kernel) error

// WithService registers svc, replacing a service with the same id.
func WithService(svc model.Service) Option {
	return func(k *Kernel) error { return k.AddService(svc, true) }
}

// WithPlugin registers p.
func WithPlugin(p *function.Plugin) Option {
	return func(k *Kernel) error { return k.AddPlugin(p) }
}

// WithFunctionInvocationFilter appends a function invocation filter.
func WithFunctionInvocationFilter(f FunctionInvocationFilter) Option {
	return func(k *Kernel) error {
		k.functionFilters = append(k.functionFilters, f)
		return nil
	}
}

// WithAutoFunctionInvocationFilter appends an auto function invocation filter.
func WithAutoFunctionInvocationFilter(f AutoFunctionInvocationFilter) Option {
	return func(k *Kernel) error {
		k.autoFilters = append(k.autoFilters, f)
		return nil
	}
}

// New creates a kernel.
func New(opts ...Option) (*Kernel, error) {
	k := &Kernel{
		services: map[string]model.Service{},
		plugins:  map[string]*function.Plugin{},
	}
	for _, opt := range opts {
		if err := opt(k); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Clone returns a kernel sharing services and functions whose registries can be changed
// independently.
func (k *Kernel) Clone() *Kernel {
	k.mu.RLock()
	defer k.mu.RUnlock()
	cp := &Kernel{
		services:        make(map[string]model.Service, len(k.services)),
		serviceOrder:    append([]string(nil), k.serviceOrder...),
		plugins:         make(map[string]*function.Plugin, len(k.plugins)),
		functionFilters: append([]FunctionInvocationFilter(nil), k.functionFilters...),
		autoFilters:     append([]AutoFunctionInvocationFilter(nil), k.autoFilters...),
	}
	for id, s := range k.services {
		cp.services[id] = s
	}
	for name, p := range k.plugins {
		cp.plugins[name] = p.Clone()
	}
	return cp
}

// AddFunctionInvocationFilter appends a function invocation filter.
func (k *Kernel) AddFunctionInvocationFilter(f FunctionInvocationFilter) {
	k.mu.Lock()
	k.functionFilters = append(k.functionFilters, f)
	k.mu.Unlock()
}

// AddAutoFunctionInvocationFilter appends an auto function invocation filter.
func (k *Kernel) AddAutoFunctionInvocationFilter(f AutoFunctionInvocationFilter) {
	k.mu.Lock()
	k.autoFilters = append(k.autoFilters, f)
	k.mu.Unlock()
}

// AddService registers svc under its ServiceID.
func (k *Kernel) AddService(svc model.Service, overwrite bool) error {
	id := svc.ServiceID()
	if id == "" {
		id = DefaultServiceID
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.services[id]; ok {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrDuplicateService, id)
		}
	} else {
		k.serviceOrder = append(k.serviceOrder, id)
	}
	k.services[id] = svc
	return nil
}

// RemoveService unregisters the service with id.
func (k *Kernel) RemoveService(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.services[id]; !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	delete(k.services, id)
	for i, s := range k.serviceOrder {
		if s == id {
			k.serviceOrder = append(k.serviceOrder[:i], k.serviceOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RemoveAllServices unregisters every service.
func (k *Kernel) RemoveAllServices() {
	k.mu.Lock()
	k.services = map[string]model.Service{}
	k.serviceOrder = nil
	k.mu.Unlock()
}

// Services returns the services in registration order.
func (k *Kernel) Services() []model.Service {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]model.Service, 0, len(k.serviceOrder))
	for _, id := range k.serviceOrder {
		out = append(out, k.services[id])
	}
	return out
}

// Service returns the service with id. An empty id selects the "default" service, or
// the first one registered.
func (k *Kernel) Service(id string) (model.Service, error) {
	return selectService[model.Service](k, id)
}

// ChatCompletion returns a chat completion service, selected as in Service but among
// chat services only.
func (k *Kernel) ChatCompletion(id string) (model.ChatCompletion, error) {
	return selectService[model.ChatCompletion](k, id)
}

// EmbeddingGenerator returns an embedding generator, selected as in Service but among
// embedding generators only.
func (k *Kernel) EmbeddingGenerator(id string) (embedder.EmbeddingGenerator, error) {
	return selectService[embedder.EmbeddingGenerator](k, id)
}

func selectService[T model.Service](k *Kernel, id string) (T, error) {
	var zero T
	k.mu.RLock()
	defer k.mu.RUnlock()
	if id != "" {
		if s, ok := k.services[id].(T); ok {
			return s, nil
		}
		return zero, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	if s, ok := k.services[DefaultServiceID].(T); ok {
		return s, nil
	}
	for _, sid := range k.serviceOrder {
		if s, ok := k.services[sid].(T); ok {
			return s, nil
		}
	}
	return zero, fmt.Errorf("%w: no %T registered", ErrServiceNotFound, zero)
}

// AddPlugin registers p.
func (k *Kernel) AddPlugin(p *function.Plugin) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.plugins[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name)
	}
	k.plugins[p.Name] = p
	return nil
}

// AddFunctions adds fns to the named plugin, creating it when missing.
func (k *Kernel) AddFunctions(pluginName string, fns ...function.Function) (*function.Plugin, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.plugins[pluginName]
	if !ok {
		var err error
		if p, err = function.NewPlugin(pluginName, ""); err != nil {
			return nil, err
		}
		k.plugins[pluginName] = p
	}
	if err := p.Add(fns...); err != nil {
		return nil, err
	}
	return p, nil
}

// RemovePlugin unregisters the named plugin.
func (k *Kernel) RemovePlugin(name string) {
	k.mu.Lock()
	delete(k.plugins, name)
	k.mu.Unlock()
}

// Plugin returns the named plugin.
func (k *Kernel) Plugin(name string) (*function.Plugin, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	p, ok := k.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return p, nil
}

// Plugins returns the plugins sorted by name.
func (k *Kernel) Plugins() []*function.Plugin {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]*function.Plugin, 0, len(k.plugins))
	for _, p := range k.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Function returns a function by plugin and name. An empty plugin name searches every
// plugin.
func (k *Kernel) Function(pluginName, functionName string) (function.Function, error) {
	if pluginName == "" {
		for _, p := range k.Plugins() {
			if fn, ok := p.Get(functionName); ok {
				return fn, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, functionName)
	}
	p, err := k.Plugin(pluginName)
	if err != nil {
		return nil, err
	}
	fn, ok := p.Get(functionName)
	if !ok {
		return nil, fmt.Errorf("%w: %s%s%s", ErrFunctionNotFound, pluginName, function.DefaultSeparator, functionName)
	}
	return fn, nil
}

// FunctionFromFullyQualifiedName resolves "plugin-function" or a bare function name.
func (k *Kernel) FunctionFromFullyQualifiedName(name string) (function.Function, error) {
	pluginName, functionName := model.ParseFullyQualifiedName(name)
	return k.Function(pluginName, functionName)
}

// FunctionsMetadata returns the metadata of every function allowed by behavior, ordered
// by plugin then function name. A nil behavior allows everything.
func (k *Kernel) FunctionsMetadata(behavior *model.FunctionChoiceBehavior) []*function.Metadata {
	var metas []*function.Metadata
	for _, p := range k.Plugins() {
		metas = append(metas, p.Metadata()...)
	}
	return behavior.Select(metas)
}
