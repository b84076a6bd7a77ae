//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package mcp bridges kernel plugins and Model Context Protocol servers. NewPlugin turns
// the tools of a remote server into kernel functions, NewServer serves kernel functions
// as tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/log"
)

var (
	// ErrClosed is returned when a tool is called after Close.
	ErrClosed = errors.New("mcp: plugin closed")
	// ErrToolFailed wraps tool results flagged as errors by the server.
	ErrToolFailed = errors.New("mcp: tool failed")
)

var defaultClientInfo = &mcp.Implementation{Name: "trpc-kernel-go", Version: "1.0.0"}

type options struct {
	description string
	client      *mcp.Implementation
	include     map[string]bool
	exclude     map[string]bool
}

// Option configures NewPlugin.
type Option func(*options)

// WithDescription sets the plugin description.
func WithDescription(d string) Option {
	return func(o *options) { o.description = d }
}

// WithClientInfo sets the implementation advertised to the server.
func WithClientInfo(name, version string) Option {
	return func(o *options) { o.client = &mcp.Implementation{Name: name, Version: version} }
}

// WithIncludeTools only exposes the named tools.
func WithIncludeTools(names ...string) Option {
	return func(o *options) { o.include = nameSet(names) }
}

// WithExcludeTools hides the named tools.
func WithExcludeTools(names ...string) Option {
	return func(o *options) { o.exclude = nameSet(names) }
}

func nameSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func (o *options) allowed(tool string) bool {
	if o.include != nil && !o.include[tool] {
		return false
	}
	return !o.exclude[tool]
}

// Plugin is a kernel plugin backed by an MCP client session.
type Plugin struct {
	opts    options
	plugin  *function.Plugin
	reloads singleflight.Group

	mu      sync.RWMutex
	session *mcp.ClientSession
}

// NewPlugin connects to the server behind transport and exposes its tools as functions
// of a plugin called name. Tool names are turned into valid function names by replacing
// other characters with underscores.
func NewPlugin(ctx context.Context, name string, transport mcp.Transport, opts ...Option) (*Plugin, error) {
	o := options{client: defaultClientInfo}
	for _, opt := range opts {
		opt(&o)
	}
	fp, err := function.NewPlugin(name, o.description)
	if err != nil {
		return nil, err
	}
	client := mcp.NewClient(o.client, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect MCP server for plugin %s: %w", name, err)
	}
	p := &Plugin{opts: o, plugin: fp, session: session}
	if err := p.Reload(ctx); err != nil {
		if closeErr := session.Close(); closeErr != nil {
			log.Warnf("mcp plugin %s: close session: %v", name, closeErr)
		}
		return nil, err
	}
	return p, nil
}

// Plugin returns the kernel plugin. It stays the same across reloads.
func (p *Plugin) Plugin() *function.Plugin { return p.plugin }

// Reload lists the server tools again and updates the plugin functions. Concurrent
// calls share one listing.
func (p *Plugin) Reload(ctx context.Context) error {
	_, err, _ := p.reloads.Do("reload", func() (any, error) {
		return nil, p.reload(ctx)
	})
	return err
}

func (p *Plugin) reload(ctx context.Context) error {
	session, err := p.currentSession()
	if err != nil {
		return err
	}
	var (
		tools  []*mcp.Tool
		params = &mcp.ListToolsParams{}
	)
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to list tools of %s: %w", p.plugin.Name, err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}

	// keep maps function names to the tool that owns them; the first listed tool wins.
	keep := map[string]string{}
	for _, tool := range tools {
		if tool == nil || !p.opts.allowed(tool.Name) {
			continue
		}
		fn, err := p.newToolFunction(tool)
		if err != nil {
			log.Warnf("mcp plugin %s: skipping tool %s: %v", p.plugin.Name, tool.Name, err)
			continue
		}
		if owner, ok := keep[fn.meta.Name]; ok {
			log.Warnf("mcp plugin %s: skipping tool %s: function name %s already used by tool %s",
				p.plugin.Name, tool.Name, fn.meta.Name, owner)
			continue
		}
		if err := p.plugin.Set(fn); err != nil {
			return err
		}
		keep[fn.meta.Name] = tool.Name
	}
	for _, meta := range p.plugin.Metadata() {
		if _, ok := keep[meta.Name]; !ok {
			p.plugin.Remove(meta.Name)
		}
	}
	log.Debugf("mcp plugin %s: loaded %d tools", p.plugin.Name, len(keep))
	return nil
}

func (p *Plugin) currentSession() (*mcp.ClientSession, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return nil, ErrClosed
	}
	return p.session, nil
}

// Close ends the client session. Functions fail with ErrClosed afterwards.
func (p *Plugin) Close() error {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// toolFunction calls one remote tool.
type toolFunction struct {
	p    *Plugin
	tool string
	meta *function.Metadata
}

func (p *Plugin) newToolFunction(tool *mcp.Tool) (*toolFunction, error) {
	name := functionName(tool.Name)
	if err := function.ValidateName(name); err != nil {
		return nil, err
	}
	schema, err := inputSchema(tool.InputSchema)
	if err != nil {
		return nil, err
	}
	meta := &function.Metadata{Name: name, PluginName: p.plugin.Name, Description: tool.Description}
	required := nameSet(schema.Required)
	names := make([]string, 0, len(schema.Properties))
	for n := range schema.Properties {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		prop := schema.Properties[n]
		meta.Parameters = append(meta.Parameters, &function.Parameter{
			Name:        n,
			Description: prop.Description,
			Schema:      prop,
			Required:    required[n],
		})
	}
	return &toolFunction{p: p, tool: tool.Name, meta: meta}, nil
}

// inputSchema decodes whatever representation the SDK holds into a function schema.
func inputSchema(v any) (*function.Schema, error) {
	if v == nil {
		return &function.Schema{Type: "object"}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	s := function.SchemaFromMap(m)
	if s == nil {
		s = &function.Schema{Type: "object"}
	}
	return s, nil
}

func functionName(tool string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			return r
		default:
			return '_'
		}
	}, tool)
}

func (f *toolFunction) Metadata() *function.Metadata { return f.meta }

func (f *toolFunction) Invoke(ctx context.Context, args function.Arguments) (*function.Result, error) {
	session, err := f.p.currentSession()
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = function.Arguments{}
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      f.tool,
		Arguments: map[string]any(args),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", f.tool, err)
	}
	text := joinText(res)
	if res.IsError {
		return nil, fmt.Errorf("%w: %s: %s", ErrToolFailed, f.tool, text)
	}
	var value any = text
	if text == "" && res.StructuredContent != nil {
		value = res.StructuredContent
	}
	return &function.Result{Function: f.meta, Value: value}, nil
}

func joinText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}
