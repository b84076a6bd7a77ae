//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/kernel"
)

type serverOptions struct {
	impl    *mcp.Implementation
	plugins map[string]bool
}

// ServerOption configures NewServer.
type ServerOption func(*serverOptions)

// WithServerInfo sets the implementation advertised to clients.
func WithServerInfo(name, version string) ServerOption {
	return func(o *serverOptions) { o.impl = &mcp.Implementation{Name: name, Version: version} }
}

// WithPlugins limits the served functions to the named plugins.
func WithPlugins(names ...string) ServerOption {
	return func(o *serverOptions) { o.plugins = nameSet(names) }
}

// NewServer serves the functions registered in k as tools named "plugin-function".
// Calls go through the kernel, so invocation filters apply. Function errors are returned
// as tool results flagged IsError.
func NewServer(k *kernel.Kernel, opts ...ServerOption) *mcp.Server {
	o := serverOptions{impl: &mcp.Implementation{Name: "trpc-kernel-go", Version: "1.0.0"}}
	for _, opt := range opts {
		opt(&o)
	}
	s := mcp.NewServer(o.impl, nil)
	for _, p := range k.Plugins() {
		if o.plugins != nil && !o.plugins[p.Name] {
			continue
		}
		for _, fn := range p.Functions() {
			meta := fn.Metadata()
			s.AddTool(&mcp.Tool{
				Name:        meta.FullyQualifiedName(function.DefaultSeparator),
				Description: meta.Description,
				InputSchema: meta.ParametersSchema().Map(),
			}, toolHandler(k, fn))
		}
	}
	return s
}

func toolHandler(k *kernel.Kernel, fn function.Function) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := function.Arguments{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Errorf("%w: %v", function.ErrInvalidArguments, err)), nil
			}
		}
		res, err := k.InvokeFunction(ctx, fn, args)
		if err != nil {
			return errorResult(err), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: res.String()}}}, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
