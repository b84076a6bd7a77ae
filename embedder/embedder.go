//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package embedder defines the embedding generation service.
package embedder

import (
	"context"

	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// EmbeddingGenerator turns texts into vectors.
//
// The returned slice has one vector per input text, in input order. Settings.Dimensions,
// when set, asks the provider for vectors of that size.
type EmbeddingGenerator interface {
	model.Service
	GenerateEmbeddings(ctx context.Context, texts []string, settings *model.Settings) ([][]float32, error)
}

// Func adapts a function into an EmbeddingGenerator. Used by tests and local embedders.
type Func struct {
	ID    string
	Model string
	Fn    func(ctx context.Context, texts []string, settings *model.Settings) ([][]float32, error)
}

// ServiceID implements model.Service.
func (f *Func) ServiceID() string { return f.ID }

// ModelID implements model.Service.
func (f *Func) ModelID() string { return f.Model }

// GenerateEmbeddings implements EmbeddingGenerator.
func (f *Func) GenerateEmbeddings(ctx context.Context, texts []string, settings *model.Settings) ([][]float32, error) {
	return f.Fn(ctx, texts, settings)
}
