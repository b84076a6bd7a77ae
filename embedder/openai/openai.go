//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI embedding generator.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"trpc.group/trpc-go/trpc-kernel-go/embedder"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

const (
	// DefaultModel is the default OpenAI embedding model.
	DefaultModel = "text-embedding-3-small"
	// DefaultServiceID is used when WithServiceID is not given.
	DefaultServiceID = "openai-embedding"
	// DefaultEncodingFormat is the default encoding format for embeddings.
	DefaultEncodingFormat = "float"
)

// Generator generates embeddings with the OpenAI embeddings API.
type Generator struct {
	client         openai.Client
	model          string
	serviceID      string
	dimensions     int
	user           string
	requestOptions []option.RequestOption
}

var _ embedder.EmbeddingGenerator = (*Generator)(nil)

// Option configures a Generator.
type Option func(*generatorOptions)

type generatorOptions struct {
	apiKey         string
	baseURL        string
	organization   string
	serviceID      string
	dimensions     int
	user           string
	requestOptions []option.RequestOption
}

// WithAPIKey sets the API key. Defaults to $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *generatorOptions) { o.apiKey = key }
}

// WithBaseURL sets the base URL for OpenAI-compatible APIs.
func WithBaseURL(url string) Option {
	return func(o *generatorOptions) { o.baseURL = url }
}

// WithOrganization sets the OpenAI organization.
func WithOrganization(org string) Option {
	return func(o *generatorOptions) { o.organization = org }
}

// WithServiceID sets the id the service is registered under in a kernel.
func WithServiceID(id string) Option {
	return func(o *generatorOptions) { o.serviceID = id }
}

// WithDimensions sets the default vector size. Settings.Dimensions overrides it per call.
func WithDimensions(n int) Option {
	return func(o *generatorOptions) { o.dimensions = n }
}

// WithUser sets the end-user id sent with every request.
func WithUser(user string) Option {
	return func(o *generatorOptions) { o.user = user }
}

// WithRequestOptions appends raw openai-go request options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(o *generatorOptions) { o.requestOptions = append(o.requestOptions, opts...) }
}

// New creates an embedding generator. An empty name selects DefaultModel.
func New(name string, opts ...Option) *Generator {
	if name == "" {
		name = DefaultModel
	}
	o := &generatorOptions{
		apiKey:    os.Getenv("OPENAI_API_KEY"),
		baseURL:   os.Getenv("OPENAI_BASE_URL"),
		serviceID: DefaultServiceID,
	}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []option.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(o.apiKey))
	}
	if o.organization != "" {
		clientOpts = append(clientOpts, option.WithOrganization(o.organization))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	return &Generator{
		client:         openai.NewClient(clientOpts...),
		model:          name,
		serviceID:      o.serviceID,
		dimensions:     o.dimensions,
		user:           o.user,
		requestOptions: o.requestOptions,
	}
}

// ServiceID implements model.Service.
func (g *Generator) ServiceID() string { return g.serviceID }

// ModelID implements model.Service.
func (g *Generator) ModelID() string { return g.model }

// GenerateEmbeddings implements embedder.EmbeddingGenerator.
func (g *Generator) GenerateEmbeddings(
	ctx context.Context,
	texts []string,
	settings *model.Settings,
) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, errors.New("openai: text cannot be empty")
		}
	}
	name := g.model
	dimensions := g.dimensions
	if settings != nil {
		if settings.ModelID != "" {
			name = settings.ModelID
		}
		if settings.Dimensions != nil {
			dimensions = *settings.Dimensions
		}
	}
	request := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(name),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormat(DefaultEncodingFormat),
	}
	if g.user != "" {
		request.User = openai.String(g.user)
	}
	// Only the text-embedding-3 family accepts a dimensions parameter.
	if dimensions > 0 && strings.HasPrefix(name, "text-embedding-3") {
		request.Dimensions = openai.Int(int64(dimensions))
	}
	response, err := g.client.Embeddings.New(ctx, request, g.requestOptions...)
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", err)
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d texts", len(response.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range response.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	log.Debugf("openai: embedded %d texts with %s", len(texts), name)
	return out, nil
}
