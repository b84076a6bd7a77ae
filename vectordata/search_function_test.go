//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package vectordata

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/function"
)

type recordingSearcher struct {
	types    []SearchType
	err      error
	values   any
	keywords []string
	opts     *SearchOptions
	hybrid   bool
}

func (s *recordingSearcher) SupportedSearchTypes() []SearchType { return s.types }

func (s *recordingSearcher) Search(_ context.Context, values any, opts ...SearchOption) (*SearchResults[Record], error) {
	return s.run(values, opts)
}

func (s *recordingSearcher) HybridSearch(_ context.Context, values any, keywords []string, opts ...SearchOption) (*SearchResults[Record], error) {
	s.hybrid = true
	s.keywords = keywords
	return s.run(values, opts)
}

func (s *recordingSearcher) run(values any, opts []SearchOption) (*SearchResults[Record], error) {
	o, err := NewSearchOptions(opts...)
	if err != nil {
		return nil, err
	}
	s.values, s.opts = values, o
	if s.err != nil {
		return nil, s.err
	}
	score := 0.5
	return &SearchResults[Record]{Results: []*SearchResult[Record]{{Record: Record{"id": "a"}, Score: &score}}}, nil
}

func TestSearchFunctionDefaults(t *testing.T) {
	s := &recordingSearcher{types: []SearchType{SearchVector}}
	fn, err := NewSearchFunction[Record](s)
	require.NoError(t, err)

	meta := fn.Metadata()
	assert.Equal(t, DefaultSearchFunctionName, meta.Name)
	assert.Equal(t, DefaultSearchFunctionDescription, meta.Description)
	assert.Equal(t, []string{"query"}, meta.ParametersSchema().Required)

	res, err := fn.Invoke(context.Background(), function.Arguments{"query": "hotels"})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"record":{"id":"a"},"score":0.5}`}, res.Value)
	assert.Equal(t, "hotels", s.values)
	assert.Equal(t, DefaultSearchFunctionTop, s.opts.Top)
	assert.Equal(t, 0, s.opts.Skip)
	assert.Empty(t, s.opts.Filter)

	_, err = fn.Invoke(context.Background(), function.Arguments{"query": "hotels", "top": 2.0, "skip": "1"})
	require.NoError(t, err)
	assert.Equal(t, 2, s.opts.Top)
	assert.Equal(t, 1, s.opts.Skip)
}

func TestSearchFunctionDynamicFilter(t *testing.T) {
	s := &recordingSearcher{types: []SearchType{SearchVector}}
	params := append(DefaultSearchParameters(),
		&function.Parameter{Name: "city"},
		&function.Parameter{Name: "country", Default: "NL"},
	)
	fn, err := NewSearchFunction[Record](s,
		WithSearchParameters[Record](params...),
		WithSearchOptions[Record](WithFilter(Eq("open", true))),
		WithStringMapper[Record](func(r *SearchResult[Record]) string { return fmt.Sprint(r.Record["id"]) }),
	)
	require.NoError(t, err)

	res, err := fn.Invoke(context.Background(), function.Arguments{"query": "q", "city": "Amsterdam"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Value)
	require.Len(t, s.opts.Filter, 3)
	assert.Equal(t, Eq("open", true), s.opts.Filter[0])
	assert.Equal(t, Eq("city", "Amsterdam"), s.opts.Filter[1])
	assert.Equal(t, Eq("country", "NL"), s.opts.Filter[2])
}

func TestSearchFunctionHybrid(t *testing.T) {
	vectorOnly := &recordingSearcher{types: []SearchType{SearchVector}}
	_, err := NewSearchFunction[Record](vectorOnly, WithSearchType[Record](SearchKeywordHybrid))
	assert.ErrorIs(t, err, ErrOperationNotSupported)

	s := &recordingSearcher{types: []SearchType{SearchVector, SearchKeywordHybrid}}
	fn, err := NewSearchFunction[Record](s, WithSearchType[Record](SearchKeywordHybrid), WithFunctionName[Record]("find"))
	require.NoError(t, err)
	assert.Equal(t, "find", fn.Metadata().Name)

	_, err = fn.Invoke(context.Background(), function.Arguments{"query": "sea view"})
	require.NoError(t, err)
	assert.True(t, s.hybrid)
	assert.Equal(t, []string{"sea view"}, s.keywords)

	s.hybrid, s.keywords = false, nil
	_, err = fn.Invoke(context.Background(), function.Arguments{"query": 42})
	require.NoError(t, err)
	assert.True(t, s.hybrid)
	assert.NotNil(t, s.keywords)
	assert.Empty(t, s.keywords)
}

func TestSearchFunctionErrors(t *testing.T) {
	s := &recordingSearcher{types: []SearchType{SearchVector}, err: errors.New("backend down")}
	fn, err := NewSearchFunction[Record](s)
	require.NoError(t, err)
	_, err = fn.Invoke(context.Background(), function.Arguments{"query": "q"})
	assert.ErrorIs(t, err, ErrSearchExecution)

	_, err = NewSearchFunction[Record](s, WithDefaultPaging[Record](0, 0))
	assert.ErrorIs(t, err, ErrSearchOptions)
}
