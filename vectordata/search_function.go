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
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/log"
)

// Search function defaults.
const (
	DefaultSearchFunctionName        = "search"
	DefaultSearchFunctionDescription = "Perform a vector search for data in a vector store, using the provided search options."
	DefaultSearchFunctionTop         = 5
)

// Reserved search function parameters; every other argument feeds the dynamic filter.
const (
	ParamQuery = "query"
	ParamTop   = "top"
	ParamSkip  = "skip"
)

// DynamicFilter derives the filter of one call from the configured filter, the function
// parameters and the call arguments.
type DynamicFilter func(base []*Condition, params []*function.Parameter, args function.Arguments) []*Condition

// DefaultDynamicFilter adds an equality condition for every parameter other than query,
// top and skip: the argument when given, else the parameter default when set.
func DefaultDynamicFilter(base []*Condition, params []*function.Parameter, args function.Arguments) []*Condition {
	out := slices.Clone(base)
	for _, p := range params {
		switch p.Name {
		case ParamQuery, ParamTop, ParamSkip:
			continue
		}
		if v, ok := args[p.Name]; ok {
			out = append(out, Eq(p.Name, v))
			continue
		}
		if p.Default != nil {
			out = append(out, Eq(p.Name, p.Default))
		}
	}
	return out
}

type searchFunctionOptions[T any] struct {
	name          string
	description   string
	searchType    SearchType
	params        []*function.Parameter
	ret           *function.Parameter
	searchOpts    []SearchOption
	top           int
	skip          int
	dynamicFilter DynamicFilter
	stringMapper  func(*SearchResult[T]) string
}

// SearchFunctionOption configures NewSearchFunction.
type SearchFunctionOption[T any] func(*searchFunctionOptions[T])

// WithFunctionName sets the function name.
func WithFunctionName[T any](name string) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) { o.name = name }
}

// WithFunctionDescription sets the function description.
func WithFunctionDescription[T any](desc string) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) { o.description = desc }
}

// WithSearchType selects vector or keyword hybrid search.
func WithSearchType[T any](t SearchType) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) { o.searchType = t }
}

// WithSearchParameters replaces the default query, top and skip parameters. Extra
// parameters become filter conditions through the dynamic filter.
func WithSearchParameters[T any](params ...*function.Parameter) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) { o.params = params }
}

// WithReturnParameter sets the return description.
func WithReturnParameter[T any](p *function.Parameter) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) { o.ret = p }
}

// WithSearchOptions sets the options every call starts from, such as WithFilter or
// WithVectorProperty.
func WithSearchOptions[T any](opts ...SearchOption) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) { o.searchOpts = append(o.searchOpts, opts...) }
}

// WithDefaultPaging sets top and skip used when the call passes none.
func WithDefaultPaging[T any](top, skip int) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) {
		o.top = top
		o.skip = skip
	}
}

// WithDynamicFilter replaces DefaultDynamicFilter.
func WithDynamicFilter[T any](f DynamicFilter) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) { o.dynamicFilter = f }
}

// WithStringMapper renders each result. The default is the JSON of the result.
func WithStringMapper[T any](f func(*SearchResult[T]) string) SearchFunctionOption[T] {
	return func(o *searchFunctionOptions[T]) { o.stringMapper = f }
}

// DefaultSearchParameters are query, top and skip.
func DefaultSearchParameters() []*function.Parameter {
	return []*function.Parameter{
		{Name: ParamQuery, Description: "What to search for.", Schema: &function.Schema{Type: "string"}, Required: true},
		{Name: ParamTop, Description: "Number of results to return.", Schema: &function.Schema{Type: "integer"}},
		{Name: ParamSkip, Description: "Number of results to skip.", Schema: &function.Schema{Type: "integer"}},
	}
}

// NewSearchFunction exposes a searcher as a kernel function returning one string per
// result.
func NewSearchFunction[T any](searcher Searcher[T], opts ...SearchFunctionOption[T]) (function.Function, error) {
	o := &searchFunctionOptions[T]{
		name:          DefaultSearchFunctionName,
		description:   DefaultSearchFunctionDescription,
		searchType:    SearchVector,
		params:        DefaultSearchParameters(),
		top:           DefaultSearchFunctionTop,
		dynamicFilter: DefaultDynamicFilter,
		ret: &function.Parameter{
			Name:        "results",
			Description: "The search results.",
			Schema:      &function.Schema{Type: "array", Items: &function.Schema{Type: "string"}},
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if !slices.Contains(searcher.SupportedSearchTypes(), o.searchType) {
		return nil, fmt.Errorf("%w: search type %q is not supported by %T", ErrOperationNotSupported, o.searchType, searcher)
	}
	base, err := NewSearchOptions(append([]SearchOption{WithTop(o.top), WithSkip(o.skip)}, o.searchOpts...)...)
	if err != nil {
		return nil, err
	}
	fn := func(ctx context.Context, args function.Arguments) (any, error) {
		return o.search(ctx, searcher, base, args)
	}
	return function.NewFunction(o.name, o.description, fn,
		function.WithParameters(o.params...), function.WithReturn(o.ret))
}

func (o *searchFunctionOptions[T]) search(ctx context.Context, searcher Searcher[T], base *SearchOptions, args function.Arguments) ([]string, error) {
	query := args[ParamQuery]
	call := *base
	if v, ok := intArgument(args, ParamTop); ok {
		call.Top = v
	}
	if v, ok := intArgument(args, ParamSkip); ok {
		call.Skip = v
	}
	call.Filter = o.dynamicFilter(base.Filter, o.params, args)
	callOpts := []SearchOption{func(so *SearchOptions) { *so = call }}

	var (
		results *SearchResults[T]
		err     error
	)
	switch o.searchType {
	case SearchVector:
		results, err = searcher.Search(ctx, query, callOpts...)
	case SearchKeywordHybrid:
		hybrid, ok := searcher.(HybridSearcher[T])
		if !ok {
			return nil, fmt.Errorf("%w: %T does not support hybrid search", ErrOperationNotSupported, searcher)
		}
		results, err = hybrid.HybridSearch(ctx, query, keywordsOf(query), callOpts...)
	default:
		return nil, fmt.Errorf("%w: search type %q", ErrOperationNotSupported, o.searchType)
	}
	if err != nil {
		log.Errorf("search function %s failed: %v", o.name, err)
		return nil, fmt.Errorf("exception in search function: %w", WrapSearchError(err))
	}
	out := make([]string, 0, len(results.Results))
	for _, r := range results.Results {
		if o.stringMapper != nil {
			out = append(out, o.stringMapper(r))
			continue
		}
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("%w: encode result: %v", ErrSearchExecution, err)
		}
		out = append(out, string(b))
	}
	return out, nil
}

// keywordsOf never returns nil: a hybrid search stays hybrid even without keywords.
func keywordsOf(query any) []string {
	if s, ok := query.(string); ok && s != "" {
		return []string{s}
	}
	return []string{}
}

// intArgument reads integers given as numbers or numeric strings.
func intArgument(args function.Arguments, name string) (int, bool) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, false
	}
	if f, ok := toFloat64(v); ok {
		return int(f), true
	}
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(s)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}
