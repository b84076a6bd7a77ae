//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package vectordata

import "fmt"

// Search defaults.
const (
	DefaultTop = 3
	// DefaultHybridAlpha weights the vector score against the keyword score.
	DefaultHybridAlpha = 0.5
)

// SearchType names a search flavour.
type SearchType string

// Search types.
const (
	SearchVector        SearchType = "vector"
	SearchKeywordHybrid SearchType = "keyword_hybrid"
)

// SearchOptions control a search.
type SearchOptions struct {
	Filter []*Condition
	// VectorProperty names the vector field searched. Empty selects the first one.
	VectorProperty string
	// AdditionalProperty names the full text field used by hybrid search.
	AdditionalProperty string
	Top                int
	Skip               int
	IncludeTotalCount  bool
	IncludeVectors     bool
	// Vector skips embedding of the search values.
	Vector []float32
	// Alpha weights vector scores in hybrid search. Zero means DefaultHybridAlpha.
	Alpha float64
}

// SearchOption configures SearchOptions.
type SearchOption func(*SearchOptions)

// WithFilter adds filter conditions, combined with AND.
func WithFilter(conds ...*Condition) SearchOption {
	return func(o *SearchOptions) { o.Filter = append(o.Filter, conds...) }
}

// WithVectorProperty selects the searched vector field.
func WithVectorProperty(name string) SearchOption {
	return func(o *SearchOptions) { o.VectorProperty = name }
}

// WithAdditionalProperty selects the full text field of a hybrid search.
func WithAdditionalProperty(name string) SearchOption {
	return func(o *SearchOptions) { o.AdditionalProperty = name }
}

// WithTop sets the page size.
func WithTop(top int) SearchOption {
	return func(o *SearchOptions) { o.Top = top }
}

// WithSkip sets the number of results skipped.
func WithSkip(skip int) SearchOption {
	return func(o *SearchOptions) { o.Skip = skip }
}

// WithTotalCount requests the number of matches before paging.
func WithTotalCount() SearchOption {
	return func(o *SearchOptions) { o.IncludeTotalCount = true }
}

// WithIncludeVectors keeps vector fields in results.
func WithIncludeVectors() SearchOption {
	return func(o *SearchOptions) { o.IncludeVectors = true }
}

// WithVector searches with a precomputed vector.
func WithVector(v []float32) SearchOption {
	return func(o *SearchOptions) { o.Vector = v }
}

// WithAlpha sets the hybrid fusion weight in [0, 1].
func WithAlpha(alpha float64) SearchOption {
	return func(o *SearchOptions) { o.Alpha = alpha }
}

// NewSearchOptions applies opts over the defaults and validates the result.
func NewSearchOptions(opts ...SearchOption) (*SearchOptions, error) {
	o := &SearchOptions{Top: DefaultTop}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks paging and alpha.
func (o *SearchOptions) Validate() error {
	if o.Top <= 0 {
		return fmt.Errorf("%w: top must be greater than 0, got %d", ErrSearchOptions, o.Top)
	}
	if o.Skip < 0 {
		return fmt.Errorf("%w: skip must be >= 0, got %d", ErrSearchOptions, o.Skip)
	}
	if o.Alpha < 0 || o.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be within [0, 1], got %v", ErrSearchOptions, o.Alpha)
	}
	return nil
}

// HybridAlpha returns Alpha or the default.
func (o *SearchOptions) HybridAlpha() float64 {
	if o.Alpha == 0 {
		return DefaultHybridAlpha
	}
	return o.Alpha
}

// OrderBy sorts List results on a field.
type OrderBy struct {
	Field     string
	Ascending bool
}

// GetOptions control List. Top 0 returns every record.
type GetOptions struct {
	Top            int
	Skip           int
	OrderBy        []OrderBy
	IncludeVectors bool
}

// Validate checks paging.
func (o GetOptions) Validate() error {
	if o.Top < 0 || o.Skip < 0 {
		return fmt.Errorf("%w: top and skip must be >= 0", ErrSearchOptions)
	}
	return nil
}

// SearchResult is one search hit.
type SearchResult[T any] struct {
	Record T        `json:"record"`
	Score  *float64 `json:"score,omitempty"`
}

// SearchResults is a page of search hits.
type SearchResults[T any] struct {
	Results []*SearchResult[T] `json:"results"`
	// TotalCount is the number of matches before paging, when requested.
	TotalCount *int `json:"total_count,omitempty"`
}
