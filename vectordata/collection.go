//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package vectordata

import "context"

// Collection stores records of T keyed by K.
type Collection[K comparable, T any] interface {
	Name() string
	// EnsureCollectionExists creates the collection when missing.
	EnsureCollectionExists(ctx context.Context) error
	CollectionExists(ctx context.Context) (bool, error)
	// EnsureCollectionDeleted drops the collection and every record in it.
	EnsureCollectionDeleted(ctx context.Context) error
	// Upsert inserts or replaces records and returns their keys in input order.
	Upsert(ctx context.Context, records ...T) ([]K, error)
	// Get returns the records found for keys, in key order. Missing keys are skipped.
	Get(ctx context.Context, keys ...K) ([]T, error)
	List(ctx context.Context, opts GetOptions) ([]T, error)
	// Delete removes records. Missing keys are ignored.
	Delete(ctx context.Context, keys ...K) error
}

// Searcher runs vector searches. values are embedded by the collection's generator
// unless WithVector is given.
type Searcher[T any] interface {
	Search(ctx context.Context, values any, opts ...SearchOption) (*SearchResults[T], error)
	SupportedSearchTypes() []SearchType
}

// HybridSearcher combines vector and keyword scores.
type HybridSearcher[T any] interface {
	Searcher[T]
	HybridSearch(ctx context.Context, values any, keywords []string, opts ...SearchOption) (*SearchResults[T], error)
}

// SearchableCollection is a collection that can be searched.
type SearchableCollection[K comparable, T any] interface {
	Collection[K, T]
	Searcher[T]
}

// Store manages the collections of one backend.
type Store interface {
	ListCollectionNames(ctx context.Context) ([]string, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	EnsureCollectionDeleted(ctx context.Context, name string) error
}
