//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package badger provides a persistent vector collection on top of BadgerDB. Records are
// stored as JSON and searched with the exact linear scan of package vectordata.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	boptions "github.com/dgraph-io/badger/v4/options"

	"trpc.group/trpc-go/trpc-kernel-go/embedder"
	itelemetry "trpc.group/trpc-go/trpc-kernel-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-kernel-go/vectordata"
)

const (
	recordPrefix = "vectordata/"
	markerPrefix = "vectordata-collection/"
)

// loggerAdapter routes badger logs to log.Default.
type loggerAdapter struct{}

var _ badger.Logger = loggerAdapter{}

func (loggerAdapter) Errorf(msg string, items ...any)   { log.Errorf("badger: "+msg, items...) }
func (loggerAdapter) Warningf(msg string, items ...any) { log.Warnf("badger: "+msg, items...) }
func (loggerAdapter) Infof(msg string, items ...any)    { log.Debugf("badger: "+msg, items...) }
func (loggerAdapter) Debugf(msg string, items ...any)   { log.Debugf("badger: "+msg, items...) }

// Open opens or creates a database in dir.
func Open(dir string) (*badger.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("badger: create %s: %w", dir, err)
	}
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory opens a database that lives in memory only.
func OpenInMemory() (*badger.DB, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*badger.DB, error) {
	opts.Logger = loggerAdapter{}
	opts.Compression = boptions.None
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return db, nil
}

type options struct {
	def       *vectordata.Definition
	generator embedder.EmbeddingGenerator
	mapper    any
}

// Option configures a collection.
type Option func(*options)

// WithDefinition sets the record definition.
func WithDefinition(def *vectordata.Definition) Option {
	return func(o *options) { o.def = def }
}

// WithEmbeddingGenerator sets the generator used for vector fields without their own.
func WithEmbeddingGenerator(g embedder.EmbeddingGenerator) Option {
	return func(o *options) { o.generator = g }
}

// WithMapper sets a vectordata.Mapper[T] for the collection's data model.
func WithMapper(m any) Option {
	return func(o *options) { o.mapper = m }
}

// Collection is a vector collection persisted in a badger database.
type Collection[K comparable, T any] struct {
	db        *badger.DB
	name      string
	def       *vectordata.Definition
	mapper    vectordata.Mapper[T]
	generator embedder.EmbeddingGenerator
}

var _ vectordata.SearchableCollection[string, vectordata.Record] = (*Collection[string, vectordata.Record])(nil)

// NewCollection binds a collection to db. The name must not contain "/".
func NewCollection[K comparable, T any](db *badger.DB, name string, opts ...Option) (*Collection[K, T], error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: invalid collection name %q", vectordata.ErrModel, name)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	def, mapper, err := vectordata.ResolveModel[T](o.def, o.mapper)
	if err != nil {
		return nil, err
	}
	if err := vectordata.CheckExactSearch(def); err != nil {
		return nil, err
	}
	return &Collection[K, T]{db: db, name: name, def: def, mapper: mapper, generator: o.generator}, nil
}

// Name implements vectordata.Collection.
func (c *Collection[K, T]) Name() string { return c.name }

// SupportedSearchTypes implements vectordata.Searcher.
func (c *Collection[K, T]) SupportedSearchTypes() []vectordata.SearchType {
	return []vectordata.SearchType{vectordata.SearchVector}
}

func (c *Collection[K, T]) marker() []byte { return []byte(markerPrefix + c.name) }

func (c *Collection[K, T]) prefix() []byte { return []byte(recordPrefix + c.name + "/") }

func (c *Collection[K, T]) recordKey(k K) ([]byte, error) {
	s, err := vectordata.KeyString(k)
	if err != nil {
		return nil, err
	}
	return []byte(recordPrefix + c.name + "/" + s), nil
}

// EnsureCollectionExists implements vectordata.Collection.
func (c *Collection[K, T]) EnsureCollectionExists(ctx context.Context) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.marker(), []byte(c.name))
	})
}

// CollectionExists implements vectordata.Collection.
func (c *Collection[K, T]) CollectionExists(ctx context.Context) (bool, error) {
	return markerExists(c.db, c.name)
}

// EnsureCollectionDeleted implements vectordata.Collection.
func (c *Collection[K, T]) EnsureCollectionDeleted(ctx context.Context) error {
	return deleteCollection(c.db, c.name)
}

// Upsert implements vectordata.Collection.
func (c *Collection[K, T]) Upsert(ctx context.Context, values ...T) ([]K, error) {
	if len(values) == 0 {
		return nil, nil
	}
	records := make([]vectordata.Record, len(values))
	keys := make([]K, len(values))
	for i, v := range values {
		r, err := c.mapper.ToRecord(v)
		if err != nil {
			return nil, err
		}
		if keys[i], err = vectordata.KeyOf[K](c.def, r); err != nil {
			return nil, err
		}
		records[i] = r
	}
	vectors, err := vectordata.Embed(ctx, c.def, c.generator, records)
	if err != nil {
		return nil, err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(c.marker(), []byte(c.name)); err != nil {
			return err
		}
		for i, k := range keys {
			key, err := c.recordKey(k)
			if err != nil {
				return err
			}
			val, err := json.Marshal(&vectordata.Candidate[K]{Key: k, Record: records[i], Vectors: vectors[i]})
			if err != nil {
				return fmt.Errorf("%w: encode record %v: %v", vectordata.ErrModel, k, err)
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: upsert into %s: %w", c.name, err)
	}
	log.Debugf("badger: upserted %d records into %s", len(keys), c.name)
	return keys, nil
}

// Get implements vectordata.Collection.
func (c *Collection[K, T]) Get(ctx context.Context, keys ...K) ([]T, error) {
	var found []*vectordata.Candidate[K]
	err := c.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			key, err := c.recordKey(k)
			if err != nil {
				return err
			}
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			cand, err := decode[K](item)
			if err != nil {
				return err
			}
			found = append(found, cand)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.fromCandidates(found, false)
}

// List implements vectordata.Collection.
func (c *Collection[K, T]) List(ctx context.Context, opts vectordata.GetOptions) ([]T, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	for _, ob := range opts.OrderBy {
		if c.def.Field(ob.Field) == nil {
			return nil, fmt.Errorf("%w: unknown order by field %s", vectordata.ErrSearchOptions, ob.Field)
		}
	}
	cands, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	vectordata.SortCandidates(cands, opts.OrderBy)
	return c.fromCandidates(vectordata.Page(cands, opts.Skip, opts.Top), opts.IncludeVectors)
}

// Delete implements vectordata.Collection.
func (c *Collection[K, T]) Delete(ctx context.Context, keys ...K) error {
	return c.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			key, err := c.recordKey(k)
			if err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search implements vectordata.Searcher with a linear scan over the collection.
func (c *Collection[K, T]) Search(ctx context.Context, values any, opts ...vectordata.SearchOption) (res *vectordata.SearchResults[T], err error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewVectorSearchSpanName(c.name))
	defer func() { itelemetry.EndSpan(span, err) }()

	o, err := vectordata.NewSearchOptions(opts...)
	if err != nil {
		return nil, err
	}
	field, err := c.def.VectorField(o.VectorProperty)
	if err != nil {
		return nil, err
	}
	pred, err := vectordata.CompileFilter(c.def, o.Filter...)
	if err != nil {
		return nil, err
	}
	query := o.Vector
	if query == nil {
		if query, err = vectordata.VectorFromValues(ctx, field, c.generator, values); err != nil {
			return nil, vectordata.WrapSearchError(err)
		}
	}
	cands, err := c.scan(ctx)
	if err != nil {
		return nil, vectordata.WrapSearchError(err)
	}
	hits, total, err := vectordata.Rank(cands, field, query, pred, o)
	if err != nil {
		return nil, vectordata.WrapSearchError(err)
	}
	return vectordata.ToResults(c.def, c.mapper, hits, total, o)
}

// scan reads every record of the collection in key order.
func (c *Collection[K, T]) scan(ctx context.Context) ([]*vectordata.Candidate[K], error) {
	var out []*vectordata.Candidate[K]
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix()
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			cand, err := decode[K](it.Item())
			if err != nil {
				return err
			}
			out = append(out, cand)
		}
		return nil
	})
	return out, err
}

func decode[K comparable](item *badger.Item) (*vectordata.Candidate[K], error) {
	cand := &vectordata.Candidate[K]{}
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, cand)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", vectordata.ErrSearchExecution, item.Key(), err)
	}
	return cand, nil
}

func (c *Collection[K, T]) fromCandidates(cands []*vectordata.Candidate[K], includeVectors bool) ([]T, error) {
	out := make([]T, 0, len(cands))
	for _, cand := range cands {
		v, err := c.mapper.FromRecord(vectordata.OutputRecord(c.def, cand, includeVectors))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func markerExists(db *badger.DB, name string) (bool, error) {
	var ok bool
	err := db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(markerPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		ok = err == nil
		return err
	})
	return ok, err
}

func deleteCollection(db *badger.DB, name string) error {
	if err := db.DropPrefix([]byte(recordPrefix + name + "/")); err != nil {
		return fmt.Errorf("badger: drop collection %s: %w", name, err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(markerPrefix + name))
	})
}

// Store lists and drops the collections of one database.
type Store struct {
	db *badger.DB
}

var _ vectordata.Store = (*Store)(nil)

// NewStore wraps db.
func NewStore(db *badger.DB) *Store { return &Store{db: db} }

// ListCollectionNames implements vectordata.Store.
func (s *Store) ListCollectionNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(markerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), markerPrefix))
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// CollectionExists implements vectordata.Store.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	return markerExists(s.db, name)
}

// EnsureCollectionDeleted implements vectordata.Store.
func (s *Store) EnsureCollectionDeleted(ctx context.Context, name string) error {
	return deleteCollection(s.db, name)
}
