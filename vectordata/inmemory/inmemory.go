//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory vector store with exact linear-scan search and a
// bleve keyword index for hybrid search.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-kernel-go/embedder"
	itelemetry "trpc.group/trpc-go/trpc-kernel-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-kernel-go/log"
	"trpc.group/trpc-go/trpc-kernel-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-kernel-go/vectordata"
)

var _ vectordata.HybridSearcher[vectordata.Record] = (*Collection[string, vectordata.Record])(nil)
var _ vectordata.Collection[string, vectordata.Record] = (*Collection[string, vectordata.Record])(nil)

type options struct {
	def       *vectordata.Definition
	generator embedder.EmbeddingGenerator
	mapper    any
}

// Option configures a collection.
type Option func(*options)

// WithDefinition sets the record definition. Struct data models derive it from their
// `vectorstore` tags when it is not given.
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

// Collection keeps records in memory under a read-write lock.
type Collection[K comparable, T any] struct {
	name      string
	def       *vectordata.Definition
	mapper    vectordata.Mapper[T]
	generator embedder.EmbeddingGenerator

	mu      sync.RWMutex
	exists  bool
	records map[K]*vectordata.Candidate[K]
	// order holds keys in first insertion order; it breaks score ties.
	order    []K
	keywords *keywordIndex[K]
}

// NewCollection creates a collection of T keyed by K.
func NewCollection[K comparable, T any](name string, opts ...Option) (*Collection[K, T], error) {
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
	return &Collection[K, T]{
		name:      name,
		def:       def,
		mapper:    mapper,
		generator: o.generator,
		records:   map[K]*vectordata.Candidate[K]{},
	}, nil
}

// Name implements vectordata.Collection.
func (c *Collection[K, T]) Name() string { return c.name }

// Definition returns the record definition.
func (c *Collection[K, T]) Definition() *vectordata.Definition { return c.def }

// SupportedSearchTypes implements vectordata.Searcher.
func (c *Collection[K, T]) SupportedSearchTypes() []vectordata.SearchType {
	return []vectordata.SearchType{vectordata.SearchVector, vectordata.SearchKeywordHybrid}
}

// EnsureCollectionExists implements vectordata.Collection.
func (c *Collection[K, T]) EnsureCollectionExists(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked()
}

func (c *Collection[K, T]) ensureLocked() error {
	if c.exists {
		return nil
	}
	if fields := fullTextFields(c.def); len(fields) > 0 {
		idx, err := newKeywordIndex[K](fields)
		if err != nil {
			return err
		}
		c.keywords = idx
	}
	c.exists = true
	log.Debugf("inmemory: collection %s created", c.name)
	return nil
}

// CollectionExists implements vectordata.Collection.
func (c *Collection[K, T]) CollectionExists(ctx context.Context) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exists, nil
}

// EnsureCollectionDeleted implements vectordata.Collection.
func (c *Collection[K, T]) EnsureCollectionDeleted(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = map[K]*vectordata.Candidate[K]{}
	c.order = nil
	c.exists = false
	if c.keywords != nil {
		err := c.keywords.close()
		c.keywords = nil
		if err != nil {
			return fmt.Errorf("inmemory: close keyword index: %w", err)
		}
	}
	return nil
}

// Upsert implements vectordata.Collection. The collection is created on first use.
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
		k, err := vectordata.KeyOf[K](c.def, r)
		if err != nil {
			return nil, err
		}
		records[i], keys[i] = r, k
	}
	vectors, err := vectordata.Embed(ctx, c.def, c.generator, records)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return nil, err
	}
	for i, k := range keys {
		if _, ok := c.records[k]; !ok {
			c.order = append(c.order, k)
		}
		c.records[k] = &vectordata.Candidate[K]{Key: k, Record: records[i], Vectors: vectors[i]}
		if c.keywords != nil {
			if err := c.keywords.index(k, records[i]); err != nil {
				return nil, err
			}
		}
	}
	log.Debugf("inmemory: upserted %d records into %s", len(keys), c.name)
	return keys, nil
}

// Get implements vectordata.Collection.
func (c *Collection[K, T]) Get(ctx context.Context, keys ...K) ([]T, error) {
	return c.GetWithVectors(ctx, false, keys...)
}

// GetWithVectors is Get with control over vector fields in the results.
func (c *Collection[K, T]) GetWithVectors(ctx context.Context, includeVectors bool, keys ...K) ([]T, error) {
	c.mu.RLock()
	var found []*vectordata.Candidate[K]
	for _, k := range keys {
		if cand, ok := c.records[k]; ok {
			found = append(found, cand)
		}
	}
	c.mu.RUnlock()
	return c.fromCandidates(found, includeVectors)
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
	cands := c.snapshot()
	vectordata.SortCandidates(cands, opts.OrderBy)
	return c.fromCandidates(vectordata.Page(cands, opts.Skip, opts.Top), opts.IncludeVectors)
}

// Delete implements vectordata.Collection.
func (c *Collection[K, T]) Delete(ctx context.Context, keys ...K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := map[K]bool{}
	for _, k := range keys {
		if _, ok := c.records[k]; !ok {
			continue
		}
		delete(c.records, k)
		removed[k] = true
		if c.keywords != nil {
			if err := c.keywords.remove(k); err != nil {
				return err
			}
		}
	}
	if len(removed) == 0 {
		return nil
	}
	order := c.order[:0]
	for _, k := range c.order {
		if !removed[k] {
			order = append(order, k)
		}
	}
	c.order = order
	return nil
}

// Search implements vectordata.Searcher.
func (c *Collection[K, T]) Search(ctx context.Context, values any, opts ...vectordata.SearchOption) (*vectordata.SearchResults[T], error) {
	ctx, span := c.startSpan(ctx)
	res, err := c.search(ctx, values, false, nil, opts)
	itelemetry.EndSpan(span, err)
	return res, err
}

// HybridSearch implements vectordata.HybridSearcher. Vector scores are fused with BM25
// scores of keywords over the full text field.
func (c *Collection[K, T]) HybridSearch(ctx context.Context, values any, keywords []string, opts ...vectordata.SearchOption) (*vectordata.SearchResults[T], error) {
	ctx, span := c.startSpan(ctx)
	res, err := c.search(ctx, values, true, keywords, opts)
	itelemetry.EndSpan(span, err)
	return res, err
}

func (c *Collection[K, T]) startSpan(ctx context.Context) (context.Context, oteltrace.Span) {
	return trace.Tracer.Start(ctx, itelemetry.NewVectorSearchSpanName(c.name), oteltrace.WithAttributes(
		attribute.String(itelemetry.KeyCollectionName, c.name),
	))
}

func (c *Collection[K, T]) search(ctx context.Context, values any, hybrid bool, keywords []string, opts []vectordata.SearchOption) (*vectordata.SearchResults[T], error) {
	o, err := vectordata.NewSearchOptions(opts...)
	if err != nil {
		return nil, err
	}
	field, err := c.def.VectorField(o.VectorProperty)
	if err != nil {
		return nil, err
	}
	var textField *vectordata.Field
	if hybrid {
		if textField, err = c.def.FullTextField(o.AdditionalProperty); err != nil {
			return nil, err
		}
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

	hits, err := vectordata.Score(c.snapshot(), field, query, pred)
	if err != nil {
		return nil, vectordata.WrapSearchError(err)
	}
	if hybrid {
		scores, err := c.keywordScores(ctx, textField.Name, keywords)
		if err != nil {
			return nil, vectordata.WrapSearchError(err)
		}
		hits = vectordata.FuseHybrid(hits, scores, o.HybridAlpha(), field.DistanceFunction.HigherIsBetter())
	}
	total := len(hits)
	log.Debugf("inmemory: search on %s matched %d records", c.name, total)
	return vectordata.ToResults(c.def, c.mapper, vectordata.Page(hits, o.Skip, o.Top), total, o)
}

func (c *Collection[K, T]) keywordScores(ctx context.Context, field string, keywords []string) (map[K]float64, error) {
	c.mu.RLock()
	idx := c.keywords
	c.mu.RUnlock()
	if idx == nil {
		return nil, nil
	}
	return idx.search(ctx, field, strings.Join(keywords, " "))
}

// snapshot returns the candidates in insertion order.
func (c *Collection[K, T]) snapshot() []*vectordata.Candidate[K] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*vectordata.Candidate[K], 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.records[k])
	}
	return out
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

func fullTextFields(def *vectordata.Definition) []string {
	var out []string
	for _, f := range def.DataFields() {
		if f.IsFullTextIndexed {
			out = append(out, f.Name)
		}
	}
	return out
}

// keywordIndex is a bleve in-memory index over the full text fields of a collection.
type keywordIndex[K comparable] struct {
	fields []string
	bidx   bleve.Index
	mu     sync.Mutex
	keys   map[string]K
}

func newKeywordIndex[K comparable](fields []string) (*keywordIndex[K], error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("inmemory: create keyword index: %w", err)
	}
	return &keywordIndex[K]{fields: fields, bidx: idx, keys: map[string]K{}}, nil
}

func (ki *keywordIndex[K]) index(k K, r vectordata.Record) error {
	id, err := vectordata.KeyString(k)
	if err != nil {
		return err
	}
	doc := make(map[string]any, len(ki.fields))
	for _, f := range ki.fields {
		if s, ok := r[f].(string); ok {
			doc[f] = s
		}
	}
	ki.mu.Lock()
	ki.keys[id] = k
	ki.mu.Unlock()
	if err := ki.bidx.Index(id, doc); err != nil {
		return fmt.Errorf("inmemory: index %s: %w", id, err)
	}
	return nil
}

func (ki *keywordIndex[K]) remove(k K) error {
	id, err := vectordata.KeyString(k)
	if err != nil {
		return err
	}
	ki.mu.Lock()
	delete(ki.keys, id)
	ki.mu.Unlock()
	return ki.bidx.Delete(id)
}

func (ki *keywordIndex[K]) search(ctx context.Context, field, text string) (map[K]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	count, err := ki.bidx.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	res, err := ki.bidx.SearchInContext(ctx, bleve.NewSearchRequestOptions(q, int(count), 0, false))
	if err != nil {
		return nil, err
	}
	ki.mu.Lock()
	defer ki.mu.Unlock()
	out := make(map[K]float64, len(res.Hits))
	for _, hit := range res.Hits {
		if k, ok := ki.keys[hit.ID]; ok {
			out[k] = hit.Score
		}
	}
	return out, nil
}

func (ki *keywordIndex[K]) close() error { return ki.bidx.Close() }

// Store groups named in-memory collections.
type Store struct {
	defaults    []Option
	mu          sync.Mutex
	collections map[string]managed
}

type managed interface {
	CollectionExists(ctx context.Context) (bool, error)
	EnsureCollectionDeleted(ctx context.Context) error
}

var _ vectordata.Store = (*Store)(nil)

// NewStore creates a store. opts apply to every collection it creates, before the
// collection's own options.
func NewStore(opts ...Option) *Store {
	return &Store{defaults: opts, collections: map[string]managed{}}
}

// GetCollection returns the named collection, creating it on first use. Asking for an
// existing name with other type parameters fails with vectordata.ErrModel.
func GetCollection[K comparable, T any](s *Store, name string, opts ...Option) (*Collection[K, T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.collections[name]; ok {
		c, ok := existing.(*Collection[K, T])
		if !ok {
			return nil, fmt.Errorf("%w: collection %s holds %T", vectordata.ErrModel, name, existing)
		}
		return c, nil
	}
	c, err := NewCollection[K, T](name, append(append([]Option(nil), s.defaults...), opts...)...)
	if err != nil {
		return nil, err
	}
	s.collections[name] = c
	return c, nil
}

// ListCollectionNames implements vectordata.Store. Only existing collections are listed.
func (s *Store) ListCollectionNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, c := range s.collections {
		if ok, _ := c.CollectionExists(ctx); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// CollectionExists implements vectordata.Store.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	c, ok := s.collections[name]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return c.CollectionExists(ctx)
}

// EnsureCollectionDeleted implements vectordata.Store.
func (s *Store) EnsureCollectionDeleted(ctx context.Context, name string) error {
	s.mu.Lock()
	c, ok := s.collections[name]
	delete(s.collections, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return c.EnsureCollectionDeleted(ctx)
}
