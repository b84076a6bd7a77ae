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
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-kernel-go/embedder"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

// Candidate is a stored record with its embeddings, as scanned by the search engine.
type Candidate[K comparable] struct {
	Key     K                    `json:"key"`
	Record  Record               `json:"record"`
	Vectors map[string][]float32 `json:"vectors,omitempty"`
}

// Hit is a scored candidate.
type Hit[K comparable] struct {
	*Candidate[K]
	Score float64
}

// AsVector returns v as a float32 vector when it holds numbers only.
func AsVector(v any) ([]float32, bool) {
	switch vv := v.(type) {
	case []float32:
		return vv, true
	case []float64:
		out := make([]float32, len(vv))
		for i, x := range vv {
			out[i] = float32(x)
		}
		return out, true
	case []any:
		out := make([]float32, len(vv))
		for i, x := range vv {
			f, ok := toFloat64(x)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

func asText(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func generatorFor(f *Field, fallback embedder.EmbeddingGenerator) embedder.EmbeddingGenerator {
	if f.EmbeddingGenerator != nil {
		return f.EmbeddingGenerator
	}
	return fallback
}

// Embed computes the vectors of every vector field of records. Values that already are
// vectors are used as they are; others are embedded in one batch per field by the field
// generator, or by fallback.
func Embed(ctx context.Context, def *Definition, fallback embedder.EmbeddingGenerator, records []Record) ([]map[string][]float32, error) {
	out := make([]map[string][]float32, len(records))
	for i := range out {
		out[i] = map[string][]float32{}
	}
	for _, f := range def.VectorFields() {
		var (
			texts   []string
			indexes []int
		)
		for i, r := range records {
			val, ok := r[f.Name]
			if !ok || val == nil {
				continue
			}
			if vec, ok := AsVector(val); ok {
				if len(vec) != f.Dimensions {
					return nil, fmt.Errorf("%w: field %s expects %d dimensions, got %d", ErrModel, f.Name, f.Dimensions, len(vec))
				}
				out[i][f.Name] = vec
				continue
			}
			text, err := asText(val)
			if err != nil {
				return nil, fmt.Errorf("%w: field %s: %v", ErrModel, f.Name, err)
			}
			texts = append(texts, text)
			indexes = append(indexes, i)
		}
		if len(texts) == 0 {
			continue
		}
		gen := generatorFor(f, fallback)
		if gen == nil {
			return nil, fmt.Errorf("%w: field %s holds non-vector values and no embedding generator is set", ErrModel, f.Name)
		}
		vecs, err := generate(ctx, gen, f, texts)
		if err != nil {
			return nil, err
		}
		for j, i := range indexes {
			out[i][f.Name] = vecs[j]
		}
	}
	return out, nil
}

// VectorFromValues turns search values into a query vector for field.
func VectorFromValues(ctx context.Context, f *Field, fallback embedder.EmbeddingGenerator, values any) ([]float32, error) {
	if vec, ok := AsVector(values); ok {
		return vec, nil
	}
	if values == nil {
		return nil, fmt.Errorf("%w: search needs values or a vector", ErrSearchOptions)
	}
	gen := generatorFor(f, fallback)
	if gen == nil {
		return nil, fmt.Errorf("%w: no embedding generator for field %s", ErrSearchOptions, f.Name)
	}
	text, err := asText(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchOptions, err)
	}
	vecs, err := generate(ctx, gen, f, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func generate(ctx context.Context, gen embedder.EmbeddingGenerator, f *Field, texts []string) ([][]float32, error) {
	dims := f.Dimensions
	vecs, err := gen.GenerateEmbeddings(ctx, texts, &model.Settings{Dimensions: &dims})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding field %s: %w", ErrSearchExecution, f.Name, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: generator returned %d vectors for %d values", ErrSearchExecution, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != f.Dimensions {
			return nil, fmt.Errorf("%w: field %s expects %d dimensions, generator returned %d",
				ErrModel, f.Name, f.Dimensions, len(v))
		}
	}
	return vecs, nil
}

// Score filters candidates and scores them against query on field. Hits are sorted best
// first; ties keep the candidate order. Candidates without a vector for field are skipped.
func Score[K comparable](cands []*Candidate[K], f *Field, query []float32, pred Predicate) ([]*Hit[K], error) {
	if len(query) != f.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, field %s expects %d",
			ErrSearchOptions, len(query), f.Name, f.Dimensions)
	}
	fn := f.DistanceFunction.Resolve()
	hits := make([]*Hit[K], 0, len(cands))
	for _, c := range cands {
		vec, ok := c.Vectors[f.Name]
		if !ok {
			continue
		}
		if pred != nil && !pred(c.Record) {
			continue
		}
		s, err := fn.Distance(vec, query)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &Hit[K]{Candidate: c, Score: s})
	}
	higher := fn.HigherIsBetter()
	sort.SliceStable(hits, func(i, j int) bool {
		if higher {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Score < hits[j].Score
	})
	return hits, nil
}

// Rank runs Score and pages the hits. The returned total counts hits before paging.
func Rank[K comparable](cands []*Candidate[K], f *Field, query []float32, pred Predicate, opts *SearchOptions) ([]*Hit[K], int, error) {
	hits, err := Score(cands, f, query, pred)
	if err != nil {
		return nil, 0, err
	}
	return Page(hits, opts.Skip, opts.Top), len(hits), nil
}

// Page returns items[skip:skip+top]. Top 0 means no limit.
func Page[T any](items []T, skip, top int) []T {
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if top > 0 && top < len(items) {
		items = items[:top]
	}
	return items
}

// FuseHybrid replaces the vector scores of hits with alpha*vector + (1-alpha)*keyword,
// both min-max normalised to [0, 1], and sorts the hits by the fused score. Distances
// where lower is better are inverted before fusion. Hits without a keyword score get 0
// for the keyword part.
func FuseHybrid[K comparable](hits []*Hit[K], keyword map[K]float64, alpha float64, higherIsBetter bool) []*Hit[K] {
	vec := make([]float64, len(hits))
	kw := make([]float64, len(hits))
	for i, h := range hits {
		vec[i] = h.Score
		kw[i] = keyword[h.Key]
	}
	vec = normalise(vec, higherIsBetter)
	kw = normalise(kw, true)
	out := make([]*Hit[K], len(hits))
	for i, h := range hits {
		out[i] = &Hit[K]{Candidate: h.Candidate, Score: alpha*vec[i] + (1-alpha)*kw[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// normalise maps scores to [0, 1] where 1 is best. Equal scores all map to 1, or to 0
// when they are all zero.
func normalise(scores []float64, higherIsBetter bool) []float64 {
	if len(scores) == 0 {
		return scores
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		switch {
		case hi == lo && (s != 0 || !higherIsBetter):
			out[i] = 1
		case hi == lo:
			out[i] = 0
		case higherIsBetter:
			out[i] = (s - lo) / (hi - lo)
		default:
			out[i] = (hi - s) / (hi - lo)
		}
	}
	return out
}

// OutputRecord returns the record of c as returned to callers: vector fields are
// dropped unless includeVectors is set, in which case they hold the stored vectors,
// generated embeddings included.
func OutputRecord[K comparable](def *Definition, c *Candidate[K], includeVectors bool) Record {
	r := c.Record.Clone()
	for _, f := range def.VectorFields() {
		if !includeVectors {
			delete(r, f.Name)
			continue
		}
		if v, ok := c.Vectors[f.Name]; ok {
			r[f.Name] = append([]float32(nil), v...)
		}
	}
	return r
}

// ToResults maps hits to search results.
func ToResults[K comparable, T any](def *Definition, mapper Mapper[T], hits []*Hit[K], total int, opts *SearchOptions) (*SearchResults[T], error) {
	res := &SearchResults[T]{Results: make([]*SearchResult[T], 0, len(hits))}
	for _, h := range hits {
		v, err := mapper.FromRecord(OutputRecord(def, h.Candidate, opts.IncludeVectors))
		if err != nil {
			return nil, err
		}
		score := h.Score
		res.Results = append(res.Results, &SearchResult[T]{Record: v, Score: &score})
	}
	if opts.IncludeTotalCount {
		res.TotalCount = &total
	}
	return res, nil
}

// WrapSearchError leaves typed vectordata errors and context errors alone and wraps
// everything else as ErrSearchExecution.
func WrapSearchError(err error) error {
	if err == nil {
		return nil
	}
	for _, typed := range []error{ErrSearchExecution, ErrSearchOptions, ErrModel,
		ErrOperationNotSupported, ErrCollectionNotFound, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, typed) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrSearchExecution, err)
}

// KeyOf reads the key of r as K. Keys decoded from JSON are converted back through JSON.
func KeyOf[K comparable](def *Definition, r Record) (K, error) {
	var key K
	name := def.KeyField().Name
	raw, ok := r[name]
	if !ok || raw == nil {
		return key, fmt.Errorf("%w: record without key %s", ErrModel, name)
	}
	if k, ok := raw.(K); ok {
		return k, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return key, fmt.Errorf("%w: key %v: %v", ErrModel, raw, err)
	}
	if err := json.Unmarshal(b, &key); err != nil {
		return key, fmt.Errorf("%w: key %v is not a %T", ErrModel, raw, key)
	}
	return key, nil
}

// KeyString renders a key as the JSON text used for storage ids.
func KeyString[K comparable](k K) (string, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("%w: key %v: %v", ErrModel, k, err)
	}
	return string(b), nil
}

// CheckExactSearch rejects vector fields that need an index the exact linear scan cannot
// provide, and unknown distance functions.
func CheckExactSearch(def *Definition) error {
	for _, f := range def.VectorFields() {
		switch f.IndexKind {
		case "", IndexFlat, IndexDefault:
		default:
			return fmt.Errorf("%w: index kind %s of field %s is not supported", ErrModel, f.IndexKind, f.Name)
		}
		if !f.DistanceFunction.IsValid() {
			return fmt.Errorf("%w: distance function %s of field %s is not supported", ErrModel, f.DistanceFunction, f.Name)
		}
	}
	return nil
}

// SortCandidates orders candidates by orderBy, keeping the current order between equal
// records. Missing values sort before present ones.
func SortCandidates[K comparable](cands []*Candidate[K], orderBy []OrderBy) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(cands, func(i, j int) bool {
		for _, ob := range orderBy {
			cmp := compareAny(cands[i].Record[ob.Field], cands[j].Record[ob.Field])
			if cmp == 0 {
				continue
			}
			if ob.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func compareAny(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
