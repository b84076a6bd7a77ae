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
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/embedder"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

type hotel struct {
	ID          string    `json:"id" vectorstore:"key"`
	Name        string    `json:"name" vectorstore:"data,indexed"`
	Description string    `json:"description" vectorstore:"data,full_text"`
	Rating      float64   `json:"rating" vectorstore:"data,indexed"`
	Tags        []string  `json:"tags" vectorstore:"data"`
	Embedding   []float32 `json:"embedding" vectorstore:"vector,dimensions=2,distance=cosine_similarity,index=flat"`
	Ignored     string    `json:"ignored"`
}

func TestDefinitionFromType(t *testing.T) {
	def, err := DefinitionFromType(reflect.TypeOf(hotel{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "description", "rating", "tags", "embedding"}, def.Names())
	assert.Equal(t, "id", def.KeyField().Name)

	vec, err := def.VectorField("")
	require.NoError(t, err)
	assert.Equal(t, 2, vec.Dimensions)
	assert.Equal(t, CosineSimilarity, vec.DistanceFunction)
	assert.Equal(t, IndexFlat, vec.IndexKind)

	ft, err := def.FullTextField("")
	require.NoError(t, err)
	assert.Equal(t, "description", ft.Name)

	_, err = def.VectorField("name")
	assert.ErrorIs(t, err, ErrSearchOptions)
	_, err = def.FullTextField("name")
	assert.ErrorIs(t, err, ErrSearchOptions)
}

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name   string
		fields []*Field
	}{
		{"no fields", nil},
		{"no key", []*Field{{Name: "a", Kind: FieldData}}},
		{"two keys", []*Field{{Name: "a", Kind: FieldKey}, {Name: "b", Kind: FieldKey}}},
		{"duplicate", []*Field{{Name: "a", Kind: FieldKey}, {Name: "a", Kind: FieldData}}},
		{"vector without dimensions", []*Field{{Name: "k", Kind: FieldKey}, {Name: "v", Kind: FieldVector}}},
		{"unknown kind", []*Field{{Name: "k", Kind: FieldKey}, {Name: "v", Kind: "blob"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDefinition(tt.fields...)
			assert.ErrorIs(t, err, ErrModel)
		})
	}
}

func TestDistanceFunctions(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	tests := []struct {
		fn     DistanceFunction
		want   float64
		higher bool
	}{
		{CosineSimilarity, 0, true},
		{CosineDistance, 1, false},
		{DefaultDistance, 1, false},
		{DotProduct, 0, true},
		{EuclideanDistance, math.Sqrt2, false},
		{EuclideanSquaredDistance, 2, false},
		{Manhattan, 2, false},
		{Hamming, 2, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.fn), func(t *testing.T) {
			got, err := tt.fn.Distance(a, b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.higher, tt.fn.HigherIsBetter())
		})
	}

	zero := []float32{0, 0}
	sim, err := CosineSimilarity.Distance(zero, a)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)
	dist, err := CosineDistance.Distance(zero, a)
	require.NoError(t, err)
	assert.Equal(t, 1.0, dist)

	_, err = CosineDistance.Distance(a, []float32{1})
	assert.ErrorIs(t, err, ErrSearchExecution)
	_, err = DistanceFunction("bogus").Distance(a, b)
	assert.ErrorIs(t, err, ErrOperationNotSupported)
}

func TestCompileFilter(t *testing.T) {
	def, err := DefinitionFromType(reflect.TypeOf(hotel{}))
	require.NoError(t, err)
	rec := Record{"id": "h1", "name": "Grand", "rating": 4.5, "tags": []any{"pool", "spa"}}

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"eq", Eq("name", "Grand"), true},
		{"eq int against float", Eq("rating", 4.5), true},
		{"ne", &Condition{Field: "name", Operator: OperatorNotEqual, Value: "Other"}, true},
		{"gt", &Condition{Field: "rating", Operator: OperatorGreaterThan, Value: 4}, true},
		{"lte", &Condition{Field: "rating", Operator: OperatorLessThanOrEqual, Value: 4}, false},
		{"in", &Condition{Field: "name", Operator: OperatorIn, Value: []string{"A", "Grand"}}, true},
		{"not in", &Condition{Field: "name", Operator: OperatorNotIn, Value: []string{"Grand"}}, false},
		{"between", &Condition{Field: "rating", Operator: OperatorBetween, Value: []float64{4, 5}}, true},
		{"like", &Condition{Field: "name", Operator: OperatorLike, Value: "Gr%"}, true},
		{"like single char", &Condition{Field: "name", Operator: OperatorLike, Value: "Gr_"}, false},
		{"not like", &Condition{Field: "name", Operator: OperatorNotLike, Value: "%x%"}, true},
		{"contains", &Condition{Field: "tags", Operator: OperatorContains, Value: "spa"}, true},
		{"and", And(Eq("name", "Grand"), Eq("rating", 3)), false},
		{"or", Or(Eq("name", "Other"), Eq("rating", 4.5)), true},
		{"missing field ne", &Condition{Field: "description", Operator: OperatorNotEqual, Value: "x"}, true},
		{"missing field eq", Eq("description", "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := CompileFilter(def, tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pred(rec))
		})
	}
}

func TestCompileFilterErrors(t *testing.T) {
	def, err := DefinitionFromType(reflect.TypeOf(hotel{}))
	require.NoError(t, err)
	bad := []*Condition{
		nil,
		Eq("unknown", 1),
		Eq("embedding", 1),
		{Field: "name", Operator: "regex", Value: "x"},
		{Operator: OperatorAnd, Value: "x"},
		{Field: "name", Operator: OperatorIn, Value: []string{}},
		{Field: "rating", Operator: OperatorBetween, Value: []int{1}},
		{Field: "name", Operator: OperatorLike, Value: 1},
	}
	for _, cond := range bad {
		_, err := CompileFilter(def, cond)
		assert.ErrorIs(t, err, ErrSearchOptions, "%+v", cond)
	}

	pred, err := CompileFilter(nil)
	require.NoError(t, err)
	assert.True(t, pred(Record{}))
}

func TestCompareTimes(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	pred, err := CompileFilter(nil, &Condition{Field: "at", Operator: OperatorGreaterThan, Value: now.Add(-time.Hour)})
	require.NoError(t, err)
	assert.True(t, pred(Record{"at": now}))
	assert.True(t, pred(Record{"at": now.Format(time.RFC3339)}))
	assert.False(t, pred(Record{"at": now.Add(-2 * time.Hour)}))
}

func TestStructMapper(t *testing.T) {
	m, err := NewStructMapper[*hotel](nil)
	require.NoError(t, err)

	h := &hotel{ID: "h1", Name: "Grand", Rating: 4, Tags: []string{"spa"}, Embedding: []float32{1, 2}, Ignored: "x"}
	rec, err := m.ToRecord(h)
	require.NoError(t, err)
	assert.Equal(t, "Grand", rec["name"])
	assert.NotContains(t, rec, "ignored")

	back, err := m.FromRecord(Record{"id": "h1", "rating": 4, "tags": []any{"spa"}, "embedding": []any{1.0, 2.0}})
	require.NoError(t, err)
	assert.Equal(t, 4.0, back.Rating)
	assert.Equal(t, []string{"spa"}, back.Tags)
	assert.Equal(t, []float32{1, 2}, back.Embedding)

	_, err = m.ToRecord(nil)
	assert.ErrorIs(t, err, ErrModel)
	_, err = NewStructMapper[string](nil)
	assert.ErrorIs(t, err, ErrModel)
}

func TestSearchOptionsValidate(t *testing.T) {
	o, err := NewSearchOptions()
	require.NoError(t, err)
	assert.Equal(t, DefaultTop, o.Top)
	assert.Equal(t, DefaultHybridAlpha, o.HybridAlpha())

	for _, opt := range []SearchOption{WithTop(0), WithSkip(-1), WithAlpha(2)} {
		_, err := NewSearchOptions(opt)
		assert.ErrorIs(t, err, ErrSearchOptions)
	}
}

func fakeEmbedder(dims int) *embedder.Func {
	return &embedder.Func{ID: "fake", Fn: func(_ context.Context, texts []string, s *model.Settings) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			v := make([]float32, dims)
			v[0] = float32(len(text))
			out[i] = v
		}
		return out, nil
	}}
}

func TestEmbed(t *testing.T) {
	def, err := NewDefinition(
		&Field{Name: "id", Kind: FieldKey},
		&Field{Name: "vec", Kind: FieldVector, Dimensions: 2},
	)
	require.NoError(t, err)
	records := []Record{{"id": "a", "vec": []float32{1, 1}}, {"id": "b", "vec": "abc"}, {"id": "c"}}

	_, err = Embed(context.Background(), def, nil, records)
	assert.ErrorIs(t, err, ErrModel)

	vecs, err := Embed(context.Background(), def, fakeEmbedder(2), records)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, vecs[0]["vec"])
	assert.Equal(t, []float32{3, 0}, vecs[1]["vec"])
	assert.Empty(t, vecs[2])

	_, err = Embed(context.Background(), def, fakeEmbedder(3), records[1:2])
	assert.ErrorIs(t, err, ErrModel)
	_, err = Embed(context.Background(), def, nil, []Record{{"id": "x", "vec": []float32{1}}})
	assert.ErrorIs(t, err, ErrModel)

	failing := &embedder.Func{Fn: func(context.Context, []string, *model.Settings) ([][]float32, error) {
		return nil, errors.New("boom")
	}}
	_, err = Embed(context.Background(), def, failing, records[1:2])
	assert.ErrorIs(t, err, ErrSearchExecution)
}

func candidates() []*Candidate[string] {
	return []*Candidate[string]{
		{Key: "a", Record: Record{"id": "a", "group": "x", "vec": []float32{1, 0}}, Vectors: map[string][]float32{"vec": {1, 0}}},
		{Key: "b", Record: Record{"id": "b", "group": "y", "vec": []float32{0, 1}}, Vectors: map[string][]float32{"vec": {0, 1}}},
		{Key: "c", Record: Record{"id": "c", "group": "x", "vec": []float32{1, 1}}, Vectors: map[string][]float32{"vec": {1, 1}}},
		{Key: "d", Record: Record{"id": "d", "group": "x", "vec": []float32{1, 0}}, Vectors: map[string][]float32{"vec": {1, 0}}},
		{Key: "e", Record: Record{"id": "e"}},
	}
}

func TestRank(t *testing.T) {
	f := &Field{Name: "vec", Kind: FieldVector, Dimensions: 2, DistanceFunction: CosineSimilarity}
	opts := &SearchOptions{Top: 2, Skip: 0}

	hits, total, err := Rank(candidates(), f, []float32{1, 0}, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Key)
	assert.Equal(t, "d", hits[1].Key)

	opts.Skip = 2
	hits, _, err = Rank(candidates(), f, []float32{1, 0}, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, keysOf(hits))

	pred, err := CompileFilter(nil, Eq("group", "y"))
	require.NoError(t, err)
	hits, total, err = Rank(candidates(), f, []float32{1, 0}, pred, &SearchOptions{Top: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"b"}, keysOf(hits))

	distance := &Field{Name: "vec", Kind: FieldVector, Dimensions: 2, DistanceFunction: EuclideanDistance}
	hits, _, err = Rank(candidates(), distance, []float32{0, 1}, nil, &SearchOptions{Top: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keysOf(hits))
	assert.Equal(t, 0.0, hits[0].Score)

	_, _, err = Rank(candidates(), f, []float32{1}, nil, opts)
	assert.ErrorIs(t, err, ErrSearchOptions)
}

func keysOf(hits []*Hit[string]) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Key
	}
	return out
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4}
	assert.Equal(t, []int{2, 3}, Page(items, 1, 2))
	assert.Equal(t, []int{3, 4}, Page(items, 2, 0))
	assert.Nil(t, Page(items, 4, 1))
}

func TestFuseHybrid(t *testing.T) {
	hits := []*Hit[string]{
		{Candidate: &Candidate[string]{Key: "a"}, Score: 0.9},
		{Candidate: &Candidate[string]{Key: "b"}, Score: 0.5},
		{Candidate: &Candidate[string]{Key: "c"}, Score: 0.1},
	}
	fused := FuseHybrid(hits, map[string]float64{"c": 10, "b": 2}, 0.4, true)
	assert.Equal(t, []string{"c", "a", "b"}, keysOf(fused))
	assert.InDelta(t, 0.6, fused[0].Score, 1e-9)
	assert.InDelta(t, 0.32, fused[2].Score, 1e-9)

	vectorOnly := FuseHybrid(hits, nil, 1, true)
	assert.Equal(t, []string{"a", "b", "c"}, keysOf(vectorOnly))

	distances := FuseHybrid(hits, nil, 1, false)
	assert.Equal(t, []string{"c", "b", "a"}, keysOf(distances))
}

func TestToResults(t *testing.T) {
	def, err := NewDefinition(
		&Field{Name: "id", Kind: FieldKey},
		&Field{Name: "vec", Kind: FieldVector, Dimensions: 2},
	)
	require.NoError(t, err)
	hits := []*Hit[string]{{Candidate: candidates()[0], Score: 1}}

	res, err := ToResults[string, Record](def, MapMapper{}, hits, 4, &SearchOptions{IncludeTotalCount: true})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.NotContains(t, res.Results[0].Record, "vec")
	assert.Equal(t, 4, *res.TotalCount)
	assert.Equal(t, 1.0, *res.Results[0].Score)

	res, err = ToResults[string, Record](def, MapMapper{}, hits, 4, &SearchOptions{IncludeVectors: true})
	require.NoError(t, err)
	assert.Contains(t, res.Results[0].Record, "vec")
	assert.Nil(t, res.TotalCount)
}

func TestOutputRecord(t *testing.T) {
	def, err := NewDefinition(
		&Field{Name: "id", Kind: FieldKey},
		&Field{Name: "text", Kind: FieldVector, Dimensions: 2},
	)
	require.NoError(t, err)
	c := &Candidate[string]{
		Key:     "a",
		Record:  Record{"id": "a", "text": "sea view"},
		Vectors: map[string][]float32{"text": {1, 0}},
	}

	r := OutputRecord(def, c, true)
	assert.Equal(t, []float32{1, 0}, r["text"])
	assert.Equal(t, "sea view", c.Record["text"])

	r = OutputRecord(def, c, false)
	assert.NotContains(t, r, "text")
	assert.Equal(t, "a", r["id"])
}

func TestWrapSearchError(t *testing.T) {
	assert.Nil(t, WrapSearchError(nil))
	assert.ErrorIs(t, WrapSearchError(errors.New("x")), ErrSearchExecution)
	err := WrapSearchError(ErrSearchOptions)
	assert.ErrorIs(t, err, ErrSearchOptions)
	assert.NotErrorIs(t, err, ErrSearchExecution)
	assert.ErrorIs(t, WrapSearchError(context.Canceled), context.Canceled)
}
