//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-kernel-go/function"
	"trpc.group/trpc-go/trpc-kernel-go/vectordata"
)

type note struct {
	ID     string    `json:"id" vectorstore:"key"`
	Topic  string    `json:"topic" vectorstore:"data,indexed"`
	Stars  int       `json:"stars" vectorstore:"data"`
	Vector []float32 `json:"vector" vectorstore:"vector,dimensions=3,distance=cosine_distance"`
}

func openCollection(t *testing.T) *Collection[string, *note] {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c, err := NewCollection[string, *note](db, "notes")
	require.NoError(t, err)
	return c
}

func TestCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t)

	exists, err := c.CollectionExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	keys, err := c.Upsert(ctx,
		&note{ID: "a", Topic: "go", Stars: 3, Vector: []float32{1, 0, 0}},
		&note{ID: "b", Topic: "rust", Stars: 5, Vector: []float32{0, 1, 0}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	exists, err = c.CollectionExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := c.Get(ctx, "b", "zz")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Stars)
	assert.Nil(t, got[0].Vector)

	listed, err := c.List(ctx, vectordata.GetOptions{OrderBy: []vectordata.OrderBy{{Field: "stars"}}, IncludeVectors: true})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "b", listed[0].ID)
	assert.Equal(t, []float32{0, 1, 0}, listed[0].Vector)

	require.NoError(t, c.Delete(ctx, "a", "missing"))
	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got)

	store := NewStore(c.db)
	names, err := store.ListCollectionNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes"}, names)

	require.NoError(t, store.EnsureCollectionDeleted(ctx, "notes"))
	exists, err = store.CollectionExists(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, exists)
	listed, err = c.List(ctx, vectordata.GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestCollectionSearch(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t)
	_, err := c.Upsert(ctx,
		&note{ID: "a", Topic: "go", Vector: []float32{1, 0, 0}},
		&note{ID: "b", Topic: "go", Vector: []float32{0.8, 0.2, 0.1}},
		&note{ID: "c", Topic: "rust", Vector: []float32{0, 0, 1}},
	)
	require.NoError(t, err)

	res, err := c.Search(ctx, []float32{1, 0, 0}, vectordata.WithTotalCount())
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "a", res.Results[0].Record.ID)
	assert.Equal(t, "b", res.Results[1].Record.ID)
	assert.InDelta(t, 0.0, *res.Results[0].Score, 1e-6)
	assert.Equal(t, 3, *res.TotalCount)

	res, err = c.Search(ctx, []float32{0, 0, 1}, vectordata.WithFilter(vectordata.Eq("topic", "go")), vectordata.WithTop(1))
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "b", res.Results[0].Record.ID)

	_, err = c.Search(ctx, "text without generator")
	assert.ErrorIs(t, err, vectordata.ErrSearchOptions)

	_, err = vectordata.NewSearchFunction[*note](c, vectordata.WithSearchType[*note](vectordata.SearchKeywordHybrid))
	assert.ErrorIs(t, err, vectordata.ErrOperationNotSupported)

	fn, err := vectordata.NewSearchFunction[*note](c, vectordata.WithStringMapper[*note](func(r *vectordata.SearchResult[*note]) string {
		return r.Record.ID
	}))
	require.NoError(t, err)
	out, err := fn.Invoke(ctx, function.Arguments{"query": []float32{0, 0, 1}, "top": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, out.Value)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	c, err := NewCollection[string, *note](db, "notes")
	require.NoError(t, err)
	_, err = c.Upsert(ctx, &note{ID: "a", Topic: "go", Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	c, err = NewCollection[string, *note](db, "notes")
	require.NoError(t, err)
	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "go", got[0].Topic)
}

func TestNewCollectionValidation(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	_, err = NewCollection[string, *note](db, "a/b")
	assert.ErrorIs(t, err, vectordata.ErrModel)
	_, err = NewCollection[string, vectordata.Record](db, "records")
	assert.ErrorIs(t, err, vectordata.ErrModel)
}
