//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package vectordata provides the vector store abstractions: record definitions, search
// options, filters, and the exact linear-scan search engine shared by the in-process
// collections.
package vectordata

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"trpc.group/trpc-go/trpc-kernel-go/embedder"
)

var (
	// ErrModel reports an invalid record definition or data model.
	ErrModel = errors.New("vectordata: invalid data model")
	// ErrSearchOptions reports invalid search or get options, including filters.
	ErrSearchOptions = errors.New("vectordata: invalid search options")
	// ErrSearchExecution wraps failures raised while a search runs.
	ErrSearchExecution = errors.New("vectordata: search failed")
	// ErrOperationNotSupported is returned for search types a collection does not support.
	ErrOperationNotSupported = errors.New("vectordata: operation not supported")
	// ErrCollectionNotFound is returned when operating on a deleted collection.
	ErrCollectionNotFound = errors.New("vectordata: collection not found")
)

// FieldKind is the role of a field in a record.
type FieldKind string

// Field kinds.
const (
	FieldKey    FieldKind = "key"
	FieldData   FieldKind = "data"
	FieldVector FieldKind = "vector"
)

// IndexKind is the vector index requested for a vector field.
type IndexKind string

// Index kinds.
const (
	IndexHNSW          IndexKind = "hnsw"
	IndexFlat          IndexKind = "flat"
	IndexIVFFlat       IndexKind = "ivf_flat"
	IndexDiskANN       IndexKind = "disk_ann"
	IndexQuantizedFlat IndexKind = "quantized_flat"
	IndexDynamic       IndexKind = "dynamic"
	IndexDefault       IndexKind = "default"
)

// Field describes one field of a record.
type Field struct {
	Name string
	// StorageName is the name used by the backing store. Defaults to Name.
	StorageName       string
	Kind              FieldKind
	Type              string
	IsIndexed         bool
	IsFullTextIndexed bool
	Dimensions        int
	IndexKind         IndexKind
	DistanceFunction  DistanceFunction
	// EmbeddingGenerator embeds non-vector values of a vector field. It overrides the
	// generator of the collection.
	EmbeddingGenerator embedder.EmbeddingGenerator
}

// StoredName returns StorageName, or Name when unset.
func (f *Field) StoredName() string {
	if f.StorageName != "" {
		return f.StorageName
	}
	return f.Name
}

// Definition is the schema of a collection.
type Definition struct {
	Fields []*Field
}

// NewDefinition validates fields: exactly one key field, unique non-empty names, and
// positive dimensions on vector fields.
func NewDefinition(fields ...*Field) (*Definition, error) {
	d := &Definition{Fields: fields}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the definition.
func (d *Definition) Validate() error {
	if d == nil || len(d.Fields) == 0 {
		return fmt.Errorf("%w: definition has no fields", ErrModel)
	}
	seen := map[string]bool{}
	var keys int
	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field without name", ErrModel)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %s", ErrModel, f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case FieldKey:
			keys++
		case FieldVector:
			if f.Dimensions <= 0 {
				return fmt.Errorf("%w: vector field %s needs dimensions > 0", ErrModel, f.Name)
			}
		case FieldData:
		default:
			return fmt.Errorf("%w: field %s has unknown kind %q", ErrModel, f.Name, f.Kind)
		}
	}
	if keys != 1 {
		return fmt.Errorf("%w: definition needs exactly one key field, got %d", ErrModel, keys)
	}
	return nil
}

// KeyField returns the key field.
func (d *Definition) KeyField() *Field {
	for _, f := range d.Fields {
		if f.Kind == FieldKey {
			return f
		}
	}
	return nil
}

// VectorFields returns the vector fields in definition order.
func (d *Definition) VectorFields() []*Field { return d.fieldsOf(FieldVector) }

// DataFields returns the data fields in definition order.
func (d *Definition) DataFields() []*Field { return d.fieldsOf(FieldData) }

func (d *Definition) fieldsOf(kind FieldKind) []*Field {
	var out []*Field
	for _, f := range d.Fields {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Names returns every field name in definition order.
func (d *Definition) Names() []string {
	out := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		out[i] = f.Name
	}
	return out
}

// Field returns the named field or nil.
func (d *Definition) Field(name string) *Field {
	for _, f := range d.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// VectorField returns the named vector field. An empty name selects the first one.
func (d *Definition) VectorField(name string) (*Field, error) {
	if name == "" {
		if vs := d.VectorFields(); len(vs) > 0 {
			return vs[0], nil
		}
		return nil, fmt.Errorf("%w: no vector field", ErrSearchOptions)
	}
	f := d.Field(name)
	if f == nil {
		return nil, fmt.Errorf("%w: unknown field %s", ErrSearchOptions, name)
	}
	if f.Kind != FieldVector {
		return nil, fmt.Errorf("%w: field %s is not a vector field", ErrSearchOptions, name)
	}
	return f, nil
}

// FullTextField returns the named full-text indexed data field. An empty name selects
// the first one.
func (d *Definition) FullTextField(name string) (*Field, error) {
	for _, f := range d.DataFields() {
		if !f.IsFullTextIndexed {
			continue
		}
		if name == "" || f.Name == name {
			return f, nil
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no full text indexed field", ErrSearchOptions)
	}
	return nil, fmt.Errorf("%w: field %s is not full text indexed", ErrSearchOptions, name)
}

// TagName is the struct tag read by DefinitionFromType.
const TagName = "vectorstore"

// DefinitionFromType builds a definition from the `vectorstore` tags of a struct type:
//
//	ID   string    `json:"id" vectorstore:"key"`
//	Text string    `json:"text" vectorstore:"data,indexed,full_text"`
//	Vec  []float32 `json:"vec" vectorstore:"vector,dimensions=3,distance=cosine_similarity,index=flat"`
//
// Field names come from the json tag, else the Go field name. Untagged fields are skipped.
func DefinitionFromType(t reflect.Type) (*Definition, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrModel, t)
	}
	var fields []*Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup(TagName)
		if !ok || !sf.IsExported() {
			continue
		}
		f, err := parseTag(tag)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		f.Name = jsonName(sf)
		f.Type = sf.Type.String()
		fields = append(fields, f)
	}
	return NewDefinition(fields...)
}

func parseTag(tag string) (*Field, error) {
	parts := strings.Split(tag, ",")
	f := &Field{Kind: FieldKind(strings.TrimSpace(parts[0]))}
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
		switch k {
		case "indexed":
			f.IsIndexed = true
		case "full_text":
			f.IsFullTextIndexed = true
		case "dimensions":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%w: bad dimensions %q", ErrModel, v)
			}
			f.Dimensions = n
		case "distance":
			f.DistanceFunction = DistanceFunction(v)
		case "index":
			f.IndexKind = IndexKind(v)
		case "storage":
			f.StorageName = v
		case "":
		default:
			return nil, fmt.Errorf("%w: unknown tag option %q", ErrModel, k)
		}
	}
	return f, nil
}

func jsonName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("json"); ok {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return sf.Name
}
