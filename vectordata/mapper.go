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
	"encoding/json"
	"fmt"
	"reflect"
)

// Record is the storage form of a data model: field name to value.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Mapper converts between a data model and records.
type Mapper[T any] interface {
	ToRecord(v T) (Record, error)
	FromRecord(r Record) (T, error)
}

// MapMapper stores records as they are.
type MapMapper struct{}

// ToRecord implements Mapper.
func (MapMapper) ToRecord(v Record) (Record, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil record", ErrModel)
	}
	return v.Clone(), nil
}

// FromRecord implements Mapper.
func (MapMapper) FromRecord(r Record) (Record, error) { return r.Clone(), nil }

// StructMapper maps struct data models (or pointers to them) through the fields of a
// definition, matched by json name.
type StructMapper[T any] struct {
	def     *Definition
	typ     reflect.Type
	ptr     bool
	indexes map[string]int
}

// NewStructMapper builds a mapper for T. A nil def is derived from T's tags.
func NewStructMapper[T any](def *Definition) (*StructMapper[T], error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, fmt.Errorf("%w: struct mapper needs a concrete type", ErrModel)
	}
	ptr := t.Kind() == reflect.Pointer
	if ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrModel, t)
	}
	if def == nil {
		d, err := DefinitionFromType(t)
		if err != nil {
			return nil, err
		}
		def = d
	}
	m := &StructMapper[T]{def: def, typ: t, ptr: ptr, indexes: map[string]int{}}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		m.indexes[jsonName(sf)] = i
	}
	for _, f := range def.Fields {
		if _, ok := m.indexes[f.Name]; !ok {
			return nil, fmt.Errorf("%w: %s has no field for %s", ErrModel, t, f.Name)
		}
	}
	return m, nil
}

// Definition returns the definition used by the mapper.
func (m *StructMapper[T]) Definition() *Definition { return m.def }

// ToRecord implements Mapper.
func (m *StructMapper[T]) ToRecord(v T) (Record, error) {
	rv := reflect.ValueOf(v)
	if m.ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil record", ErrModel)
		}
		rv = rv.Elem()
	}
	r := make(Record, len(m.def.Fields))
	for _, f := range m.def.Fields {
		r[f.Name] = rv.Field(m.indexes[f.Name]).Interface()
	}
	return r, nil
}

// FromRecord implements Mapper. Values that are not directly assignable are converted
// through JSON, so decoded records map back onto typed fields.
func (m *StructMapper[T]) FromRecord(r Record) (T, error) {
	var zero T
	pv := reflect.New(m.typ)
	sv := pv.Elem()
	for _, f := range m.def.Fields {
		val, ok := r[f.Name]
		if !ok || val == nil {
			continue
		}
		fv := sv.Field(m.indexes[f.Name])
		if _, isText := val.(string); f.Kind == FieldVector && fv.Kind() == reflect.String && !isText {
			// A text field embedded on upsert cannot hold the generated vector.
			continue
		}
		if err := assign(fv, val); err != nil {
			return zero, fmt.Errorf("%w: field %s: %v", ErrModel, f.Name, err)
		}
	}
	if m.ptr {
		return pv.Interface().(T), nil
	}
	return sv.Interface().(T), nil
}

func assign(dst reflect.Value, val any) error {
	v := reflect.ValueOf(val)
	if v.Type().AssignableTo(dst.Type()) {
		dst.Set(v)
		return nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst.Addr().Interface())
}

// ResolveModel settles the definition and mapper of a collection of T. A nil def is
// derived from T's struct tags; a nil mapper defaults to MapMapper for Record and to a
// StructMapper otherwise. A non-nil mapper must implement Mapper[T].
func ResolveModel[T any](def *Definition, mapper any) (*Definition, Mapper[T], error) {
	if def == nil {
		var zero T
		if _, isRecord := any(zero).(Record); isRecord {
			return nil, nil, fmt.Errorf("%w: record collections need a definition", ErrModel)
		}
		t := reflect.TypeOf(zero)
		if t == nil {
			return nil, nil, fmt.Errorf("%w: cannot derive a definition from an interface type", ErrModel)
		}
		d, err := DefinitionFromType(t)
		if err != nil {
			return nil, nil, err
		}
		def = d
	} else if err := def.Validate(); err != nil {
		return nil, nil, err
	}
	if mapper != nil {
		m, ok := mapper.(Mapper[T])
		if !ok {
			return nil, nil, fmt.Errorf("%w: mapper %T does not map %T", ErrModel, mapper, *new(T))
		}
		return def, m, nil
	}
	if m, ok := any(MapMapper{}).(Mapper[T]); ok {
		return def, m, nil
	}
	sm, err := NewStructMapper[T](def)
	if err != nil {
		return nil, nil, err
	}
	return def, sm, nil
}
