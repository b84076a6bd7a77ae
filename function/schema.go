//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"reflect"
	"strings"
	"time"
)

// Schema is the subset of JSON Schema used to describe function parameters.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Default              any                `json:"default,omitempty"`
	AdditionalProperties any                `json:"additionalProperties,omitempty"`
}

// Map renders the schema as a plain JSON object, the shape vendor SDKs expect.
func (s *Schema) Map() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	m := map[string]any{}
	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Required) > 0 {
		m["required"] = append([]string(nil), s.Required...)
	}
	if s.Properties != nil {
		props := make(map[string]any, len(s.Properties))
		for k, v := range s.Properties {
			props[k] = v.Map()
		}
		m["properties"] = props
	}
	if s.Items != nil {
		m["items"] = s.Items.Map()
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}
	if s.Default != nil {
		m["default"] = s.Default
	}
	switch ap := s.AdditionalProperties.(type) {
	case nil:
	case *Schema:
		m["additionalProperties"] = ap.Map()
	default:
		m["additionalProperties"] = ap
	}
	return m
}

// SchemaFromMap converts a decoded JSON schema object back into a Schema.
// Unknown keywords are dropped.
func SchemaFromMap(m map[string]any) *Schema {
	if m == nil {
		return nil
	}
	s := &Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = t
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	switch req := m["required"].(type) {
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	case []string:
		s.Required = append(s.Required, req...)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*Schema, len(props))
		for k, v := range props {
			if pm, ok := v.(map[string]any); ok {
				s.Properties[k] = SchemaFromMap(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = SchemaFromMap(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		s.Enum = enum
	}
	s.Default = m["default"]
	return s
}

var timeType = reflect.TypeOf(time.Time{})

// schemaOf generates a schema from a Go type using its json tags.
// Struct fields that are neither pointers nor tagged omitempty are required.
func schemaOf(t reflect.Type) *Schema {
	if t == nil {
		return &Schema{Type: "object"}
	}
	switch t.Kind() {
	case reflect.Ptr:
		return schemaOf(t.Elem())
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &Schema{Type: "array", Items: schemaOf(t.Elem())}
	case reflect.Map:
		return &Schema{Type: "object", AdditionalProperties: schemaOf(t.Elem())}
	case reflect.Struct:
		if t == timeType {
			return &Schema{Type: "string", Description: "RFC 3339 timestamp"}
		}
		s := &Schema{Type: "object", Properties: map[string]*Schema{}}
		for _, f := range structFields(t) {
			fs := schemaOf(f.typ)
			if f.description != "" {
				fs.Description = f.description
			}
			s.Properties[f.name] = fs
			if f.required {
				s.Required = append(s.Required, f.name)
			}
		}
		return s
	default:
		return &Schema{Type: "object"}
	}
}

type structField struct {
	name        string
	description string
	typ         reflect.Type
	required    bool
}

// structFields lists the exported, json-visible fields of t in declaration order.
// A `description` tag documents the field for the model.
func structFields(t reflect.Type) []structField {
	var out []structField
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, omitEmpty := field.Name, false
		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" || p == "omitzero" {
					omitEmpty = true
				}
			}
		}
		out = append(out, structField{
			name:        name,
			description: field.Tag.Get("description"),
			typ:         field.Type,
			required:    field.Type.Kind() != reflect.Ptr && !omitEmpty,
		})
	}
	return out
}
