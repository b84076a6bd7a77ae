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
	"fmt"
	"reflect"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-kernel-go/log"
)

// Filter operators.
const (
	OperatorAnd                = "and"
	OperatorOr                 = "or"
	OperatorEqual              = "eq"
	OperatorNotEqual           = "ne"
	OperatorGreaterThan        = "gt"
	OperatorGreaterThanOrEqual = "gte"
	OperatorLessThan           = "lt"
	OperatorLessThanOrEqual    = "lte"
	OperatorIn                 = "in"
	OperatorNotIn              = "not in"
	OperatorLike               = "like"
	OperatorNotLike            = "not like"
	OperatorBetween            = "between"
	// OperatorContains matches list fields holding Value.
	OperatorContains = "contains"
)

// Condition is one node of a filter tree.
//
// For "and" and "or" Value is a []*Condition. For "in" and "not in" Value is a slice.
// For "between" Value is a slice of two bounds. For "like" Value is a SQL LIKE pattern
// using % and _.
type Condition struct {
	Field    string
	Operator string
	Value    any
}

// Eq builds an equality condition.
func Eq(field string, value any) *Condition {
	return &Condition{Field: field, Operator: OperatorEqual, Value: value}
}

// And combines conditions.
func And(conds ...*Condition) *Condition {
	return &Condition{Operator: OperatorAnd, Value: conds}
}

// Or combines conditions.
func Or(conds ...*Condition) *Condition {
	return &Condition{Operator: OperatorOr, Value: conds}
}

// Predicate reports whether a record passes a compiled filter.
type Predicate func(Record) bool

// CompileFilter compiles conditions joined by AND. Field names are checked against def
// when it is not nil. No conditions compile to a predicate accepting everything.
func CompileFilter(def *Definition, conds ...*Condition) (Predicate, error) {
	c := &filterCompiler{def: def}
	var preds []Predicate
	for _, cond := range conds {
		p, err := c.compile(cond)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchOptions, err)
		}
		preds = append(preds, p)
	}
	return func(r Record) (ok bool) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("panic in filter predicate: %v\n%s", rec, debug.Stack())
				ok = false
			}
		}()
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}, nil
}

type filterCompiler struct {
	def *Definition
}

func (c *filterCompiler) compile(cond *Condition) (Predicate, error) {
	if cond == nil {
		return nil, fmt.Errorf("nil condition")
	}
	switch cond.Operator {
	case OperatorAnd, OperatorOr:
		return c.logical(cond)
	case OperatorEqual, OperatorNotEqual, OperatorGreaterThan, OperatorGreaterThanOrEqual,
		OperatorLessThan, OperatorLessThanOrEqual:
		if err := c.checkField(cond.Field); err != nil {
			return nil, err
		}
		return comparison(cond.Field, cond.Operator, cond.Value), nil
	case OperatorIn, OperatorNotIn:
		return c.in(cond)
	case OperatorBetween:
		return c.between(cond)
	case OperatorLike, OperatorNotLike:
		return c.like(cond)
	case OperatorContains:
		if err := c.checkField(cond.Field); err != nil {
			return nil, err
		}
		return func(r Record) bool {
			v := reflect.ValueOf(r[cond.Field])
			if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
				return false
			}
			for i := 0; i < v.Len(); i++ {
				if valuesEqual(v.Index(i).Interface(), cond.Value) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, fmt.Errorf("unsupported operator: %q", cond.Operator)
	}
}

func (c *filterCompiler) checkField(name string) error {
	if name == "" {
		return fmt.Errorf("condition without field")
	}
	if c.def == nil {
		return nil
	}
	f := c.def.Field(name)
	if f == nil {
		return fmt.Errorf("unknown field %s", name)
	}
	if f.Kind == FieldVector {
		return fmt.Errorf("cannot filter on vector field %s", name)
	}
	return nil
}

func (c *filterCompiler) logical(cond *Condition) (Predicate, error) {
	children, ok := cond.Value.([]*Condition)
	if !ok || len(children) == 0 {
		return nil, fmt.Errorf("%s condition needs a non-empty []*Condition value", cond.Operator)
	}
	preds := make([]Predicate, 0, len(children))
	for _, child := range children {
		p, err := c.compile(child)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	isAnd := cond.Operator == OperatorAnd
	return func(r Record) bool {
		for _, p := range preds {
			matched := p(r)
			if !isAnd && matched {
				return true
			}
			if isAnd && !matched {
				return false
			}
		}
		return isAnd
	}, nil
}

func (c *filterCompiler) in(cond *Condition) (Predicate, error) {
	if err := c.checkField(cond.Field); err != nil {
		return nil, err
	}
	s := reflect.ValueOf(cond.Value)
	if s.Kind() != reflect.Slice || s.Len() == 0 {
		return nil, fmt.Errorf("%s operator value must be a non-empty slice: %v", cond.Operator, cond.Value)
	}
	values := make([]any, s.Len())
	for i := range values {
		values[i] = s.Index(i).Interface()
	}
	return func(r Record) bool {
		v, ok := r[cond.Field]
		var found bool
		if ok {
			for _, candidate := range values {
				if valuesEqual(v, candidate) {
					found = true
					break
				}
			}
		}
		if cond.Operator == OperatorIn {
			return found
		}
		return !found
	}, nil
}

func (c *filterCompiler) between(cond *Condition) (Predicate, error) {
	if err := c.checkField(cond.Field); err != nil {
		return nil, err
	}
	v := reflect.ValueOf(cond.Value)
	if v.Kind() != reflect.Slice || v.Len() != 2 {
		return nil, fmt.Errorf("between operator value must be a slice with two elements: %v", cond.Value)
	}
	low := comparison(cond.Field, OperatorGreaterThanOrEqual, v.Index(0).Interface())
	high := comparison(cond.Field, OperatorLessThanOrEqual, v.Index(1).Interface())
	return func(r Record) bool { return low(r) && high(r) }, nil
}

func (c *filterCompiler) like(cond *Condition) (Predicate, error) {
	if err := c.checkField(cond.Field); err != nil {
		return nil, err
	}
	pattern, ok := cond.Value.(string)
	if !ok {
		return nil, fmt.Errorf("like operator requires a string pattern")
	}
	re, err := regexp.Compile(likePatternToRegex(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid like pattern %q: %v", pattern, err)
	}
	return func(r Record) bool {
		s, ok := r[cond.Field].(string)
		if !ok {
			return cond.Operator == OperatorNotLike
		}
		return re.MatchString(s) == (cond.Operator == OperatorLike)
	}, nil
}

func likePatternToRegex(pattern string) string {
	pattern = regexp.QuoteMeta(pattern)
	pattern = strings.ReplaceAll(pattern, `%`, ".*")
	pattern = strings.ReplaceAll(pattern, `_`, ".")
	return "^" + pattern + "$"
}

// comparison evaluates eq/ne/gt/gte/lt/lte. Missing fields only match ne.
func comparison(field, op string, want any) Predicate {
	return func(r Record) bool {
		got, ok := r[field]
		if !ok || got == nil {
			if want == nil {
				return op == OperatorEqual
			}
			return op == OperatorNotEqual
		}
		cmp, ok := compareValues(got, want)
		if !ok {
			if op == OperatorNotEqual {
				return true
			}
			log.Debugf("vectordata: cannot compare %v (%T) with %v (%T)", got, got, want, want)
			return false
		}
		switch op {
		case OperatorEqual:
			return cmp == 0
		case OperatorNotEqual:
			return cmp != 0
		case OperatorGreaterThan:
			return cmp > 0
		case OperatorGreaterThanOrEqual:
			return cmp >= 0
		case OperatorLessThan:
			return cmp < 0
		case OperatorLessThanOrEqual:
			return cmp <= 0
		}
		return false
	}
}

func valuesEqual(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of the same family: numbers, strings, bools and
// times. Times may also be given as RFC 3339 strings.
func compareValues(a, b any) (int, bool) {
	if an, ok := toFloat64(a); ok {
		bn, ok := toFloat64(b)
		if !ok {
			return 0, false
		}
		return compareOrdered(an, bn), true
	}
	switch av := a.(type) {
	case string:
		if bt, ok := b.(time.Time); ok {
			at, err := time.Parse(time.RFC3339Nano, av)
			if err != nil {
				return 0, false
			}
			return at.Compare(bt), true
		}
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bs), true
	case bool:
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bb:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return av.Compare(bv), true
		case string:
			bt, err := time.Parse(time.RFC3339Nano, bv)
			if err != nil {
				return 0, false
			}
			return av.Compare(bt), true
		}
	}
	return 0, false
}

func compareOrdered[T int | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat64(value any) (float64, bool) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}
