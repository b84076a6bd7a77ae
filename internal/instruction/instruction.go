//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package instruction renders agent instructions with invocation arguments.
package instruction

import (
	"fmt"
	"regexp"
	"strings"

	"trpc.group/trpc-go/trpc-kernel-go/function"
)

// doubleBraceRE matches {{$name}}, {{name}} and {{name?}}.
var doubleBraceRE = regexp.MustCompile(`\{\{\s*\$?([A-Za-z_][A-Za-z0-9_]*)(\?)?\s*\}\}`)

// singleBraceRE matches {name} and {name?} once double braces are normalized.
var singleBraceRE = regexp.MustCompile(`\{([^{}]+)\}`)

// Render replaces placeholders with argument values:
//
//	{{$city}} or {{city}} or {city}   value of "city", kept as is when missing
//	{city?}                           value of "city", empty when missing
//
// Names must be identifiers, so JSON samples in instructions are left alone.
// Strings are inserted verbatim, other values through function.Result formatting.
func Render(template string, args function.Arguments) string {
	if template == "" || !strings.Contains(template, "{") {
		return template
	}
	template = doubleBraceRE.ReplaceAllString(template, `{$1$2}`)
	return singleBraceRE.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.Trim(match, "{}")
		optional := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")
		if !isIdentifier(name) {
			return match
		}
		if v, ok := args[name]; ok && v != nil {
			return format(v)
		}
		if optional {
			return ""
		}
		return match
	})
}

func format(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s := (&function.Result{Value: v}).String(); s != "" {
		return s
	}
	return fmt.Sprint(v)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
