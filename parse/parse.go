// Package parse recovers JSON values from free-form LLM output.
//
// Decoding never fails loudly: every entry point returns ok=false (or a
// zero value) when nothing usable can be recovered and the caller supplies
// its own default.
package parse

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	fenceRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	objectRe = regexp.MustCompile(`(?s)\{.*\}`)
	arrayRe  = regexp.MustCompile(`(?s)\[.*\]`)
)

// StripFences returns the body of the first markdown code fence, or the
// trimmed input when there is none.
func StripFences(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`"))
}

// Object extracts the outermost JSON object from raw.
func Object(raw string) (map[string]any, bool) {
	text := StripFences(raw)
	if text == "" {
		return nil, false
	}
	if span := objectRe.FindString(text); span != "" {
		var out map[string]any
		if err := json.Unmarshal([]byte(span), &out); err == nil {
			return out, true
		}
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := balancedEnd(text, i, '{', '}')
		if end < 0 {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(text[i:end+1]), &out); err == nil {
			return out, true
		}
	}
	return nil, false
}

// StringArray accepts a bare JSON array, or an object holding one, and keeps
// the non-blank string entries. For objects the first array-valued field in
// key order wins.
func StringArray(raw string) []string {
	text := StripFences(raw)
	if text == "" {
		return []string{}
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") {
		if arr, ok := array(trimmed); ok {
			return StringList(arr)
		}
	}
	if obj, ok := Object(text); ok {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if arr, ok := obj[k].([]any); ok {
				return StringList(arr)
			}
		}
		return []string{}
	}
	if arr, ok := array(text); ok {
		return StringList(arr)
	}
	return []string{}
}

func array(text string) ([]any, bool) {
	if span := arrayRe.FindString(text); span != "" {
		var out []any
		if err := json.Unmarshal([]byte(span), &out); err == nil {
			return out, true
		}
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		end := balancedEnd(text, i, '[', ']')
		if end < 0 {
			continue
		}
		var out []any
		if err := json.Unmarshal([]byte(text[i:end+1]), &out); err == nil {
			return out, true
		}
	}
	return nil, false
}

// balancedEnd walks from start tracking depth and string literals and
// returns the index of the matching close, or -1.
func balancedEnd(text string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// String renders scalars as strings. Numbers use the shortest exact form.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Float accepts numbers and numeric strings.
func Float(v any, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

func Bool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}

// List returns v as an array, or an empty one.
func List(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{}
}

// Map returns v as an object, or nil.
func Map(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func StringList(v any) []string {
	out := []string{}
	for _, item := range List(v) {
		if s := String(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StringMap flattens an object into string values.
func StringMap(v any) map[string]string {
	out := map[string]string{}
	for k, val := range Map(v) {
		if s := String(val); s != "" {
			out[k] = s
		}
	}
	return out
}

// OneOf lowercases s and returns it if allowed contains it, else def.
func OneOf(s string, allowed []string, def string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}
