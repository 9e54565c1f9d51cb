package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// fields reads typed values from a decoded JSON object, keeping the first
// shape error it encounters so callers can check once at the end.
type fields struct {
	obj  map[string]any
	path string
	err  error
}

func (f *fields) fail(key, reason string) {
	if f.err == nil {
		f.err = fmt.Errorf("%s.%s: %s", f.path, key, reason)
	}
}

func (f *fields) absorb(err error) {
	if f.err == nil && err != nil {
		f.err = err
	}
}

// str reads a scalar as text. Numbers and booleans are accepted and
// rendered in their JSON form.
func (f *fields) str(key string, required bool) string {
	v, ok := f.obj[key]
	if !ok || v == nil {
		if required {
			f.fail(key, "missing")
		}
		return ""
	}
	switch t := v.(type) {
	case string:
		if required && t == "" {
			f.fail(key, "empty")
		}
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	f.fail(key, "expected string")
	return ""
}

// boolean reads a flag. Missing or null is false; "true"/"false" strings
// are accepted.
func (f *fields) boolean(key string) bool {
	v, ok := f.obj[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
		switch t {
		case "是":
			return true
		case "否":
			return false
		}
	}
	f.fail(key, "expected boolean")
	return false
}

// number reads a numeric value; numeric strings are accepted. Missing or
// null is zero.
func (f *fields) number(key string) float64 {
	v, ok := f.obj[key]
	if !ok || v == nil {
		return 0
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = t
	default:
		f.fail(key, "expected number")
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.fail(key, "expected number")
		return 0
	}
	return n
}

// object reads an optional nested object. Missing or null yields nil.
func (f *fields) object(key string) map[string]any {
	v, ok := f.obj[key]
	if !ok || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		f.fail(key, "expected object")
		return nil
	}
	return m
}

// strings reads a list of scalars as text. Missing or null yields an
// empty list.
func (f *fields) strings(key string) []string {
	out := []string{}
	v, ok := f.obj[key]
	if !ok || v == nil {
		return out
	}
	list, ok := v.([]any)
	if !ok {
		f.fail(key, "expected list")
		return out
	}
	for i, item := range list {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case json.Number:
			out = append(out, t.String())
		default:
			f.fail(fmt.Sprintf("%s[%d]", key, i), "expected string")
			return out
		}
	}
	return out
}

// object reads a top-level object member.
func object(obj map[string]any, key, prefix string, required bool) (map[string]any, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		if required {
			return nil, fmt.Errorf("%s%s: missing", prefix, key)
		}
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s%s: expected object", prefix, key)
	}
	return m, nil
}

// objectList reads a list of objects. A required key must be present; a
// null value is treated as an empty list either way.
func objectList(obj map[string]any, key string, required bool) ([]map[string]any, error) {
	v, ok := obj[key]
	if !ok {
		if required {
			return nil, fmt.Errorf("%s: missing", key)
		}
		return []map[string]any{}, nil
	}
	if v == nil {
		return []map[string]any{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected list", key)
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected object", key, i)
		}
		out = append(out, m)
	}
	return out, nil
}
