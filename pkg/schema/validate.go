package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// ValidateOption configures Validate.
type ValidateOption func(*validateOptions)

type validateOptions struct {
	optional    bool
	path        string
	rejectExtra bool
	stripExtra  bool
}

// AllowMissing tolerates absent fields, even required ones. Present fields
// are still type checked.
func AllowMissing() ValidateOption {
	return func(o *validateOptions) { o.optional = true }
}

// AtPath sets the root path used in error messages. Defaults to "$".
func AtPath(p string) ValidateOption {
	return func(o *validateOptions) { o.path = p }
}

// RejectExtra fails on keys the schema does not declare.
func RejectExtra() ValidateOption {
	return func(o *validateOptions) { o.rejectExtra = true }
}

// StripExtra drops keys the schema does not declare from the result.
func StripExtra() ValidateOption {
	return func(o *validateOptions) { o.stripExtra = true }
}

// Validate checks data against the schema and returns a cleaned copy.
// Fields are visited in sorted order, so the reported path is deterministic
// when several fields fail.
func Validate(s ShortSchema, data any, opts ...ValidateOption) (map[string]any, error) {
	o := validateOptions{path: "$"}
	for _, opt := range opts {
		opt(&o)
	}

	if data == nil {
		data = map[string]any{}
	}
	obj, ok := asObject(data)
	if !ok {
		return nil, &ValidationError{Path: o.path, Reason: "expected object", Value: data}
	}
	return validateObject(s, obj, o.path, &o)
}

func validateObject(s ShortSchema, obj map[string]any, path string, o *validateOptions) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	for _, key := range s.Keys() {
		f := s[key]
		fieldPath := path + "." + key
		v, present := obj[key]
		if !present || v == nil {
			if f.Required && !o.optional {
				return nil, &ValidationError{Path: fieldPath, Reason: "is required"}
			}
			if present {
				out[key] = nil
			}
			continue
		}
		clean, err := validateValue(f, v, fieldPath, o)
		if err != nil {
			return nil, err
		}
		out[key] = clean
	}

	extra := make([]string, 0)
	for k := range obj {
		if _, declared := s[k]; !declared {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		if o.rejectExtra {
			return nil, &ValidationError{Path: path + "." + k, Reason: "is not allowed", Value: obj[k]}
		}
		if !o.stripExtra {
			out[k] = obj[k]
		}
	}
	return out, nil
}

func validateValue(f *Field, v any, path string, o *validateOptions) (any, error) {
	switch f.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return nil, &ValidationError{Path: path, Reason: "expected string", Value: v}
		}
	case TypeDate:
		s, ok := v.(string)
		if !ok || !isDate(s) {
			return nil, &ValidationError{Path: path, Reason: "expected date", Value: v}
		}
	case TypeNumber:
		if !isNumber(v) {
			return nil, &ValidationError{Path: path, Reason: "expected number", Value: v}
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return nil, &ValidationError{Path: path, Reason: "expected boolean", Value: v}
		}
	case TypeNull:
		return nil, &ValidationError{Path: path, Reason: "expected null", Value: v}
	case TypeObject:
		m, ok := asObject(v)
		if !ok {
			return nil, &ValidationError{Path: path, Reason: "expected object", Value: v}
		}
		if len(f.Properties) == 0 {
			return m, nil
		}
		return validateObject(f.Properties, m, path, o)
	case TypeArray:
		list, ok := asList(v)
		if !ok {
			return nil, &ValidationError{Path: path, Reason: "expected array", Value: v}
		}
		if f.Items == nil {
			return list, nil
		}
		out := make([]any, len(list))
		for i, elem := range list {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if elem == nil {
				if f.Items.Required && f.Items.Type != TypeAny {
					return nil, &ValidationError{Path: elemPath, Reason: "is required"}
				}
				continue
			}
			clean, err := validateValue(f.Items, elem, elemPath, o)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	}
	return v, nil
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	}
	return false
}

func isDate(s string) bool {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", time.DateOnly} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
