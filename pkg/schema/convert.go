package schema

import (
	"fmt"
	"sort"
	"strings"
)

// maxDepth bounds recursion through self-referencing definitions.
const maxDepth = 32

// ShortOption configures ToShortSchema.
type ShortOption func(*shortOptions)

type shortOptions struct {
	detailed bool
}

// Detailed inlines property descriptions into the compact notation.
func Detailed() ShortOption {
	return func(o *shortOptions) { o.detailed = true }
}

// ToShortSchema converts an object definition into a ShortSchema. Every
// entry of def["properties"] produces exactly one field.
func ToShortSchema(def Definition, opts ...ShortOption) ShortSchema {
	var o shortOptions
	for _, opt := range opts {
		opt(&o)
	}
	return toShort(def, o, 0)
}

func toShort(def Definition, o shortOptions, depth int) ShortSchema {
	props, _ := def["properties"].(map[string]any)
	required := requiredSet(def["required"])

	out := make(ShortSchema, len(props))
	for name, raw := range props {
		out[name] = toField(raw, required[name], o, depth+1)
	}
	return out
}

func toField(raw any, required bool, o shortOptions, depth int) *Field {
	f := &Field{Type: TypeAny, Required: required}
	switch p := raw.(type) {
	case string:
		f.Type = normalizeType(p, "")
	case map[string]any:
		f.Type = normalizeType(typeOf(p), "")
		if o.detailed {
			f.Description, _ = p["description"].(string)
		}
		if depth >= maxDepth {
			return f
		}
		switch f.Type {
		case TypeObject:
			if _, ok := p["properties"].(map[string]any); ok {
				f.Properties = toShort(p, o, depth)
			}
		case TypeArray:
			if items, ok := p["items"]; ok && items != nil {
				f.Items = toField(items, true, o, depth+1)
			}
		}
	}
	return f
}

// typeOf reads the declared type. Type lists pick the first non-null entry and
// untyped definitions are inferred from properties or items.
func typeOf(p map[string]any) string {
	switch t := p["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != TypeNull {
				return s
			}
		}
		if len(t) > 0 {
			return TypeNull
		}
	case []string:
		for _, s := range t {
			if s != TypeNull {
				return s
			}
		}
	}
	if _, ok := p["properties"]; ok {
		return TypeObject
	}
	if _, ok := p["items"]; ok {
		return TypeArray
	}
	return ""
}

// normalizeType maps JSON-Schema types onto the compact vocabulary.
func normalizeType(t, format string) string {
	switch t {
	case TypeString:
		if format == "date-time" || format == "date" {
			return TypeDate
		}
		return TypeString
	case TypeNumber, "integer":
		return TypeNumber
	case TypeBoolean, TypeObject, TypeArray, TypeNull, TypeDate:
		return t
	default:
		return TypeAny
	}
}

func requiredSet(v any) map[string]bool {
	set := make(map[string]bool)
	switch r := v.(type) {
	case []any:
		for _, name := range r {
			if s, ok := name.(string); ok {
				set[s] = true
			}
		}
	case []string:
		for _, s := range r {
			set[s] = true
		}
	}
	return set
}

// ToFunctionSpec renders a one-line function signature:
//
//	name(description): !arg<type>(desc), parent.child<type>
//
// Required arguments carry a leading "!". Nested objects are flattened into
// dotted arguments.
func ToFunctionSpec(def Definition, name string) string {
	desc, _ := def["description"].(string)
	line := name + parens(desc)
	if args := functionArgs(def, "", 0); len(args) > 0 {
		line += ": " + strings.Join(args, ", ")
	}
	return line
}

// FunctionSpec renders the signature of an action with both an input and an
// output definition: "name(desc): args->(outputDesc): outputArgs".
func FunctionSpec(name string, input, output Definition) string {
	line := ToFunctionSpec(input, name)
	if output == nil {
		return line
	}
	desc, _ := output["description"].(string)
	line += "->" + parens(desc)
	if args := functionArgs(output, "", 0); len(args) > 0 {
		line += ": " + strings.Join(args, ", ")
	}
	return line
}

func functionArgs(def Definition, prefix string, depth int) []string {
	props, _ := def["properties"].(map[string]any)
	if len(props) == 0 || depth >= maxDepth {
		return nil
	}
	required := requiredSet(def["required"])

	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	var args []string
	for _, key := range names {
		path := prefix + key
		p, _ := props[key].(map[string]any)
		if p == nil {
			t, _ := props[key].(string)
			args = append(args, fmt.Sprintf("%s%s<%s>", bang(required[key]), path, normalizeType(t, "")))
			continue
		}
		t := typeOf(p)
		if t == TypeObject {
			if nested, ok := p["properties"].(map[string]any); ok && len(nested) > 0 {
				args = append(args, functionArgs(p, path+".", depth+1)...)
				continue
			}
		}
		format, _ := p["format"].(string)
		desc, _ := p["description"].(string)
		args = append(args, fmt.Sprintf("%s%s<%s>%s", bang(required[key]), path, normalizeType(t, format), parens(desc)))
	}
	return args
}

func bang(required bool) string {
	if required {
		return "!"
	}
	return ""
}

func parens(s string) string {
	if s == "" {
		return ""
	}
	return "(" + s + ")"
}
