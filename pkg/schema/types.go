package schema

import (
	"sort"
	"strings"
)

// Type names understood by the compact notation.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
	TypeDate    = "date"
	TypeAny     = "any"
)

// Definition is a JSON-Schema-like document decoded into plain Go values.
type Definition = map[string]any

// Field is one entry of a ShortSchema.
type Field struct {
	Type        string
	Required    bool
	Unique      bool
	Ref         string // collection referenced by "->"
	Description string

	// Properties holds nested fields when Type is object.
	Properties ShortSchema
	// Items describes elements when Type is array.
	Items *Field
}

// ShortSchema maps field names to their fields.
type ShortSchema map[string]*Field

// Token renders the field in compact notation, e.g. "string!" or
// "string?^->users". Nested object and array structure is not included.
func (f *Field) Token() string {
	var b strings.Builder
	b.WriteString(f.Type)
	if f.Required {
		b.WriteByte('!')
	} else {
		b.WriteByte('?')
	}
	if f.Unique {
		b.WriteByte('^')
	}
	if f.Ref != "" {
		b.WriteString("->")
		b.WriteString(f.Ref)
	}
	return b.String()
}

// Keys returns the field names in sorted order.
func (s ShortSchema) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the schema.
func (s ShortSchema) Clone() ShortSchema {
	if s == nil {
		return nil
	}
	out := make(ShortSchema, len(s))
	for k, f := range s {
		out[k] = f.clone()
	}
	return out
}

func (f *Field) clone() *Field {
	if f == nil {
		return nil
	}
	c := *f
	c.Properties = f.Properties.Clone()
	c.Items = f.Items.clone()
	return &c
}

// Spec renders the schema as a function-spec argument list:
// "!email<string>(unique), owner<string>(references users), tags<array of string>".
func (s ShortSchema) Spec() string {
	return strings.Join(s.specArgs(""), ", ")
}

func (s ShortSchema) specArgs(prefix string) []string {
	var args []string
	for _, name := range s.Keys() {
		f := s[name]
		if f == nil {
			continue
		}
		path := prefix + name
		if f.Type == TypeObject && len(f.Properties) > 0 {
			args = append(args, f.Properties.specArgs(path+".")...)
			continue
		}
		var b strings.Builder
		if f.Required {
			b.WriteByte('!')
		}
		b.WriteString(path)
		b.WriteByte('<')
		b.WriteString(f.Type)
		if f.Type == TypeArray && f.Items != nil {
			b.WriteString(" of ")
			b.WriteString(f.Items.Type)
		}
		b.WriteByte('>')

		var notes []string
		if f.Description != "" {
			notes = append(notes, f.Description)
		}
		if f.Unique {
			notes = append(notes, "unique")
		}
		if f.Ref != "" {
			notes = append(notes, "references "+f.Ref)
		}
		if len(notes) > 0 {
			b.WriteString("(" + strings.Join(notes, "; ") + ")")
		}
		args = append(args, b.String())
	}
	return args
}
