package schema

import (
	"fmt"
	"strings"
)

// ParseShortSchema reads the compact native notation. Values are either
// tokens ("string!", "number?^", "string->users", "<string!>desc</string!>"),
// nested maps for objects, or one-element lists for arrays.
func ParseShortSchema(raw map[string]any) (ShortSchema, error) {
	return parseObject(raw, "$", 0)
}

// MustParseShortSchema is like ParseShortSchema but panics on error. It is
// meant for package-level schema literals.
func MustParseShortSchema(raw map[string]any) ShortSchema {
	s, err := ParseShortSchema(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func parseObject(raw map[string]any, path string, depth int) (ShortSchema, error) {
	if depth >= maxDepth {
		return nil, fmt.Errorf("%w: %s nests too deeply", ErrInvalidNotation, path)
	}
	out := make(ShortSchema, len(raw))
	for key, v := range raw {
		f, err := parseValue(v, path+"."+key, depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = f
	}
	return out, nil
}

func parseValue(v any, path string, depth int) (*Field, error) {
	switch t := v.(type) {
	case string:
		return ParseToken(t), nil
	case map[string]any:
		props, err := parseObject(t, path, depth)
		if err != nil {
			return nil, err
		}
		return &Field{Type: TypeObject, Properties: props}, nil
	case []any:
		f := &Field{Type: TypeArray}
		switch len(t) {
		case 0:
		case 1:
			items, err := parseValue(t[0], path+"[]", depth+1)
			if err != nil {
				return nil, err
			}
			f.Items = items
		default:
			return nil, fmt.Errorf("%w: %s lists %d item types", ErrInvalidNotation, path, len(t))
		}
		return f, nil
	case []string:
		list := make([]any, len(t))
		for i, s := range t {
			list[i] = s
		}
		return parseValue(list, path, depth)
	case nil:
		return &Field{Type: TypeAny}, nil
	default:
		return nil, fmt.Errorf("%w: %s has unsupported value %T", ErrInvalidNotation, path, v)
	}
}

// ParseToken parses a single compact token. Unknown type names become any.
func ParseToken(tok string) *Field {
	f := &Field{}
	tok = strings.TrimSpace(tok)

	// detailed form: <string!>description</string!>
	if strings.HasPrefix(tok, "<") {
		if end := strings.Index(tok, ">"); end > 0 {
			inner := tok[1:end]
			rest := tok[end+1:]
			if closing := strings.LastIndex(rest, "</"); closing >= 0 {
				rest = rest[:closing]
			}
			f.Description = strings.TrimSpace(rest)
			tok = inner
		}
	}

	if i := strings.Index(tok, "->"); i >= 0 {
		f.Ref = strings.TrimSpace(tok[i+2:])
		tok = tok[:i]
	}
	cut := strings.IndexAny(tok, "!?^")
	name := tok
	if cut >= 0 {
		name = tok[:cut]
		markers := tok[cut:]
		f.Required = strings.Contains(markers, "!")
		f.Unique = strings.Contains(markers, "^")
	}
	f.Type = normalizeType(strings.ToLower(strings.TrimSpace(name)), "")
	return f
}
