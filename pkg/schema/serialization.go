package schema

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON renders the schema in compact notation.
func (s ShortSchema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.compact())
}

// UnmarshalJSON parses compact notation.
func (s *ShortSchema) UnmarshalJSON(data []byte) error {
	if s == nil {
		return fmt.Errorf("schema: UnmarshalJSON on nil pointer")
	}
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseShortSchema(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Compact returns the schema as plain maps, lists and token strings, the
// shape embedded into prompts.
func (s ShortSchema) Compact() map[string]any {
	return s.compact()
}

func (s ShortSchema) compact() map[string]any {
	out := make(map[string]any, len(s))
	for k, f := range s {
		if f == nil {
			continue
		}
		out[k] = f.compact()
	}
	return out
}

func (f *Field) compact() any {
	switch {
	case f.Type == TypeObject && f.Properties != nil:
		return f.Properties.compact()
	case f.Type == TypeArray && f.Items != nil:
		return []any{f.Items.compact()}
	}
	tok := f.Token()
	if f.Description != "" {
		return fmt.Sprintf("<%s>%s</%s>", tok, f.Description, tok)
	}
	return tok
}
