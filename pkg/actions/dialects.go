package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsv "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aretw0/copilotz/pkg/schema"
)

// buildJSONSchema wraps one module behind a compiled JSON Schema.
func (b *builder) buildJSONSchema(tool Tool) (*Action, error) {
	fn, err := b.resolveModule(tool)
	if err != nil {
		return nil, err
	}
	def := b.definitionFor(tool)
	if def == nil {
		def = schema.Definition{"type": "object"}
	}
	if tool.Description != "" {
		def = schema.Merge(def, schema.Definition{"description": tool.Description})
	}

	compiled, err := compileJSONSchema(tool.Name, def)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
	}

	var output schema.Definition
	if tool.OutputSchema != nil {
		output = tool.OutputSchema
	}
	return &Action{
		Name:        tool.Name,
		Description: descriptionOf(def),
		Spec:        schema.FunctionSpec(tool.Name, def, output),
		Input:       schema.ToShortSchema(def),
		Output:      schema.ToShortSchema(output),
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			if args == nil {
				args = map[string]any{}
			}
			doc, err := normalizeJSON(args)
			if err != nil {
				return nil, err
			}
			if err := compiled.Validate(doc); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			return fn(ctx, args)
		},
	}, nil
}

// buildShortSchema wraps one module behind the compact native notation.
func (b *builder) buildShortSchema(tool Tool) (*Action, error) {
	fn, err := b.resolveModule(tool)
	if err != nil {
		return nil, err
	}

	var input schema.ShortSchema
	switch {
	case tool.Schema != nil:
		input, err = schema.ParseShortSchema(tool.Schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
		}
	default:
		input = schema.ToShortSchema(b.definitionFor(tool))
	}
	var output schema.ShortSchema
	if tool.OutputSchema != nil {
		output, err = schema.ParseShortSchema(tool.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s output: %w", tool.Name, err)
		}
	}

	var spec strings.Builder
	spec.WriteString(tool.Name)
	spec.WriteString(parens(tool.Description))
	if args := input.Spec(); args != "" {
		spec.WriteString(": " + args)
	}
	if output != nil {
		spec.WriteString("->")
		if args := output.Spec(); args != "" {
			spec.WriteString(": " + args)
		}
	}

	return &Action{
		Name:        tool.Name,
		Description: tool.Description,
		Spec:        spec.String(),
		Input:       input,
		Output:      output,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			clean, err := schema.Validate(input, args, schema.AtPath("$args"))
			if err != nil {
				return nil, err
			}
			return fn(ctx, clean)
		},
	}, nil
}

// definitionFor returns the tool's own schema, falling back to the
// definition published by its native module.
func (b *builder) definitionFor(tool Tool) schema.Definition {
	if tool.Schema != nil {
		return tool.Schema
	}
	name := tool.Name
	if n, ok := tool.Source.(Native); ok {
		name = n.Name
	}
	def, _ := b.modules.Definition(name)
	return def
}

func compileJSONSchema(name string, def schema.Definition) (*jsv.Schema, error) {
	doc, err := normalizeJSON(def)
	if err != nil {
		return nil, err
	}
	url := nonWord.ReplaceAllString(name, "_") + ".json"
	c := jsv.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// normalizeJSON round-trips v through JSON so the validator sees only
// JSON-native values.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsv.UnmarshalJSON(bytes.NewReader(data))
}

func parens(s string) string {
	if s == "" {
		return ""
	}
	return "(" + s + ")"
}
