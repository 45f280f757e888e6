package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/aretw0/copilotz/pkg/schema"
)

// Names of the modules registered by Builtins.
const (
	EchoModule     = "echo"
	ValidateModule = "validate"
)

// EchoArgs is accepted by the echo module.
type EchoArgs struct {
	Message string `json:"message" jsonschema:"description=text returned unchanged"`
}

// ValidateArgs is accepted by the validate module.
type ValidateArgs struct {
	ShortSchema map[string]any `json:"shortSchema" jsonschema:"description=compact schema the data must satisfy"`
	Data        map[string]any `json:"data" jsonschema:"description=object to check"`
	Optional    bool           `json:"optional,omitempty" jsonschema:"description=tolerate missing fields"`
}

// Builtins returns a registry preloaded with the echo and validate modules.
func Builtins() *Registry {
	r := NewRegistry()
	r.RegisterWithSchema(EchoModule, echo, Reflect(&EchoArgs{}))
	r.RegisterWithSchema(ValidateModule, validate, Reflect(&ValidateArgs{}))
	return r
}

// Reflect derives an argument definition from a Go struct.
func Reflect(v any) schema.Definition {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil
	}
	var def schema.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil
	}
	delete(def, "$schema")
	delete(def, "$id")
	return def
}

func echo(_ context.Context, args map[string]any) (any, error) {
	return args, nil
}

func validate(_ context.Context, args map[string]any) (any, error) {
	raw, _ := args["shortSchema"].(map[string]any)
	if raw == nil {
		return nil, fmt.Errorf("validate: shortSchema is required")
	}
	short, err := schema.ParseShortSchema(raw)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	var opts []schema.ValidateOption
	if optional, _ := args["optional"].(bool); optional {
		opts = append(opts, schema.AllowMissing())
	}
	clean, err := schema.Validate(short, args["data"], opts...)
	if err != nil {
		return map[string]any{"valid": false, "error": err.Error()}, nil
	}
	return map[string]any{"valid": true, "data": clean}, nil
}
