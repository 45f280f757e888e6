package intent

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/copilotz/pkg/registry"
)

// ClassifyModule is the name of the module registered by Register.
const ClassifyModule = "intent.classify"

// ClassifyArgs is accepted by the classify module.
type ClassifyArgs struct {
	Input        string   `json:"input" mapstructure:"input" jsonschema:"description=message to classify"`
	Categories   []string `json:"categories" mapstructure:"categories" jsonschema:"description=category descriptions"`
	CurrentIndex *int     `json:"currentIndex,omitempty" mapstructure:"currentIndex" jsonschema:"description=index of the current category"`
	Instructions string   `json:"instructions,omitempty" mapstructure:"instructions" jsonschema:"description=extra classification rules"`
}

// Register adds the classify module backed by c to r.
func Register(r *registry.Registry, c *Classifier) {
	r.RegisterWithSchema(ClassifyModule, c.module, registry.Reflect(&ClassifyArgs{}))
}

func (c *Classifier) module(ctx context.Context, args map[string]any) (any, error) {
	var in ClassifyArgs
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &in})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(args); err != nil {
		return nil, fmt.Errorf("%s: %w", ClassifyModule, err)
	}

	req := Request{Input: in.Input, Categories: in.Categories, Current: NoCurrent, Instructions: in.Instructions}
	if in.CurrentIndex != nil {
		req.Current = *in.CurrentIndex
	}
	idx, err := c.Classify(ctx, req)
	if err != nil && !errors.Is(err, ErrUnclassified) {
		return nil, fmt.Errorf("%s: %w", ClassifyModule, err)
	}
	return map[string]any{"index": idx, "classified": err == nil}, nil
}
