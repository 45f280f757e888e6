package rag

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/copilotz/pkg/registry"
)

// Names of the modules registered by Register.
const (
	SearchModule = "rag.search"
	SaveModule   = "rag.save"
)

// SearchArgs is accepted by the search module.
type SearchArgs struct {
	Query       string   `json:"query" mapstructure:"query" jsonschema:"description=question to look up in the knowledge base"`
	Collections []string `json:"collections,omitempty" mapstructure:"collections" jsonschema:"description=collections to search; empty searches all"`
}

// SaveArgs is accepted by the save module.
type SaveArgs struct {
	Text       string         `json:"text" mapstructure:"text" jsonschema:"description=text to remember"`
	Collection string         `json:"collection,omitempty" mapstructure:"collection" jsonschema:"description=collection the text belongs to"`
	Data       map[string]any `json:"data,omitempty" mapstructure:"data" jsonschema:"description=metadata stored with the text"`
}

// Register adds the search and save modules backed by idx to r.
func Register(r *registry.Registry, idx *Index) {
	r.RegisterWithSchema(SearchModule, idx.searchModule, registry.Reflect(&SearchArgs{}))
	r.RegisterWithSchema(SaveModule, idx.saveModule, registry.Reflect(&SaveArgs{}))
}

func (i *Index) searchModule(ctx context.Context, args map[string]any) (any, error) {
	var in SearchArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("%s: %w", SearchModule, err)
	}
	hits, err := i.Search(ctx, in.Query, in.Collections...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SearchModule, err)
	}
	if hits == nil {
		hits = []Hit{}
	}
	return map[string]any{"results": hits}, nil
}

func (i *Index) saveModule(ctx context.Context, args map[string]any) (any, error) {
	var in SaveArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("%s: %w", SaveModule, err)
	}
	f, err := i.Add(ctx, Fragment{Text: in.Text, Collection: in.Collection, Data: in.Data})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SaveModule, err)
	}
	return map[string]any{"id": f.ID}, nil
}
