package actions

import (
	"context"
	"sort"

	"github.com/aretw0/copilotz/pkg/schema"
)

// InvokeFunc executes an action.
type InvokeFunc func(ctx context.Context, args map[string]any) (any, error)

// Action is a named, callable capability offered to the model.
type Action struct {
	Name        string
	Description string
	// Spec is the one-line signature shown in prompts.
	Spec         string
	Input        schema.ShortSchema
	Output       schema.ShortSchema
	MediaCapable bool
	Invoke       InvokeFunc
}

// Set is a flat collection of actions keyed by name.
type Set map[string]*Action

// Names returns the action names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the prompt lines of every action in name order.
func (s Set) Specs() []string {
	specs := make([]string, 0, len(s))
	for _, name := range s.Names() {
		specs = append(specs, s[name].Spec)
	}
	return specs
}

// Clone returns a shallow copy so callers can add actions without touching
// the original set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Add inserts a unless an action with the same name exists.
// It reports whether a was added.
func (s Set) Add(a *Action) bool {
	if _, exists := s[a.Name]; exists {
		return false
	}
	s[a.Name] = a
	return true
}
