// Package registry holds the native modules actions can be bound to.
//
// A module is a plain Go function. Modules may also publish an argument
// definition, which native tool declarations use when they do not carry a
// schema of their own.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/copilotz/pkg/schema"
)

// ErrModuleNotFound is returned when a module name is not registered.
var ErrModuleNotFound = errors.New("module not found")

// Module defines the signature for a module implementation.
// It receives a context and a map of arguments, and returns a result or error.
type Module func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	fn  Module
	def schema.Definition
}

// Registry manages the available modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]entry
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]entry),
	}
}

// Register adds a module to the registry.
// If a module with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn Module) {
	r.RegisterWithSchema(name, fn, nil)
}

// RegisterWithSchema adds a module together with its argument definition.
func (r *Registry) RegisterWithSchema(name string, fn Module, def schema.Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = entry{fn: fn, def: def}
}

// Clone returns a registry holding the same modules. Registrations on the
// clone do not affect r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for name, e := range r.modules {
		c.modules[name] = e
	}
	return c
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.modules[name]
	return e.fn, ok
}

// Definition returns the argument definition published by a module, if any.
func (r *Registry) Definition(name string) (schema.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.modules[name]
	if !ok || e.def == nil {
		return nil, false
	}
	return e.def, true
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute looks up a module by name and executes it.
// Returns an error if the module is not found.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return fn(ctx, args)
}
