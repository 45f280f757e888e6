// Package middleware decorates task stores with encryption and redaction of
// the task context.
package middleware

import "github.com/aretw0/copilotz/pkg/ports"

// Middleware allows wrapping a TaskStore to add behavior.
type Middleware func(ports.TaskStore) ports.TaskStore

// Chain applies the middlewares so that the first one is the outermost.
func Chain(store ports.TaskStore, mws ...Middleware) ports.TaskStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
