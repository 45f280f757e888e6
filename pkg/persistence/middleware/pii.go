package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

type piiMiddleware struct {
	next     ports.TaskStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks task state values and
// step arguments whose keys match one of the patterns. Only the stored copy
// is masked; the task held by the running turn keeps its values.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.TaskStore) ports.TaskStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) mask(task *domain.Task) *domain.Task {
	cloned := task.Clone()
	cloned.Context.State = deepCopyMap(cloned.Context.State)
	maskMap(cloned.Context.State, m.patterns)
	for name, rec := range cloned.Context.Steps {
		rec.Args = deepCopyMap(rec.Args)
		maskMap(rec.Args, m.patterns)
		cloned.Context.Steps[name] = rec
	}
	return cloned
}

func (m *piiMiddleware) Get(ctx context.Context, id string) (*domain.Task, error) {
	return m.next.Get(ctx, id)
}

func (m *piiMiddleware) FindActive(ctx context.Context, extID string) (*domain.Task, error) {
	return m.next.FindActive(ctx, extID)
}

func (m *piiMiddleware) Create(ctx context.Context, task *domain.Task) error {
	return m.next.Create(ctx, m.mask(task))
}

func (m *piiMiddleware) Update(ctx context.Context, task *domain.Task) error {
	return m.next.Update(ctx, m.mask(task))
}

func (m *piiMiddleware) List(ctx context.Context, extID string) ([]*domain.Task, error) {
	return m.next.List(ctx, extID)
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if subMap, ok := v.(map[string]any); ok && !masked {
			maskMap(subMap, patterns)
		}
	}
}
