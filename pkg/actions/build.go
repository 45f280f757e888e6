package actions

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/pkg/registry"
)

// DefaultTimeout bounds HTTP calls made by actions.
const DefaultTimeout = 30 * time.Second

// Option configures Build.
type Option func(*builder)

// WithModules sets the registry native sources are resolved against.
// Defaults to registry.Builtins().
func WithModules(r *registry.Registry) Option {
	return func(b *builder) { b.modules = r }
}

// WithHTTPClient sets the client used by OpenAPI and remote actions.
func WithHTTPClient(c *http.Client) Option {
	return func(b *builder) { b.client = c }
}

// WithLogger sets the logger used to report skipped actions.
func WithLogger(l *slog.Logger) Option {
	return func(b *builder) { b.logger = l }
}

// WithHeaders adds headers to every HTTP request made by actions.
func WithHeaders(h map[string]string) Option {
	return func(b *builder) { b.headers = h }
}

type builder struct {
	modules *registry.Registry
	client  *http.Client
	logger  *slog.Logger
	headers map[string]string
}

// Build resolves tools into a flat action set. Tools are processed in order;
// when two actions share a name the first one wins and the later one is
// logged and skipped.
func Build(ctx context.Context, tools []Tool, opts ...Option) (Set, error) {
	b := &builder{
		modules: registry.Builtins(),
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	set := make(Set)
	for _, tool := range tools {
		built, err := b.buildTool(ctx, tool)
		if err != nil {
			return nil, err
		}
		throttle(built, tool.RateLimit)
		for _, a := range built {
			if !set.Add(a) {
				b.logger.Warn("duplicate action skipped", "action", a.Name, "tool", tool.Name)
			}
		}
	}
	return set, nil
}

func (b *builder) buildTool(ctx context.Context, tool Tool) ([]*Action, error) {
	switch tool.SpecType {
	case SpecOpenAPI3:
		return b.buildOpenAPI(ctx, tool)
	case SpecJSONSchema:
		a, err := b.buildJSONSchema(tool)
		if err != nil {
			return nil, err
		}
		return []*Action{a}, nil
	case SpecShortSchema, "":
		a, err := b.buildShortSchema(tool)
		if err != nil {
			return nil, err
		}
		return []*Action{a}, nil
	default:
		return nil, fmt.Errorf("tool %s: %w: %q", tool.Name, ErrUnknownSpecType, tool.SpecType)
	}
}

// throttle makes the actions of one tool wait on a shared limiter.
func throttle(built []*Action, rl RateLimit) {
	if rl.PerMinute <= 0 {
		return
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rl.PerMinute)/60), max(rl.Burst, 1))
	for _, a := range built {
		invoke := a.Invoke
		a.Invoke = func(ctx context.Context, args map[string]any) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter wait: %w", err)
			}
			return invoke(ctx, args)
		}
	}
}

// resolveModule returns the implementation behind a non-HTTP tool.
func (b *builder) resolveModule(tool Tool) (registry.Module, error) {
	switch src := tool.Source.(type) {
	case Native:
		fn, ok := b.modules.Lookup(src.Name)
		if !ok {
			return nil, fmt.Errorf("tool %s: %w: %s", tool.Name, registry.ErrModuleNotFound, src.Name)
		}
		return fn, nil
	case *Native:
		return b.resolveModule(Tool{Name: tool.Name, Source: *src})
	case Remote:
		return b.remoteModule(src.URL), nil
	case Inline:
		if src.Module == nil {
			return nil, fmt.Errorf("tool %s: %w: inline module is nil", tool.Name, ErrInvalidSource)
		}
		return src.Module, nil
	case nil:
		fn, ok := b.modules.Lookup(tool.Name)
		if !ok {
			return nil, fmt.Errorf("tool %s: %w: no source declared", tool.Name, ErrInvalidSource)
		}
		return fn, nil
	default:
		return nil, fmt.Errorf("tool %s: %w: %T", tool.Name, ErrInvalidSource, src)
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, cmp.Compare[string])
	return keys
}
