package runtime

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

const (
	// DefaultMaxIterations caps the model calls of one turn.
	DefaultMaxIterations = 5

	// DefaultKind names the loop in persisted log records.
	DefaultKind = "functionCall"
)

// Engine drives conversational turns through the function-call loop.
// An Engine is safe for concurrent use; per-turn state lives in the call stack.
type Engine struct {
	chat          ports.ChatExecutor
	logs          ports.LogStore
	recorder      ports.LogRecorder
	transcriber   ports.Transcriber
	hooks         domain.LifecycleHooks
	logger        *slog.Logger
	maxIterations int
	maxParallel   int
	now           func() time.Time
	newID         func() string
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithMaxIterations overrides the per-turn model call cap.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithMaxParallelCalls caps how many function calls of one model answer
// run at once. Zero or less means no cap.
func WithMaxParallelCalls(n int) Option {
	return func(e *Engine) {
		e.maxParallel = n
	}
}

// WithLogStore enables thread history lookup for requests without a thread log.
func WithLogStore(store ports.LogStore) Option {
	return func(e *Engine) {
		e.logs = store
	}
}

// WithRecorder sets where finished turns are recorded.
func WithRecorder(r ports.LogRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithTranscriber enables audio input.
func WithTranscriber(t ports.Transcriber) Option {
	return func(e *Engine) {
		e.transcriber = t
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine calling the given model.
func NewEngine(chat ports.ChatExecutor, opts ...Option) *Engine {
	e := &Engine{
		chat:          chat,
		logger:        logging.NewNop(),
		maxIterations: DefaultMaxIterations,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxIterations returns the configured model call cap.
func (e *Engine) MaxIterations() int {
	return e.maxIterations
}
