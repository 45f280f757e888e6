package copilotz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/internal/runtime"
	"github.com/aretw0/copilotz/internal/workflow"
	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/adapters/memory"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/intent"
	"github.com/aretw0/copilotz/pkg/logqueue"
	"github.com/aretw0/copilotz/pkg/persistence/middleware"
	"github.com/aretw0/copilotz/pkg/ports"
	"github.com/aretw0/copilotz/pkg/rag"
	"github.com/aretw0/copilotz/pkg/registry"
	"github.com/aretw0/copilotz/pkg/schema"
	"github.com/aretw0/copilotz/pkg/session"
)

type (
	// Persona describes who the copilot is.
	Persona = runtime.Persona
	// Hook is a caller-injected action that ends the turn once dispatched.
	Hook = runtime.Hook
	// HookFunc handles a hook call.
	HookFunc = runtime.HookFunc
	// TurnError reports a model answer that could not be parsed or validated.
	TurnError = runtime.TurnError
	// Result is the outcome of one message.
	Result = workflow.Result
	// RunError reports a failed re-run and carries the earlier runs' result.
	RunError = workflow.RunError
)

// ErrNoChat is returned by New without a chat executor.
var ErrNoChat = errors.New("copilotz: chat executor is required")

// Copilot is the high-level entry point of the library.
// It wires the action registry, the function-call loop and the workflow
// state machine, and serializes turns per thread.
type Copilot struct {
	name           string
	persona        Persona
	instructions   string
	copilotActions []string
	hooks          map[string]Hook

	actions    actions.Set
	engine     *runtime.Engine
	machine    *workflow.Machine
	sessions   *session.Manager
	classifier *intent.Classifier
	logs       ports.LogStore
	queue      *logqueue.Queue
	closers    []func() error
	logger     *slog.Logger
}

type options struct {
	name           string
	persona        Persona
	instructions   string
	copilotActions []string
	hooks          map[string]Hook

	tools      []actions.Tool
	extra      actions.Set
	modules    *registry.Registry
	knowledge  *rag.Index
	httpClient *http.Client
	headers    map[string]string
	workflows  []domain.Workflow

	tasks       ports.TaskStore
	taskMW      []middleware.Middleware
	logs        ports.LogStore
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	transcriber ports.Transcriber
	closers     []func() error

	lifecycle     domain.LifecycleHooks
	logger        *slog.Logger
	maxIterations int
	maxParallel   int
	maxTurns      int
	logQueue      []logqueue.Option
}

// Option defines a functional option for configuring the Copilot.
type Option func(*options)

// WithName labels the copilot in logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithPersona sets who the copilot is.
func WithPersona(p Persona) Option {
	return func(o *options) { o.persona = p }
}

// WithInstructions sets the base instructions of every turn.
func WithInstructions(instructions string) Option {
	return func(o *options) { o.instructions = instructions }
}

// WithTools declares tools resolved into actions when the copilot is built.
func WithTools(tools ...actions.Tool) Option {
	return func(o *options) { o.tools = append(o.tools, tools...) }
}

// WithActions adds prebuilt actions. Tools declared with WithTools win on
// name collisions.
func WithActions(set actions.Set) Option {
	return func(o *options) {
		if o.extra == nil {
			o.extra = make(actions.Set)
		}
		maps.Copy(o.extra, set)
	}
}

// WithModules sets the registry native tool sources are resolved against.
func WithModules(r *registry.Registry) Option {
	return func(o *options) { o.modules = r }
}

// WithKnowledge exposes idx to native tools through the rag.search and
// rag.save modules.
func WithKnowledge(idx *rag.Index) Option {
	return func(o *options) { o.knowledge = idx }
}

// WithHTTPClient sets the client used by OpenAPI and webhook actions.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithHeaders adds headers to every HTTP request made by actions.
func WithHeaders(h map[string]string) Option {
	return func(o *options) { o.headers = h }
}

// WithWorkflows registers workflows the model can start with createTask.
func WithWorkflows(wfs ...domain.Workflow) Option {
	return func(o *options) { o.workflows = append(o.workflows, wfs...) }
}

// WithCopilotActions limits the actions offered outside the active step.
func WithCopilotActions(names ...string) Option {
	return func(o *options) { o.copilotActions = names }
}

// WithHook injects a caller-handled action into every turn.
func WithHook(name string, h Hook) Option {
	return func(o *options) {
		if o.hooks == nil {
			o.hooks = make(map[string]Hook)
		}
		o.hooks[name] = h
	}
}

// WithTaskStore sets where tasks are persisted. Defaults to memory.
func WithTaskStore(s ports.TaskStore) Option {
	return func(o *options) { o.tasks = s }
}

// WithTaskMiddleware decorates the task store, e.g. to encrypt or redact the
// persisted task context. The first middleware is the outermost.
func WithTaskMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.taskMW = append(o.taskMW, mws...) }
}

// WithLogStore sets where turn logs are persisted. Defaults to memory.
func WithLogStore(s ports.LogStore) Option {
	return func(o *options) { o.logs = s }
}

// WithLocker serializes turns of a thread across processes.
func WithLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(o *options) {
		o.locker = l
		o.lockTTL = ttl
	}
}

// WithTranscriber enables audio messages.
func WithTranscriber(t ports.Transcriber) Option {
	return func(o *options) { o.transcriber = t }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *options) { o.lifecycle = o.lifecycle.Merge(hooks) }
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxIterations caps the model calls of one loop run.
func WithMaxIterations(n int) Option {
	return func(o *options) { o.maxIterations = n }
}

// WithMaxParallelCalls caps the function calls of one model answer that run
// at once.
func WithMaxParallelCalls(n int) Option {
	return func(o *options) { o.maxParallel = n }
}

// WithMaxTurns caps the loop runs one message may trigger.
func WithMaxTurns(n int) Option {
	return func(o *options) { o.maxTurns = n }
}

// WithLogQueue tunes the asynchronous log writer.
func WithLogQueue(opts ...logqueue.Option) Option {
	return func(o *options) { o.logQueue = append(o.logQueue, opts...) }
}

// WithCloser registers fn to run on Close, after the log queue is drained.
func WithCloser(fn func() error) Option {
	return func(o *options) { o.closers = append(o.closers, fn) }
}

// New builds a copilot answering through chat.
func New(ctx context.Context, chat ports.ChatExecutor, opts ...Option) (*Copilot, error) {
	if chat == nil {
		return nil, ErrNoChat
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if o.name != "" {
		logger = logger.With("copilot", o.name)
	}

	modules := registry.Builtins()
	if o.modules != nil {
		modules = o.modules.Clone()
	}
	classifier := intent.New(chat, intent.WithLogger(logger))
	intent.Register(modules, classifier)
	if o.knowledge != nil {
		rag.Register(modules, o.knowledge)
	}

	buildOpts := []actions.Option{actions.WithLogger(logger), actions.WithModules(modules)}
	if o.httpClient != nil {
		buildOpts = append(buildOpts, actions.WithHTTPClient(o.httpClient))
	}
	if o.headers != nil {
		buildOpts = append(buildOpts, actions.WithHeaders(o.headers))
	}
	set, err := actions.Build(ctx, o.tools, buildOpts...)
	if err != nil {
		return nil, fmt.Errorf("build actions: %w", err)
	}
	for _, name := range o.extra.Names() {
		if !set.Add(o.extra[name]) {
			logger.Warn("duplicate action skipped", "action", name)
		}
	}

	if o.tasks == nil {
		o.tasks = memory.NewTaskStore()
	}
	o.tasks = middleware.Chain(o.tasks, o.taskMW...)
	if o.logs == nil {
		o.logs = memory.NewLogStore()
	}
	queue := logqueue.New(o.logs, append([]logqueue.Option{logqueue.WithLogger(logger)}, o.logQueue...)...)

	engineOpts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithLifecycleHooks(o.lifecycle),
		runtime.WithLogStore(o.logs),
		runtime.WithRecorder(queue),
		runtime.WithMaxIterations(o.maxIterations),
		runtime.WithMaxParallelCalls(o.maxParallel),
	}
	if o.transcriber != nil {
		engineOpts = append(engineOpts, runtime.WithTranscriber(o.transcriber))
	}
	engine := runtime.NewEngine(chat, engineOpts...)

	machine, err := workflow.NewMachine(engine, o.tasks, o.workflows,
		workflow.WithLogger(logger),
		workflow.WithLifecycleHooks(o.lifecycle),
		workflow.WithMaxTurns(o.maxTurns),
	)
	if err != nil {
		_ = queue.Close(ctx)
		return nil, err
	}

	sessionOpts := []session.Option{session.WithLogger(logger)}
	if o.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(o.locker))
		if o.lockTTL > 0 {
			sessionOpts = append(sessionOpts, session.WithLockTTL(o.lockTTL))
		}
	}

	return &Copilot{
		name:           o.name,
		persona:        o.persona,
		instructions:   o.instructions,
		copilotActions: o.copilotActions,
		hooks:          o.hooks,
		actions:        set,
		engine:         engine,
		machine:        machine,
		sessions:       session.NewManager(o.tasks, sessionOpts...),
		classifier:     classifier,
		logs:           o.logs,
		queue:          queue,
		closers:        o.closers,
		logger:         logger,
	}, nil
}

// Classify asks the model which of req.Categories req.Input belongs to.
func (c *Copilot) Classify(ctx context.Context, req intent.Request) (int, error) {
	return c.classifier.Classify(ctx, req)
}

// Message is one inbound user message.
type Message struct {
	ThreadID  string
	Text      string
	Audio     []byte
	AudioMIME string
	// InputSchema and OutputSchema extend the base turn schemas.
	InputSchema  schema.Definition
	OutputSchema schema.Definition
	// Hooks are merged over the copilot hooks for this message only.
	Hooks map[string]Hook
	// Stream receives answer chunks as the model produces them.
	Stream ports.StreamFunc
}

// Chat answers a message. Messages of the same thread are processed one at
// a time.
func (c *Copilot) Chat(ctx context.Context, msg Message) (*Result, error) {
	if msg.ThreadID == "" {
		return nil, errors.New("copilotz: thread id is required")
	}

	hooks := maps.Clone(c.hooks)
	if hooks == nil {
		hooks = make(map[string]Hook)
	}
	maps.Copy(hooks, msg.Hooks)

	req := workflow.Request{
		Request: runtime.Request{
			Persona:      c.persona,
			Instructions: c.instructions,
			Input:        msg.Text,
			Audio:        msg.Audio,
			AudioMIME:    msg.AudioMIME,
			ThreadID:     msg.ThreadID,
			InputSchema:  msg.InputSchema,
			OutputSchema: msg.OutputSchema,
			Actions:      c.actions,
			Hooks:        hooks,
			Stream:       msg.Stream,
		},
		CopilotActions: c.copilotActions,
	}

	var res *Result
	err := c.sessions.WithLock(ctx, msg.ThreadID, func(ctx context.Context) error {
		var err error
		res, err = c.machine.Run(ctx, req)
		// The next turn of this thread replays the log written here.
		if ferr := c.queue.Flush(ctx); ferr != nil {
			c.logger.Warn("turn log not flushed", "thread_id", msg.ThreadID, "err", ferr)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("message answered", "thread_id", msg.ThreadID, "turns", res.Turns, "functions", len(res.Functions))
	return res, nil
}

// Actions returns the resolved action set.
func (c *Copilot) Actions() actions.Set {
	return c.actions
}

// Specs returns the prompt lines of every action, sorted by name.
func (c *Copilot) Specs() []string {
	return c.actions.Specs()
}

// ActiveTask returns the active task of a thread, or nil.
func (c *Copilot) ActiveTask(ctx context.Context, threadID string) (*domain.Task, error) {
	return c.sessions.ActiveTask(ctx, threadID)
}

// Tasks lists every task of a thread.
func (c *Copilot) Tasks(ctx context.Context, threadID string) ([]*domain.Task, error) {
	return c.sessions.Tasks(ctx, threadID)
}

// History lists the turn logs of a thread, oldest first.
// Records still queued for writing are not included.
func (c *Copilot) History(ctx context.Context, threadID string) ([]*domain.LogRecord, error) {
	return c.logs.List(ctx, threadID)
}

// Close drains pending log writes and releases the stores.
func (c *Copilot) Close(ctx context.Context) error {
	errs := []error{c.queue.Close(ctx)}
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
