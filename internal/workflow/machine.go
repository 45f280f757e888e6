// Package workflow layers multi-step task tracking on top of the
// function-call loop.
//
// Each thread has at most one active task. A turn resolves the task's current
// step, derives instructions and scoped actions from it, and injects the
// control actions (createTask, submit, changeStep, cancelTask, setState) as
// hooks. When the model calls a control action the turn is re-run with the
// updated task, so one user message can traverse several steps.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/internal/runtime"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

// DefaultMaxTurns caps how many loop runs one user message may trigger.
const DefaultMaxTurns = 3

// Runner executes one function-call loop turn.
type Runner interface {
	Run(ctx context.Context, req runtime.Request) (*runtime.Result, error)
}

// Machine runs turns under workflow control.
type Machine struct {
	runner    Runner
	tasks     ports.TaskStore
	workflows []*domain.Workflow
	byName    map[string]*domain.Workflow

	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	maxTurns int
	now      func() time.Time
	newID    func() string
}

// Option configures the Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithLifecycleHooks registers task transition observers.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Machine) {
		m.hooks = m.hooks.Merge(hooks)
	}
}

// WithMaxTurns overrides DefaultMaxTurns.
func WithMaxTurns(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxTurns = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithIDGenerator replaces the task id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) {
		m.newID = fn
	}
}

// NewMachine validates the workflows and returns a machine running turns
// through runner.
func NewMachine(runner Runner, tasks ports.TaskStore, workflows []domain.Workflow, opts ...Option) (*Machine, error) {
	m := &Machine{
		runner:   runner,
		tasks:    tasks,
		byName:   make(map[string]*domain.Workflow, len(workflows)),
		logger:   logging.NewNop(),
		maxTurns: DefaultMaxTurns,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}

	for i := range workflows {
		wf := &workflows[i]
		if err := Validate(wf); err != nil {
			return nil, err
		}
		if _, dup := m.byName[wf.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate workflow '%s'", ErrInvalidWorkflow, wf.Name)
		}
		m.byName[wf.Name] = wf
		m.workflows = append(m.workflows, wf)
	}
	return m, nil
}

func (m *Machine) workflow(name string) (*domain.Workflow, bool) {
	wf, ok := m.byName[name]
	return wf, ok
}

// Request is a turn under workflow control.
type Request struct {
	runtime.Request
	// CopilotActions names the actions offered outside any workflow scope.
	// Nil offers every action of Request.Actions.
	CopilotActions []string
}

// Result is the outcome of a controlled turn.
type Result struct {
	*runtime.Result
	// Task is the thread's task after the turn, nil when there is none.
	Task *domain.Task
	// Turns counts the loop runs of this message.
	Turns int
}

// RunError reports a re-run that failed after earlier runs of the same
// message completed. Partial holds what those runs produced, including the
// functions they called.
type RunError struct {
	Partial *Result
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("workflow turn %d: %v", e.Partial.Turns, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Run drives one user message. The loop is re-run with the continuation
// thread log while the model keeps calling control actions, up to the turn
// cap.
func (m *Machine) Run(ctx context.Context, req Request) (*Result, error) {
	sess, err := m.openSession(ctx, req.ThreadID, req.Actions)
	if err != nil {
		return nil, err
	}

	out := &Result{}
	turn := req.Request
	for {
		out.Turns++
		task := sess.snapshot()

		turn.Instructions = m.instructions(req.Instructions, task)
		turn.Actions = m.scope(req.Actions, req.CopilotActions, task)
		turn.Hooks = make(map[string]runtime.Hook, len(req.Hooks)+len(ControlActions))
		maps.Copy(turn.Hooks, req.Hooks)
		maps.Copy(turn.Hooks, sess.hooks())

		res, err := m.runner.Run(ctx, turn)
		if err != nil {
			if out.Result == nil {
				return nil, err
			}
			out.Task = sess.snapshot()
			return nil, &RunError{Partial: out, Err: err}
		}
		out.Result = accumulate(out.Result, res)

		if !calledControl(res) {
			break
		}
		if out.Turns >= m.maxTurns {
			m.logger.Warn("workflow turn cap reached", "thread_id", req.ThreadID, "turns", out.Turns)
			break
		}
		turn.Input = ""
		turn.Audio = nil
		turn.ThreadLog = res.ThreadLog
	}

	out.Task = sess.snapshot()
	return out, nil
}

func calledControl(res *runtime.Result) bool {
	for _, name := range ControlActions {
		if res.Called(name) {
			return true
		}
	}
	return false
}

// accumulate folds the result of a re-run into the previous ones.
func accumulate(acc, next *runtime.Result) *runtime.Result {
	if acc == nil {
		return next
	}
	merged := *next
	merged.Functions = append(append([]*domain.FunctionCall{}, acc.Functions...), next.Functions...)
	merged.Media = maps.Clone(acc.Media)
	if merged.Media == nil {
		merged.Media = make(map[string]any)
	}
	maps.Copy(merged.Media, next.Media)
	merged.Extra = maps.Clone(acc.Extra)
	if merged.Extra == nil {
		merged.Extra = make(map[string]any)
	}
	maps.Copy(merged.Extra, next.Extra)
	merged.Iterations = acc.Iterations + next.Iterations
	merged.Tokens = acc.Tokens + next.Tokens
	merged.Consumption = domain.Consumption{Type: next.Consumption.Type, Value: len(merged.Functions)}
	return &merged
}

func (m *Machine) emit(ctx context.Context, action string, before, after *domain.Task) {
	if m.hooks.OnTaskTransition == nil {
		return
	}
	m.hooks.OnTaskTransition(ctx, &domain.TaskEvent{
		EventBase: domain.EventBase{
			Timestamp: m.now(),
			Type:      domain.EventTaskTransition,
			ThreadID:  after.ExtID,
		},
		Action: action,
		Task:   after.Clone(),
		Diff:   domain.Diff(before, after),
	})
}
