package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/aretw0/copilotz/internal/runtime"
	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/schema"
)

// Control action names injected into every turn.
const (
	ActionCreateTask = "createTask"
	ActionSubmit     = "submit"
	ActionChangeStep = "changeStep"
	ActionCancelTask = "cancelTask"
	ActionSetState   = "setState"
)

// ControlActions lists the injected action names.
var ControlActions = []string{ActionCreateTask, ActionSubmit, ActionChangeStep, ActionCancelTask, ActionSetState}

var controlDefinitions = map[string]schema.Definition{
	ActionCreateTask: {
		"description": "Start a workflow for this thread",
		"properties": map[string]any{
			"workflow":       map[string]any{"type": "string", "description": "name of one of the available workflows"},
			"backlogCurrent": map[string]any{"type": "boolean", "description": "move the current task to the backlog first"},
		},
		"required": []any{"workflow"},
	},
	ActionSubmit: {
		"description": "Submit the current step once its exit condition is met",
		"properties": map[string]any{
			"args": map[string]any{"type": "object", "description": "data collected in this step"},
		},
	},
	ActionChangeStep: {
		"description": "Move the current task to another step of its workflow",
		"properties": map[string]any{
			"step": map[string]any{"type": "string", "description": "step name"},
		},
		"required": []any{"step"},
	},
	ActionCancelTask: {
		"description": "Cancel the current task",
	},
	ActionSetState: {
		"description": "Store a value in the task state",
		"properties": map[string]any{
			"key":   map[string]any{"type": "string"},
			"value": map[string]any{"type": "any"},
		},
		"required": []any{"key"},
	},
}

// session is the task of one thread during one turn. Control actions may run
// concurrently within an iteration, so every access goes through mu.
type session struct {
	m        *Machine
	threadID string
	// registry resolves onSubmit actions.
	registry actions.Set

	mu   sync.Mutex
	task *domain.Task
}

func (m *Machine) openSession(ctx context.Context, threadID string, registry actions.Set) (*session, error) {
	task, err := m.tasks.FindActive(ctx, threadID)
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return nil, fmt.Errorf("load active task: %w", err)
	}
	return &session{m: m, threadID: threadID, registry: registry, task: task}, nil
}

// snapshot returns a copy of the current task, nil when there is none.
func (s *session) snapshot() *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.Clone()
}

// hooks returns the control actions bound to this session.
func (s *session) hooks() map[string]runtime.Hook {
	handlers := map[string]func(context.Context, map[string]any) (any, error){
		ActionCreateTask: s.createTask,
		ActionSubmit:     s.submit,
		ActionChangeStep: s.changeStep,
		ActionCancelTask: s.cancelTask,
		ActionSetState:   s.setState,
	}
	hooks := make(map[string]runtime.Hook, len(handlers))
	for name, fn := range handlers {
		hooks[name] = runtime.Hook{
			Spec: schema.ToFunctionSpec(controlDefinitions[name], name),
			Handle: func(ctx context.Context, args map[string]any, _ *actions.Action) (any, error) {
				return fn(ctx, args)
			},
		}
	}
	return hooks
}

func (s *session) createTask(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["workflow"].(string)
	backlog, _ := args["backlogCurrent"].(bool)

	wf, ok := s.m.workflow(name)
	if !ok {
		return nil, domain.NewCodedError(domain.CodeNotFound, domain.ErrWorkflowNotFound, "workflow %q not found", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != nil && s.task.Status == domain.TaskActive {
		if !backlog {
			return nil, domain.NewCodedError(domain.CodeActiveTaskExists, domain.ErrActiveTaskExists,
				"task %s is still active on workflow %q", s.task.ID, s.task.Workflow)
		}
		next := s.task.Clone()
		next.Status = domain.TaskBacklog
		if err := s.save(ctx, ActionCreateTask, next); err != nil {
			return nil, err
		}
	}

	task := domain.NewTask(s.m.newID(), s.threadID, wf, s.m.now())
	if err := s.m.tasks.Create(ctx, task); err != nil {
		if errors.Is(err, domain.ErrActiveTaskExists) {
			return nil, domain.NewCodedError(domain.CodeActiveTaskExists, err, "thread %s already has an active task", s.threadID)
		}
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.task = task
	s.m.emit(ctx, ActionCreateTask, nil, task)
	s.m.logger.Info("task created", "thread_id", s.threadID, "task_id", task.ID, "workflow", wf.Name)

	return taskSummary(task), nil
}

func (s *session) submit(ctx context.Context, args map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, step, err := s.current()
	if err != nil {
		return nil, err
	}

	input, _ := args["args"].(map[string]any)
	if input == nil {
		input = make(map[string]any)
	}

	var (
		results any
		failure error
	)
	if step.OnSubmit != "" {
		action, ok := s.registry[step.OnSubmit]
		if !ok || action.Invoke == nil {
			failure = domain.NewCodedError(domain.CodeNotFound, domain.ErrActionNotFound, "submit action %q not found", step.OnSubmit)
		} else {
			results, failure = invokeSafely(ctx, action, input)
		}
	}

	next := s.task.Clone()
	now := s.m.now()
	if failure != nil {
		next.Context.Steps[step.Name] = domain.StepRecord{
			Args:      input,
			Results:   domain.ErrorResult(errorCode(failure), failure.Error()),
			UpdatedAt: now,
		}
		if step.FailedNext != "" {
			next.CurrentStep = step.FailedNext
		} else {
			next.Status = domain.TaskFailed
		}
	} else {
		if results == nil {
			results = input
		}
		next.Context.Steps[step.Name] = domain.StepRecord{Args: input, Results: results, UpdatedAt: now}
		if m, ok := results.(map[string]any); ok {
			maps.Copy(next.Context.State, m)
		}
		if step.Next == "" {
			next.Status = domain.TaskCompleted
		} else {
			next.CurrentStep = step.Next
		}
	}

	if err := s.save(ctx, ActionSubmit, next); err != nil {
		return nil, err
	}
	s.m.logger.Info("step submitted", "thread_id", s.threadID, "task_id", s.task.ID,
		"workflow", wf.Name, "step", step.Name, "status", s.task.Status, "error", failure)

	out := taskSummary(s.task)
	if failure != nil {
		out["error"] = failure.Error()
	} else {
		out["results"] = results
	}
	return out, nil
}

func (s *session) changeStep(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["step"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	wf, _, err := s.current()
	if err != nil {
		return nil, err
	}
	if _, ok := wf.Step(name); !ok {
		return nil, domain.NewCodedError(domain.CodeNotFound, domain.ErrStepNotFound, "step %q not found in workflow %q", name, wf.Name)
	}

	next := s.task.Clone()
	next.CurrentStep = name
	if err := s.save(ctx, ActionChangeStep, next); err != nil {
		return nil, err
	}
	return taskSummary(s.task), nil
}

func (s *session) cancelTask(ctx context.Context, _ map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.current(); err != nil {
		return nil, err
	}
	next := s.task.Clone()
	next.Status = domain.TaskCancelled
	if err := s.save(ctx, ActionCancelTask, next); err != nil {
		return nil, err
	}
	return taskSummary(s.task), nil
}

func (s *session) setState(ctx context.Context, args map[string]any) (any, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return nil, errors.New("key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.current(); err != nil {
		return nil, err
	}
	next := s.task.Clone()
	next.Context.State[key] = args["value"]
	if err := s.save(ctx, ActionSetState, next); err != nil {
		return nil, err
	}
	return map[string]any{"state": maps.Clone(s.task.Context.State)}, nil
}

// current resolves the active task's workflow and step. Callers hold mu.
func (s *session) current() (*domain.Workflow, *domain.Step, error) {
	if s.task == nil || s.task.Status != domain.TaskActive {
		return nil, nil, domain.NewCodedError(domain.CodeNotFound, domain.ErrTaskNotFound, "thread %s has no active task", s.threadID)
	}
	if s.task.Context.Steps == nil {
		s.task.Context.Steps = make(map[string]domain.StepRecord)
	}
	if s.task.Context.State == nil {
		s.task.Context.State = make(map[string]any)
	}
	wf, ok := s.m.workflow(s.task.Workflow)
	if !ok {
		return nil, nil, domain.NewCodedError(domain.CodeNotFound, domain.ErrWorkflowNotFound, "workflow %q not found", s.task.Workflow)
	}
	step, ok := wf.Step(s.task.CurrentStep)
	if !ok {
		return nil, nil, domain.NewCodedError(domain.CodeNotFound, domain.ErrStepNotFound, "step %q not found in workflow %q", s.task.CurrentStep, wf.Name)
	}
	return wf, step, nil
}

// save persists next and makes it the session task. On failure the session
// task is left untouched. Callers hold mu.
func (s *session) save(ctx context.Context, action string, next *domain.Task) error {
	next.UpdatedAt = s.m.now()
	if err := s.m.tasks.Update(ctx, next); err != nil {
		return fmt.Errorf("update task %s: %w", next.ID, err)
	}
	before := s.task
	s.task = next
	s.m.emit(ctx, action, before, next)
	return nil
}

func invokeSafely(ctx context.Context, a *actions.Action, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", a.Name, r)
		}
	}()
	return a.Invoke(ctx, args)
}

func errorCode(err error) string {
	var coded *domain.CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return domain.CodeFunctionError
}

func taskSummary(t *domain.Task) map[string]any {
	return map[string]any{
		"task":     t.ID,
		"workflow": t.Workflow,
		"step":     t.CurrentStep,
		"status":   string(t.Status),
	}
}
