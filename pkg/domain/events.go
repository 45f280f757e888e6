package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventModelCall      EventType = "model_call"
	EventFunctionCall   EventType = "function_call"
	EventFunctionReturn EventType = "function_return"
	EventTaskTransition EventType = "task_transition"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	ThreadID  string    `json:"thread_id"`
}

// ModelEvent is emitted after every call to the chat executor.
type ModelEvent struct {
	EventBase
	Iteration int           `json:"iteration"`
	Tokens    int           `json:"tokens"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// FunctionEvent represents one dispatched function.
type FunctionEvent struct {
	EventBase
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Results  any            `json:"results,omitempty"`
	Status   FunctionStatus `json:"status,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// TaskEvent reports a persisted task mutation.
type TaskEvent struct {
	EventBase
	Action string    `json:"action"`
	Task   *Task     `json:"task"`
	Diff   *TaskDiff `json:"diff,omitempty"`
}

// LifecycleHooks defines callbacks for runtime observability.
type LifecycleHooks struct {
	OnModelCall      func(context.Context, *ModelEvent)
	OnFunctionCall   func(context.Context, *FunctionEvent)
	OnFunctionReturn func(context.Context, *FunctionEvent)
	OnTaskTransition func(context.Context, *TaskEvent)
}

// Merge returns hooks that fan out to h and then to other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnModelCall:      chain(h.OnModelCall, other.OnModelCall),
		OnFunctionCall:   chain(h.OnFunctionCall, other.OnFunctionCall),
		OnFunctionReturn: chain(h.OnFunctionReturn, other.OnFunctionReturn),
		OnTaskTransition: chain(h.OnTaskTransition, other.OnTaskTransition),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
