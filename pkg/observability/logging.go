package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/copilotz/pkg/domain"
)

// LoggingHooks logs every lifecycle event at debug level.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnModelCall: func(ctx context.Context, e *domain.ModelEvent) {
			if e.Err != nil {
				logger.DebugContext(ctx, "Model Call (Error)", "thread_id", e.ThreadID, "iteration", e.Iteration, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "Model Call", "thread_id", e.ThreadID, "iteration", e.Iteration, "tokens", e.Tokens, "duration", e.Duration)
		},
		OnFunctionCall: func(ctx context.Context, e *domain.FunctionEvent) {
			logger.DebugContext(ctx, "Function Call", "thread_id", e.ThreadID, "name", e.Name)
		},
		OnFunctionReturn: func(ctx context.Context, e *domain.FunctionEvent) {
			if e.Status == domain.FunctionFailed {
				logger.DebugContext(ctx, "Function Return (Error)", "thread_id", e.ThreadID, "name", e.Name, "err", e.Results)
				return
			}
			logger.DebugContext(ctx, "Function Return (Success)", "thread_id", e.ThreadID, "name", e.Name, "duration", e.Duration)
		},
		OnTaskTransition: func(ctx context.Context, e *domain.TaskEvent) {
			attrs := []any{"thread_id", e.ThreadID, "action", e.Action}
			if e.Task != nil {
				attrs = append(attrs, "task_id", e.Task.ID, "step", e.Task.CurrentStep, "status", e.Task.Status)
			}
			logger.DebugContext(ctx, "Task Transition", attrs...)
		},
	}
}
