package ports

import (
	"context"

	"github.com/aretw0/copilotz/pkg/domain"
)

// TaskStore persists workflow tasks.
type TaskStore interface {
	// Get returns the task with the given id.
	// Returns domain.ErrTaskNotFound if it does not exist.
	Get(ctx context.Context, id string) (*domain.Task, error)

	// FindActive returns the active task of a thread.
	// Returns domain.ErrTaskNotFound if the thread has none.
	FindActive(ctx context.Context, extID string) (*domain.Task, error)

	// Create stores a new task. Creating an active task for a thread that
	// already has one returns domain.ErrActiveTaskExists.
	Create(ctx context.Context, task *domain.Task) error

	// Update replaces a stored task.
	// Returns domain.ErrTaskNotFound if it does not exist.
	Update(ctx context.Context, task *domain.Task) error

	// List returns every task of a thread, oldest first.
	List(ctx context.Context, extID string) ([]*domain.Task, error)
}

// LogStore persists turn log records.
type LogStore interface {
	// Append stores a record.
	Append(ctx context.Context, rec *domain.LogRecord) error

	// Latest returns the most recent completed record of a thread for the
	// given loop kind. Failed records are skipped.
	// Returns domain.ErrLogNotFound if there is none.
	Latest(ctx context.Context, threadID, name string) (*domain.LogRecord, error)

	// List returns every record of a thread, oldest first.
	List(ctx context.Context, threadID string) ([]*domain.LogRecord, error)
}

// LogRecorder accepts log records for persistence.
type LogRecorder interface {
	Record(ctx context.Context, rec *domain.LogRecord) error
}
