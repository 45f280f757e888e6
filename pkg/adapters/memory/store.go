// Package memory provides in-process implementations of the storage ports.
// Records are copied on write and on read so callers never share state
// with the store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/copilotz/pkg/domain"
)

// TaskStore implements ports.TaskStore in memory.
// Safe for concurrent use.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	order []string
}

// NewTaskStore creates a new in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*domain.Task),
	}
}

// Get returns a copy of the task.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// FindActive returns the active task of a thread.
func (s *TaskStore) FindActive(ctx context.Context, extID string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if task := s.activeLocked(extID, ""); task != nil {
		return task.Clone(), nil
	}
	return nil, domain.ErrTaskNotFound
}

// activeLocked returns the active task of a thread other than exclude.
func (s *TaskStore) activeLocked(extID, exclude string) *domain.Task {
	for _, id := range s.order {
		t := s.tasks[id]
		if t.ExtID == extID && t.Status == domain.TaskActive && t.ID != exclude {
			return t
		}
	}
	return nil
}

// Create stores a new task.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.Status == domain.TaskActive && s.activeLocked(task.ExtID, "") != nil {
		return domain.ErrActiveTaskExists
	}
	if _, exists := s.tasks[task.ID]; !exists {
		s.order = append(s.order, task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Update replaces a stored task.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return domain.ErrTaskNotFound
	}
	if task.Status == domain.TaskActive && s.activeLocked(task.ExtID, task.ID) != nil {
		return domain.ErrActiveTaskExists
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// List returns the tasks of a thread in creation order.
func (s *TaskStore) List(ctx context.Context, extID string) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, id := range s.order {
		if t := s.tasks[id]; t.ExtID == extID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// LogStore implements ports.LogStore in memory.
// Safe for concurrent use.
type LogStore struct {
	mu      sync.RWMutex
	records []domain.LogRecord
}

// NewLogStore creates a new in-memory log store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// Append stores a copy of rec.
func (s *LogStore) Append(ctx context.Context, rec *domain.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// Record implements ports.LogRecorder by appending synchronously.
func (s *LogStore) Record(ctx context.Context, rec *domain.LogRecord) error {
	return s.Append(ctx, rec)
}

// Latest returns the most recent completed record of a thread and kind.
func (s *LogStore) Latest(ctx context.Context, threadID, name string) (*domain.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.LogRecord
	for i := range s.records {
		r := &s.records[i]
		if r.ThreadID != threadID || r.Name != name || r.Status == domain.LogFailed {
			continue
		}
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, domain.ErrLogNotFound
	}
	out := *latest
	return &out, nil
}

// List returns the records of a thread, oldest first.
func (s *LogStore) List(ctx context.Context, threadID string) ([]*domain.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.LogRecord
	for i := range s.records {
		if s.records[i].ThreadID == threadID {
			r := s.records[i]
			out = append(out, &r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
