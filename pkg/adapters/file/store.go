// Package file persists tasks and log records as JSON files on the local
// filesystem. It suits single-process use such as the CLI.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/copilotz/pkg/domain"
)

// Store roots the task and log directories.
//
//	<base>/tasks/<id>.json
//	<base>/logs/<threadId>/<id>.json
type Store struct {
	BasePath string
	mu       sync.Mutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".copilotz".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = ".copilotz"
	}
	return &Store{BasePath: basePath}
}

// TaskStore implements ports.TaskStore.
type TaskStore struct{ *Store }

// LogStore implements ports.LogStore and ports.LogRecorder.
type LogStore struct{ *Store }

// Tasks returns the task view of the store.
func (s *Store) Tasks() *TaskStore { return &TaskStore{s} }

// Logs returns the log view of the store.
func (s *Store) Logs() *LogStore { return &LogStore{s} }

func (s *Store) tasksDir() string { return filepath.Join(s.BasePath, "tasks") }

func (s *Store) logsDir(threadID string) string {
	return filepath.Join(s.BasePath, "logs", safeSegment(threadID))
}

// safeSegment keeps ids from escaping their directory.
func safeSegment(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(id)
}

// writeJSON persists v atomically: it writes a temp file in the same
// directory, fsyncs it and renames it over the destination.
func writeJSON(dir, name string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "tmp-"+name+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	dest := filepath.Join(dir, name+".json")
	// Windows cannot rename over an existing file.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to replace %s: %w", dest, err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// readDir decodes every JSON file of dir with decode.
func readDir(dir string, decode func([]byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := decode(data); err != nil {
			return fmt.Errorf("failed to decode %s: %w", name, err)
		}
	}
	return nil
}

// Get reads a task file.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	if id == "" {
		return nil, fmt.Errorf("task id cannot be empty")
	}
	data, err := os.ReadFile(filepath.Join(s.tasksDir(), safeSegment(id)+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// FindActive scans the thread's tasks for the active one.
func (s *TaskStore) FindActive(ctx context.Context, extID string) (*domain.Task, error) {
	tasks, err := s.List(ctx, extID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Status == domain.TaskActive {
			return t, nil
		}
	}
	return nil, domain.ErrTaskNotFound
}

// Create writes a new task file.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.Status == domain.TaskActive {
		if _, err := s.FindActive(ctx, task.ExtID); err == nil {
			return domain.ErrActiveTaskExists
		} else if !errors.Is(err, domain.ErrTaskNotFound) {
			return err
		}
	}
	return writeJSON(s.tasksDir(), safeSegment(task.ID), task)
}

// Update overwrites an existing task file.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Get(ctx, task.ID); err != nil {
		return err
	}
	if task.Status == domain.TaskActive {
		active, err := s.FindActive(ctx, task.ExtID)
		if err == nil && active.ID != task.ID {
			return domain.ErrActiveTaskExists
		}
	}
	return writeJSON(s.tasksDir(), safeSegment(task.ID), task)
}

// List returns the tasks of a thread in creation order.
func (s *TaskStore) List(ctx context.Context, extID string) ([]*domain.Task, error) {
	var out []*domain.Task
	err := readDir(s.tasksDir(), func(data []byte) error {
		var t domain.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		if t.ExtID == extID {
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Append writes a log record file.
func (s *LogStore) Append(ctx context.Context, rec *domain.LogRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("log record id cannot be empty")
	}
	return writeJSON(s.logsDir(rec.ThreadID), safeSegment(rec.ID), rec)
}

// Record implements ports.LogRecorder by appending synchronously.
func (s *LogStore) Record(ctx context.Context, rec *domain.LogRecord) error {
	return s.Append(ctx, rec)
}

// Latest returns the most recent completed record of a thread and kind.
func (s *LogStore) Latest(ctx context.Context, threadID, name string) (*domain.LogRecord, error) {
	recs, err := s.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Name == name && recs[i].Status != domain.LogFailed {
			return recs[i], nil
		}
	}
	return nil, domain.ErrLogNotFound
}

// List returns the records of a thread, oldest first.
func (s *LogStore) List(ctx context.Context, threadID string) ([]*domain.LogRecord, error) {
	var out []*domain.LogRecord
	err := readDir(s.logsDir(threadID), func(data []byte) error {
		var r domain.LogRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		out = append(out, &r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
