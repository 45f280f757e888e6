// Package sqlite persists tasks and log records in a single SQLite database.
// It uses the pure Go modernc.org/sqlite driver, so no cgo toolchain is
// needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/aretw0/copilotz/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	ext_id     TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_ext_id ON tasks (ext_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS tasks_one_active ON tasks (ext_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS logs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	thread_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS logs_thread ON logs (thread_id, created_at);
`

// Store owns the database handle shared by the task and log views.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// TaskStore implements ports.TaskStore.
type TaskStore struct{ *Store }

// LogStore implements ports.LogStore and ports.LogRecorder.
type LogStore struct{ *Store }

// Tasks returns the task view of the store.
func (s *Store) Tasks() *TaskStore { return &TaskStore{s} }

// Logs returns the log view of the store.
func (s *Store) Logs() *LogStore { return &LogStore{s} }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanTask(row *sql.Row) (*domain.Task, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to read task: %w", err)
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

func findActive(ctx context.Context, q querier, extID string) (*domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx,
		`SELECT data FROM tasks WHERE ext_id = ? AND status = ?`, extID, string(domain.TaskActive)))
}

// Get loads a task by id.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	if id == "" {
		return nil, fmt.Errorf("task id cannot be empty")
	}
	return scanTask(s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id))
}

// FindActive returns the active task of a thread.
func (s *TaskStore) FindActive(ctx context.Context, extID string) (*domain.Task, error) {
	return findActive(ctx, s.db, extID)
}

// Create inserts a new task.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if task.Status == domain.TaskActive {
			if _, err := findActive(ctx, tx, task.ExtID); err == nil {
				return domain.ErrActiveTaskExists
			} else if !errors.Is(err, domain.ErrTaskNotFound) {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, ext_id, status, created_at, data) VALUES (?, ?, ?, ?, ?)`,
			task.ID, task.ExtID, string(task.Status), task.CreatedAt.UnixNano(), string(data))
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		return nil
	})
}

// Update replaces an existing task.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := scanTask(tx.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, task.ID)); err != nil {
			return err
		}
		if task.Status == domain.TaskActive {
			active, err := findActive(ctx, tx, task.ExtID)
			if err == nil && active.ID != task.ID {
				return domain.ErrActiveTaskExists
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET ext_id = ?, status = ?, data = ? WHERE id = ?`,
			task.ExtID, string(task.Status), string(data), task.ID)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrTaskNotFound
		}
		return nil
	})
}

// List returns the tasks of a thread in creation order.
func (s *TaskStore) List(ctx context.Context, extID string) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM tasks WHERE ext_id = ? ORDER BY created_at, rowid`, extID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to read task: %w", err)
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Append inserts a log record.
func (s *LogStore) Append(ctx context.Context, rec *domain.LogRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("log record id cannot be empty")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal log record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO logs (id, thread_id, name, status, created_at, data) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ThreadID, rec.Name, string(rec.Status), rec.CreatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert log record: %w", err)
	}
	return nil
}

// Record implements ports.LogRecorder by appending synchronously.
func (s *LogStore) Record(ctx context.Context, rec *domain.LogRecord) error {
	return s.Append(ctx, rec)
}

// Latest returns the most recent completed record of a thread and kind.
func (s *LogStore) Latest(ctx context.Context, threadID, name string) (*domain.LogRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM logs WHERE thread_id = ? AND name = ? AND status != ?
		 ORDER BY created_at DESC, seq DESC LIMIT 1`,
		threadID, name, string(domain.LogFailed))
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLogNotFound
		}
		return nil, fmt.Errorf("failed to read log record: %w", err)
	}
	var rec domain.LogRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal log record: %w", err)
	}
	return &rec, nil
}

// List returns the records of a thread, oldest first.
func (s *LogStore) List(ctx context.Context, threadID string) ([]*domain.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM logs WHERE thread_id = ? ORDER BY created_at, seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list log records: %w", err)
	}
	defer rows.Close()

	var out []*domain.LogRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to read log record: %w", err)
		}
		var r domain.LogRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log record: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
