// Package redis provides Redis-backed implementations of the storage and
// locking ports.
//
// Key layout, relative to the configured prefix:
//
//	task:<id>                  task JSON
//	thread:<extId>:tasks       ZSET of task ids scored by creation time
//	thread:<extId>:active      id of the thread's active task
//	log:<id>                   log record JSON
//	thread:<threadId>:logs     ZSET of log ids scored by creation time
//	lock:<key>                 distributed lock token
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/copilotz/pkg/domain"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "copilotz:"

// releaseIfOwner deletes KEYS[1] only while it still holds ARGV[1].
var releaseIfOwner = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Store holds the Redis connection shared by TaskStore and LogStore.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration of task and log keys. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// TaskStore implements ports.TaskStore.
type TaskStore struct{ *Store }

// LogStore implements ports.LogStore and ports.LogRecorder.
type LogStore struct{ *Store }

// Tasks returns the task view of the store.
func (s *Store) Tasks() *TaskStore { return &TaskStore{s} }

// Logs returns the log view of the store.
func (s *Store) Logs() *LogStore { return &LogStore{s} }

func (s *Store) taskKey(id string) string      { return s.prefix + "task:" + id }
func (s *Store) taskIndex(extID string) string { return s.prefix + "thread:" + extID + ":tasks" }
func (s *Store) activeKey(extID string) string { return s.prefix + "thread:" + extID + ":active" }
func (s *Store) logKey(id string) string       { return s.prefix + "log:" + id }
func (s *Store) logIndex(thread string) string { return s.prefix + "thread:" + thread + ":logs" }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Get retrieves a task.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	val, err := s.client.Get(ctx, s.taskKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task from redis: %w", err)
	}
	return decodeTask(val)
}

// FindActive follows the thread's active pointer.
func (s *TaskStore) FindActive(ctx context.Context, extID string) (*domain.Task, error) {
	id, err := s.client.Get(ctx, s.activeKey(extID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get active task from redis: %w", err)
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskActive {
		return nil, domain.ErrTaskNotFound
	}
	return task, nil
}

// Create stores a new task. The active pointer is claimed with SET NX so two
// replicas cannot both create an active task for the same thread.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if task.Status == domain.TaskActive {
		ok, err := s.client.SetNX(ctx, s.activeKey(task.ExtID), task.ID, s.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to claim active task: %w", err)
		}
		if !ok {
			if _, err := s.FindActive(ctx, task.ExtID); err == nil {
				return domain.ErrActiveTaskExists
			}
			// stale pointer to a retired or expired task
			if err := s.client.Set(ctx, s.activeKey(task.ExtID), task.ID, s.ttl).Err(); err != nil {
				return fmt.Errorf("failed to claim active task: %w", err)
			}
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.taskKey(task.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.taskIndex(task.ExtID), backend.Z{Score: score(task.CreatedAt), Member: task.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task to redis: %w", err)
	}
	return nil
}

// Update replaces a stored task and keeps the active pointer in sync.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	n, err := s.client.Exists(ctx, s.taskKey(task.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if n == 0 {
		return domain.ErrTaskNotFound
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := s.client.Set(ctx, s.taskKey(task.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save task to redis: %w", err)
	}
	if task.Status == domain.TaskActive {
		return s.client.Set(ctx, s.activeKey(task.ExtID), task.ID, s.ttl).Err()
	}
	return releaseIfOwner.Run(ctx, s.client, []string{s.activeKey(task.ExtID)}, task.ID).Err()
}

// List returns the tasks of a thread in creation order.
func (s *TaskStore) List(ctx context.Context, extID string) ([]*domain.Task, error) {
	ids, err := s.client.ZRange(ctx, s.taskIndex(extID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	vals, err := s.mget(ctx, ids, s.taskKey)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Task, 0, len(vals))
	for _, v := range vals {
		task, err := decodeTask(v)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

// Append stores a log record and indexes it under its thread.
func (s *LogStore) Append(ctx context.Context, rec *domain.LogRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal log record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.logKey(rec.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.logIndex(rec.ThreadID), backend.Z{Score: score(rec.CreatedAt), Member: rec.ID})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.logIndex(rec.ThreadID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save log record to redis: %w", err)
	}
	return nil
}

// Record implements ports.LogRecorder by appending synchronously.
func (s *LogStore) Record(ctx context.Context, rec *domain.LogRecord) error {
	return s.Append(ctx, rec)
}

// Latest returns the most recent completed record of a thread and kind.
func (s *LogStore) Latest(ctx context.Context, threadID, name string) (*domain.LogRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.logIndex(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list log records: %w", err)
	}
	vals, err := s.mget(ctx, ids, s.logKey)
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		rec, err := decodeLog(v)
		if err != nil {
			return nil, err
		}
		if rec.Name == name && rec.Status != domain.LogFailed {
			return rec, nil
		}
	}
	return nil, domain.ErrLogNotFound
}

// List returns the records of a thread, oldest first.
func (s *LogStore) List(ctx context.Context, threadID string) ([]*domain.LogRecord, error) {
	ids, err := s.client.ZRange(ctx, s.logIndex(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list log records: %w", err)
	}
	vals, err := s.mget(ctx, ids, s.logKey)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.LogRecord, 0, len(vals))
	for _, v := range vals {
		rec, err := decodeLog(v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// mget fetches the keys of ids, skipping entries that expired since the
// index was read.
func (s *Store) mget(ctx context.Context, ids []string, key func(string) string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}

func decodeTask(val string) (*domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal([]byte(val), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if task.Context.Steps == nil {
		task.Context.Steps = make(map[string]domain.StepRecord)
	}
	if task.Context.State == nil {
		task.Context.State = make(map[string]any)
	}
	return &task, nil
}

func decodeLog(val string) (*domain.LogRecord, error) {
	var rec domain.LogRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal log record: %w", err)
	}
	return &rec, nil
}
