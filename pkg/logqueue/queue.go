// Package logqueue persists turn log records in the background.
//
// Records are buffered in a bounded channel and written by a single worker,
// which retries failed writes with exponential backoff. Close drains the
// buffer before returning, and Flush waits for every record enqueued before
// it.
package logqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("log queue closed")

const (
	DefaultCapacity   = 256
	DefaultMaxRetries = 5
)

// Queue implements ports.LogRecorder on top of a ports.LogStore.
type Queue struct {
	store      ports.LogStore
	logger     *slog.Logger
	maxRetries uint64
	interval   time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan entry
	done   chan struct{}

	// cancel aborts in-flight retries when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc
}

// entry is either a record to write or a flush barrier.
type entry struct {
	rec     *domain.LogRecord
	flushed chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity sets the buffer size. Record blocks while the buffer is full.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan entry, n)
		}
	}
}

// WithLogger sets the logger used to report dropped records.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithRetry sets the retry budget and the initial backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(q *Queue) {
		q.maxRetries = maxRetries
		q.interval = initial
	}
}

// New starts a queue writing into store.
func New(store ports.LogStore, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		logger:     logging.NewNop(),
		maxRetries: DefaultMaxRetries,
		interval:   100 * time.Millisecond,
		ch:         make(chan entry, DefaultCapacity),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	go q.run()
	return q
}

// Record enqueues rec. It blocks while the buffer is full, until ctx is done.
func (q *Queue) Record(ctx context.Context, rec *domain.LogRecord) error {
	return q.enqueue(ctx, entry{rec: rec})
}

// Flush waits until every record enqueued before the call has been written
// or dropped after its retries.
func (q *Queue) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	if err := q.enqueue(ctx, entry{flushed: flushed}); err != nil {
		return err
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) enqueue(ctx context.Context, e entry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records and waits until the buffer is drained or
// ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for e := range q.ch {
		if e.flushed != nil {
			close(e.flushed)
			continue
		}
		q.write(e.rec)
	}
}

func (q *Queue) write(rec *domain.LogRecord) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, q.maxRetries), q.ctx)

	op := func() error {
		return q.store.Append(q.ctx, rec)
	}
	notify := func(err error, wait time.Duration) {
		q.logger.Warn("log write failed, retrying", "log_id", rec.ID, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		q.logger.Error("log record dropped", "log_id", rec.ID, "thread_id", rec.ThreadID, "err", err)
	}
}
