package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/copilotz/pkg/adapters/memory"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewTaskStore())
	ctx := context.Background()
	count := 10000

	// 1. Run a turn on many threads
	for i := 0; i < count; i++ {
		tid := fmt.Sprintf("thread-%d", i)
		_ = mgr.WithLock(ctx, tid, func(context.Context) error { return nil })
	}

	// 2. Count locks remaining in map
	lockCount := len(mgr.locks)

	t.Logf("Threads Used: %d, Locks Leaked: %d", count, lockCount)

	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after turns", lockCount)
	}
}
