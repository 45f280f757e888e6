package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/copilotz/pkg/ports"
)

// LockerContractTest is a reusable test suite that verifies if an adapter
// complies with ports.DistributedLocker.
func LockerContractTest(t *testing.T, locker ports.DistributedLocker) {
	t.Helper()
	ctx := context.Background()

	// 1. Lock and unlock
	t.Run("Lock_Unlock", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "contract-a", time.Second)
		if err != nil {
			t.Fatalf("unexpected error locking: %v", err)
		}
		if err := unlock(ctx); err != nil {
			t.Fatalf("unexpected error unlocking: %v", err)
		}

		// the key must be free again
		unlock, err = locker.Lock(ctx, "contract-a", time.Second)
		if err != nil {
			t.Fatalf("relock failed: %v", err)
		}
		_ = unlock(ctx)
	})

	// 2. Held lock blocks until the context expires
	t.Run("Lock_Contended", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "contract-b", 5*time.Second)
		if err != nil {
			t.Fatalf("unexpected error locking: %v", err)
		}
		defer func() { _ = unlock(ctx) }()

		short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
		defer cancel()
		if _, err := locker.Lock(short, "contract-b", time.Second); err == nil {
			t.Error("expected contended lock to fail when the context expires")
		}
	})

	// 3. Mutual exclusion
	t.Run("Lock_MutualExclusion", func(t *testing.T) {
		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := locker.Lock(ctx, "contract-c", 5*time.Second)
				if err != nil {
					t.Errorf("lock failed: %v", err)
					return
				}
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				_ = unlock(ctx)
			}()
		}
		wg.Wait()
		if got := maxInside.Load(); got != 1 {
			t.Errorf("expected at most 1 holder, got %d", got)
		}
	})
}
