package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/copilotz/pkg/adapters/sqlite"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

var (
	_ ports.TaskStore   = (*sqlite.TaskStore)(nil)
	_ ports.LogStore    = (*sqlite.LogStore)(nil)
	_ ports.LogRecorder = (*sqlite.LogStore)(nil)
)

func open(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "data", "copilotz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteTaskStore_Contract(t *testing.T) {
	ports.RunTaskStoreContract(t, open(t).Tasks())
}

func TestSQLiteLogStore_Contract(t *testing.T) {
	ports.RunLogStoreContract(t, open(t).Logs())
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copilotz.db")
	ctx := context.Background()
	wf := &domain.Workflow{Name: "wf", Steps: []domain.Step{{Name: "only"}}}

	store, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Tasks().Create(ctx, domain.NewTask("t1", "thread", wf, time.Now())))
	require.NoError(t, store.Close())

	store, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	task, err := store.Tasks().FindActive(ctx, "thread")
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
}

func TestSQLiteStore_ConcurrentCreate(t *testing.T) {
	store := open(t).Tasks()
	ctx := context.Background()
	wf := &domain.Workflow{Name: "wf", Steps: []domain.Step{{Name: "only"}}}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "t" + string(rune('a'+i))
			errs[i] = store.Create(ctx, domain.NewTask(id, "thread", wf, time.Now()))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrActiveTaskExists)
	}
	assert.Equal(t, 1, created)
}

func TestSQLiteStore_EmptyIDs(t *testing.T) {
	store := open(t)
	ctx := context.Background()

	_, err := store.Tasks().Get(ctx, "")
	assert.Error(t, err)
	assert.Error(t, store.Logs().Append(ctx, &domain.LogRecord{}))
}
