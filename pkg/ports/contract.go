package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/copilotz/pkg/domain"
)

func contractWorkflow() *domain.Workflow {
	return &domain.Workflow{
		Name: "onboarding",
		Steps: []domain.Step{
			{Name: "collect", Next: "confirm"},
			{Name: "confirm"},
		},
	}
}

// RunTaskStoreContract runs a suite of tests to verify that a TaskStore
// implementation adheres to the defined interface contract.
func RunTaskStoreContract(t *testing.T, store TaskStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	thread := "contract-thread-" + suffix
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Create and Get", func(t *testing.T) {
		task := domain.NewTask("task-a-"+suffix, thread, contractWorkflow(), now)
		task.Context.State["foo"] = "bar"
		task.Context.State["count"] = 42

		require.NoError(t, store.Create(ctx, task), "Create should not return error")

		loaded, err := store.Get(ctx, task.ID)
		require.NoError(t, err, "Get should not return error")
		assert.Equal(t, task.Workflow, loaded.Workflow)
		assert.Equal(t, "collect", loaded.CurrentStep)
		assert.Equal(t, domain.TaskActive, loaded.Status)
		assert.Equal(t, "bar", loaded.Context.State["foo"])
		// JSON persistence turns ints into float64.
		assert.NotNil(t, loaded.Context.State["count"])
		assert.True(t, task.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+suffix)
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	})

	t.Run("FindActive", func(t *testing.T) {
		active, err := store.FindActive(ctx, thread)
		require.NoError(t, err)
		assert.Equal(t, "task-a-"+suffix, active.ID)

		_, err = store.FindActive(ctx, "other-"+thread)
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	})

	t.Run("Single Active Task Per Thread", func(t *testing.T) {
		dup := domain.NewTask("task-b-"+suffix, thread, contractWorkflow(), now)
		err := store.Create(ctx, dup)
		assert.ErrorIs(t, err, domain.ErrActiveTaskExists)
	})

	t.Run("Update", func(t *testing.T) {
		task, err := store.Get(ctx, "task-a-"+suffix)
		require.NoError(t, err)

		task.CurrentStep = "confirm"
		task.Context.Steps["collect"] = domain.StepRecord{
			Args:      map[string]any{"name": "ada"},
			UpdatedAt: now,
		}
		task.Status = domain.TaskBacklog
		require.NoError(t, store.Update(ctx, task))

		loaded, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "confirm", loaded.CurrentStep)
		assert.Equal(t, "ada", loaded.Context.Steps["collect"].Args["name"])

		// A backlogged task no longer blocks new active tasks.
		_, err = store.FindActive(ctx, thread)
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
		require.NoError(t, store.Create(ctx, domain.NewTask("task-c-"+suffix, thread, contractWorkflow(), now.Add(time.Second))))
	})

	t.Run("Update Non-Existent", func(t *testing.T) {
		ghost := domain.NewTask("ghost-"+suffix, thread, contractWorkflow(), now)
		assert.ErrorIs(t, store.Update(ctx, ghost), domain.ErrTaskNotFound)
	})

	t.Run("List", func(t *testing.T) {
		tasks, err := store.List(ctx, thread)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "task-a-"+suffix, tasks[0].ID)
		assert.Equal(t, "task-c-"+suffix, tasks[1].ID)
	})

	t.Run("Stored Copies Are Isolated", func(t *testing.T) {
		task, err := store.Get(ctx, "task-c-"+suffix)
		require.NoError(t, err)
		task.Context.State["mutated"] = true

		again, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.NotContains(t, again.Context.State, "mutated")
	})
}

// RunLogStoreContract runs a suite of tests to verify that a LogStore
// implementation adheres to the defined interface contract.
func RunLogStoreContract(t *testing.T, store LogStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	thread := "contract-thread-" + suffix
	base := time.Now().UTC().Truncate(time.Millisecond)

	record := func(id string, status domain.LogStatus, offset time.Duration, message string) *domain.LogRecord {
		return &domain.LogRecord{
			ID:       id + "-" + suffix,
			Name:     "functionCall",
			ThreadID: thread,
			Input:    "hi",
			Output: domain.TurnOutput{
				Message: message,
				Answer:  map[string]any{"message": message},
			},
			Status:    status,
			CreatedAt: base.Add(offset),
		}
	}

	t.Run("Latest Empty", func(t *testing.T) {
		_, err := store.Latest(ctx, thread, "functionCall")
		assert.ErrorIs(t, err, domain.ErrLogNotFound)
	})

	t.Run("Latest Skips Failed", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, record("one", domain.LogCompleted, 0, "first")))
		require.NoError(t, store.Append(ctx, record("two", domain.LogCompleted, time.Second, "second")))
		require.NoError(t, store.Append(ctx, record("three", domain.LogFailed, 2*time.Second, "broken")))

		latest, err := store.Latest(ctx, thread, "functionCall")
		require.NoError(t, err)
		assert.Equal(t, "second", latest.Output.Message)
		assert.Equal(t, "second", latest.Output.Answer["message"])
	})

	t.Run("Latest Filters Kind", func(t *testing.T) {
		_, err := store.Latest(ctx, thread, "taskManager")
		assert.ErrorIs(t, err, domain.ErrLogNotFound)
	})

	t.Run("List", func(t *testing.T) {
		recs, err := store.List(ctx, thread)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "first", recs[0].Output.Message)
		assert.Equal(t, domain.LogFailed, recs[2].Status)
	})
}
