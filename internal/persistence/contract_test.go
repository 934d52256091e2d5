package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowtick/pkg/api"
)

// Times are whole milliseconds so every backend round-trips them exactly.
var baseTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newQueuedRun(id string, due time.Time) *api.Run {
	return &api.Run{
		ID:          id,
		WorkspaceID: "ws-1",
		WorkflowID:  "wf-1",
		Status:      api.StatusQueued,
		Steps: []api.Step{
			{ID: "s1", AgentType: "enricher", Status: api.StepPending, MaxAttempts: 3, RetryDelay: time.Second},
			{ID: "s2", AgentType: "scorer", Status: api.StepPending, MaxAttempts: 1},
		},
		Context:        map[string]any{"lead": "acme"},
		NextRunnableAt: &due,
		CreatedAt:      baseTime,
		UpdatedAt:      baseTime,
	}
}

// runStoreContract exercises the behaviour every RunStore must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) RunStore) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("FindDue", func(t *testing.T) { testFindDue(t, newStore(t)) })
	t.Run("Guards", func(t *testing.T) { testGuards(t, newStore(t)) })
	t.Run("HeldGuardRejectsTerminal", func(t *testing.T) { testHeldGuardRejectsTerminal(t, newStore(t)) })
	t.Run("FreeGuardRejectsTerminal", func(t *testing.T) { testFreeGuardRejectsTerminal(t, newStore(t)) })
	t.Run("UpdateFields", func(t *testing.T) { testUpdateFields(t, newStore(t)) })
	t.Run("ConcurrentAcquire", func(t *testing.T) { testConcurrentAcquire(t, newStore(t)) })
}

func testCreateGet(t *testing.T, store RunStore) {
	ctx := context.Background()
	run := newQueuedRun("run-1", baseTime)

	require.NoError(t, store.Create(ctx, run))
	require.ErrorIs(t, store.Create(ctx, run), ErrRunExists)

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", got.WorkspaceID)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, api.StatusQueued, got.Status)
	assert.Equal(t, 0, got.NextStepIndex)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "enricher", got.Steps[0].AgentType)
	assert.Equal(t, 3, got.Steps[0].MaxAttempts)
	assert.Equal(t, time.Second, got.Steps[0].RetryDelay)
	assert.Equal(t, api.StepPending, got.Steps[1].Status)
	assert.Equal(t, "acme", got.Context["lead"])
	require.NotNil(t, got.NextRunnableAt)
	assert.True(t, got.NextRunnableAt.Equal(baseTime))
	assert.Nil(t, got.Lease)
	assert.Nil(t, got.LastError)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func testFindDue(t *testing.T, store RunStore) {
	ctx := context.Background()

	late := newQueuedRun("late", baseTime.Add(-time.Minute))
	early := newQueuedRun("early", baseTime.Add(-time.Hour))
	future := newQueuedRun("future", baseTime.Add(time.Hour))
	running := newQueuedRun("running", baseTime.Add(-30*time.Minute))
	running.Status = api.StatusRunning
	done := newQueuedRun("done", baseTime.Add(-2*time.Hour))
	done.Status = api.StatusSucceeded
	idle := newQueuedRun("idle", baseTime)
	idle.NextRunnableAt = nil

	for _, r := range []*api.Run{late, early, future, running, done, idle} {
		require.NoError(t, store.Create(ctx, r))
	}

	active := []api.Status{api.StatusQueued, api.StatusRunning}
	due, err := store.FindDue(ctx, active, baseTime, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "running", "late"}, runIDs(due))

	due, err = store.FindDue(ctx, active, baseTime, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "running"}, runIDs(due))

	due, err = store.FindDue(ctx, []api.Status{api.StatusQueued}, baseTime, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, runIDs(due))

	due, err = store.FindDue(ctx, active, baseTime.Add(-3*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func testGuards(t *testing.T, store RunStore) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newQueuedRun("run-1", baseTime)))

	lease := func(owner string, d time.Duration) RunUpdate {
		return RunUpdate{Lease: &api.Lease{OwnerID: owner, ExpiresAt: baseTime.Add(d)}}
	}

	require.NoError(t, store.ConditionalUpdate(ctx, "run-1", FreeGuard(baseTime), lease("a", time.Minute)))
	require.ErrorIs(t, store.ConditionalUpdate(ctx, "run-1", FreeGuard(baseTime), lease("b", time.Minute)), ErrConflict)

	// Owner refreshes; others cannot write through the held guard.
	require.NoError(t, store.ConditionalUpdate(ctx, "run-1", HeldGuard("a", baseTime), lease("a", 2*time.Minute)))
	require.ErrorIs(t, store.ConditionalUpdate(ctx, "run-1", HeldGuard("b", baseTime), RunUpdate{Status: api.StatusRunning}), ErrConflict)

	// Past expiry the lease no longer blocks and the old holder loses it.
	later := baseTime.Add(2 * time.Minute)
	require.ErrorIs(t, store.ConditionalUpdate(ctx, "run-1", HeldGuard("a", later), RunUpdate{Status: api.StatusRunning}), ErrConflict)
	require.NoError(t, store.ConditionalUpdate(ctx, "run-1", FreeGuard(later), lease("b", 3*time.Minute)))

	// Release only by the recorded owner.
	require.ErrorIs(t, store.ConditionalUpdate(ctx, "run-1", OwnedGuard("a"), RunUpdate{ClearLease: true}), ErrConflict)
	require.NoError(t, store.ConditionalUpdate(ctx, "run-1", OwnedGuard("b"), RunUpdate{ClearLease: true}))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, got.Lease)

	require.ErrorIs(t, store.ConditionalUpdate(ctx, "missing", FreeGuard(baseTime), lease("a", time.Minute)), ErrRunNotFound)
}

func testHeldGuardRejectsTerminal(t *testing.T, store RunStore) {
	ctx := context.Background()
	run := newQueuedRun("run-1", baseTime)
	run.Status = api.StatusCanceled
	run.Lease = &api.Lease{OwnerID: "a", ExpiresAt: baseTime.Add(time.Minute)}
	require.NoError(t, store.Create(ctx, run))

	err := store.ConditionalUpdate(ctx, "run-1", HeldGuard("a", baseTime), RunUpdate{Status: api.StatusSucceeded})
	require.ErrorIs(t, err, ErrConflict)

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusCanceled, got.Status)
}

func testFreeGuardRejectsTerminal(t *testing.T, store RunStore) {
	ctx := context.Background()
	run := newQueuedRun("run-1", baseTime)
	run.Status = api.StatusCanceled
	run.NextRunnableAt = nil
	require.NoError(t, store.Create(ctx, run))

	err := store.ConditionalUpdate(ctx, "run-1", FreeGuard(baseTime), RunUpdate{
		Lease: &api.Lease{OwnerID: "a", ExpiresAt: baseTime.Add(time.Minute)},
	})
	require.ErrorIs(t, err, ErrConflict)

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, got.Lease)
	assert.Equal(t, api.StatusCanceled, got.Status)
}

func testUpdateFields(t *testing.T, store RunStore) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newQueuedRun("run-1", baseTime)))
	require.NoError(t, store.ConditionalUpdate(ctx, "run-1", FreeGuard(baseTime), RunUpdate{
		Lease: &api.Lease{OwnerID: "a", ExpiresAt: baseTime.Add(time.Minute)},
	}))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)

	retryAt := baseTime.Add(2 * time.Second)
	steps := got.Steps
	steps[0].Status = api.StepFailed
	steps[0].Attempts = 1
	steps[0].Error = "boom"
	steps[0].NextAttemptAt = &retryAt
	next := 0
	require.NoError(t, store.ConditionalUpdate(ctx, "run-1", HeldGuard("a", baseTime), RunUpdate{
		Status:         api.StatusRunning,
		Steps:          steps,
		NextStepIndex:  &next,
		Context:        map[string]any{"lead": "acme", "score": "high"},
		NextRunnableAt: &retryAt,
		LastError:      &api.RunError{Message: "boom", StepIndex: 0, At: baseTime},
		UpdatedAt:      baseTime.Add(time.Second),
	}))

	got, err = store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, got.Status)
	assert.Equal(t, api.StepFailed, got.Steps[0].Status)
	assert.Equal(t, 1, got.Steps[0].Attempts)
	assert.Equal(t, "boom", got.Steps[0].Error)
	require.NotNil(t, got.Steps[0].NextAttemptAt)
	assert.True(t, got.Steps[0].NextAttemptAt.Equal(retryAt))
	assert.Equal(t, "high", got.Context["score"])
	require.NotNil(t, got.NextRunnableAt)
	assert.True(t, got.NextRunnableAt.Equal(retryAt))
	require.NotNil(t, got.LastError)
	assert.Equal(t, "boom", got.LastError.Message)
	require.NotNil(t, got.Lease)
	assert.Equal(t, "a", got.Lease.OwnerID)
	assert.True(t, got.UpdatedAt.Equal(baseTime.Add(time.Second)))

	require.NoError(t, store.ConditionalUpdate(ctx, "run-1", HeldGuard("a", baseTime), RunUpdate{
		Status:              api.StatusFailed,
		ClearNextRunnableAt: true,
	}))
	got, err = store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, got.Status)
	assert.Nil(t, got.NextRunnableAt)

	due, err := store.FindDue(ctx, []api.Status{api.StatusQueued, api.StatusRunning}, baseTime.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func testConcurrentAcquire(t *testing.T, store RunStore) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newQueuedRun("run-1", baseTime)))

	const contenders = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < contenders; i++ {
		owner := fmt.Sprintf("owner-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.ConditionalUpdate(ctx, "run-1", FreeGuard(baseTime), RunUpdate{
				Lease: &api.Lease{OwnerID: owner, ExpiresAt: baseTime.Add(time.Minute)},
			})
			switch {
			case err == nil:
				mu.Lock()
				wins = append(wins, owner)
				mu.Unlock()
			case !errors.Is(err, ErrConflict):
				t.Errorf("unexpected error for %s: %v", owner, err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, wins, 1)
	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got.Lease)
	assert.Equal(t, wins[0], got.Lease.OwnerID)
}

func runIDs(runs []*api.Run) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids
}
