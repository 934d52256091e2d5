package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petrijr/flowtick/internal/persistence"
	"github.com/petrijr/flowtick/pkg/api"
)

var start = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

const testLease = 30 * time.Second

type harness struct {
	engine *Engine
	store  persistence.RunStore
	clock  *api.ManualClock
	sink   *api.MemorySink
}

type storeFactory func(t *testing.T) persistence.RunStore

func memoryStore(t *testing.T) persistence.RunStore {
	return persistence.NewInMemoryRunStore()
}

func sqliteStore(t *testing.T) persistence.RunStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := persistence.NewSQLiteRunStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteRunStore failed: %v", err)
	}
	return store
}

var storeFactories = map[string]storeFactory{
	"in-memory": memoryStore,
	"sqlite":    sqliteStore,
}

func newHarness(t *testing.T, store persistence.RunStore, registry *Registry) *harness {
	t.Helper()
	clock := api.NewManualClock(start)
	sink := &api.MemorySink{}
	eng := NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Runs: store, Sink: sink},
		Registry:    registry,
		Clock:       clock,
		OwnerID:     "test-scheduler",
	})
	return &harness{engine: eng, store: store, clock: clock, sink: sink}
}

func (h *harness) startRun(t *testing.T, steps ...api.Step) *api.Run {
	t.Helper()
	run, err := h.engine.StartRun(context.Background(), &api.Run{
		WorkspaceID: "ws-1",
		WorkflowID:  "wf-1",
		Steps:       steps,
	})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	return run
}

func (h *harness) tick(t *testing.T) api.TickReport {
	t.Helper()
	report, err := h.engine.Tick(context.Background(), 10, testLease)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	return report
}

func (h *harness) get(t *testing.T, id string) *api.Run {
	t.Helper()
	run, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return run
}

// lease grants owner a lease on id directly through the store.
func (h *harness) lease(t *testing.T, id, owner string) {
	t.Helper()
	now := h.clock.Now()
	err := h.store.ConditionalUpdate(context.Background(), id, persistence.FreeGuard(now), persistence.RunUpdate{
		Lease: &api.Lease{OwnerID: owner, ExpiresAt: now.Add(testLease)},
	})
	if err != nil {
		t.Fatalf("lease %s for %s failed: %v", id, owner, err)
	}
}

func mustRegister(t *testing.T, r *Registry, agentType string, fn api.Executor) {
	t.Helper()
	if err := r.Register(agentType, fn); err != nil {
		t.Fatalf("Register(%s) failed: %v", agentType, err)
	}
}

func succeedWith(patch map[string]any, output any) api.Executor {
	return func(ctx context.Context, in api.ExecutorInput) (api.ExecutorResult, error) {
		return api.ExecutorResult{Output: output, ContextPatch: patch}, nil
	}
}

func alwaysFail(msg string) api.Executor {
	return func(ctx context.Context, in api.ExecutorInput) (api.ExecutorResult, error) {
		return api.ExecutorResult{}, errors.New(msg)
	}
}

func onlyResult(t *testing.T, report api.TickReport) api.RunResult {
	t.Helper()
	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d: %+v", len(report.Results), report.Results)
	}
	return report.Results[0]
}

// assertStepOrdering checks that exactly steps[0:nextStepIndex] succeeded.
func assertStepOrdering(t *testing.T, run *api.Run) {
	t.Helper()
	for i, s := range run.Steps {
		succeeded := s.Status == api.StepSucceeded
		if i < run.NextStepIndex && !succeeded {
			t.Fatalf("step %d before nextStepIndex %d has status %q", i, run.NextStepIndex, s.Status)
		}
		if i >= run.NextStepIndex && succeeded {
			t.Fatalf("step %d at or after nextStepIndex %d is succeeded", i, run.NextStepIndex)
		}
	}
}
