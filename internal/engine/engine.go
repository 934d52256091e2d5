package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petrijr/flowtick/internal/lock"
	"github.com/petrijr/flowtick/internal/logging"
	"github.com/petrijr/flowtick/internal/persistence"
	"github.com/petrijr/flowtick/pkg/api"
)

// Config describes how to construct an Engine.
type Config struct {
	Persistence persistence.Persistence
	Registry    *Registry
	Clock       api.Clock
	Logger      *slog.Logger

	// OwnerID identifies this scheduler in run leases. Each processed run
	// gets a lease owner derived from it. Defaults to a random UUID.
	OwnerID string

	// Concurrency bounds how many runs one tick advances in parallel.
	// Values below 2 process the batch sequentially.
	Concurrency int
}

// Engine advances workflow runs one step at a time under run leases.
type Engine struct {
	store       persistence.RunStore
	sink        api.Sink
	registry    *Registry
	locks       *lock.Manager
	clock       api.Clock
	logger      *slog.Logger
	ownerID     string
	concurrency int
}

var _ api.Engine = (*Engine)(nil)

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) *Engine {
	sink := cfg.Persistence.Sink
	if sink == nil {
		sink = api.NoopSink{}
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = api.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(logging.NewCorrelationHandler(slog.Default().Handler()))
	}
	owner := cfg.OwnerID
	if owner == "" {
		owner = uuid.NewString()
	}

	return &Engine{
		store:       cfg.Persistence.Runs,
		sink:        sink,
		registry:    registry,
		locks:       lock.NewManager(cfg.Persistence.Runs, clock, logger),
		clock:       clock,
		logger:      logger,
		ownerID:     owner,
		concurrency: cfg.Concurrency,
	}
}

// NewInMemoryEngine returns an Engine over a fresh in-memory store.
func NewInMemoryEngine(registry *Registry, sink api.Sink) *Engine {
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Runs: persistence.NewInMemoryRunStore(),
			Sink: sink,
		},
		Registry: registry,
	})
}

// NewSQLiteEngine returns an Engine persisting runs and sink records in db.
func NewSQLiteEngine(db *sql.DB, registry *Registry) (*Engine, error) {
	runs, err := persistence.NewSQLiteRunStore(db)
	if err != nil {
		return nil, err
	}
	sink, err := persistence.NewSQLiteSink(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Runs: runs, Sink: sink},
		Registry:    registry,
	}), nil
}

// Registry returns the executor registry used by the engine.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// OwnerID returns the scheduler identity used in leases.
func (e *Engine) OwnerID() string {
	return e.ownerID
}

func (e *Engine) GetRun(ctx context.Context, id string) (*api.Run, error) {
	run, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// StartRun persists run as a new queued run: every step pending with no
// attempts, nextStepIndex 0 and due immediately unless NextRunnableAt is
// already set. An empty ID is replaced by a random UUID.
func (e *Engine) StartRun(ctx context.Context, run *api.Run) (*api.Run, error) {
	if run == nil {
		return nil, errors.New("run is required")
	}
	if run.WorkspaceID == "" {
		return nil, errors.New("workspace id is required")
	}
	for i, s := range run.Steps {
		if s.AgentType == "" {
			return nil, fmt.Errorf("step %d: agent type is required", i)
		}
	}

	now := e.clock.Now()
	r := run.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = api.StatusQueued
	r.NextStepIndex = 0
	r.Lease = nil
	r.LastError = nil
	for i := range r.Steps {
		s := &r.Steps[i]
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i)
		}
		s.Status = api.StepPending
		s.Attempts = 0
		s.NextAttemptAt = nil
		s.Output = nil
		s.Error = ""
	}
	if r.Context == nil {
		r.Context = map[string]any{}
	}
	if r.NextRunnableAt == nil {
		r.NextRunnableAt = &now
	}
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := e.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create run %s: %w", r.ID, err)
	}
	e.logger.InfoContext(ctx, "run_started",
		slog.String("run_id", r.ID),
		slog.String("workspace_id", r.WorkspaceID),
		slog.Int("steps", len(r.Steps)),
	)
	return r, nil
}
