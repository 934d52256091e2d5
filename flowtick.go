package flowtick

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/flowtick/internal/engine"
	"github.com/petrijr/flowtick/internal/persistence"
	"github.com/petrijr/flowtick/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Run                  = api.Run
	Step                 = api.Step
	Lease                = api.Lease
	RunError             = api.RunError
	Status               = api.Status
	StepStatus           = api.StepStatus
	Executor             = api.Executor
	ExecutorInput        = api.ExecutorInput
	ExecutorResult       = api.ExecutorResult
	Outcome              = api.Outcome
	RunResult            = api.RunResult
	TickReport           = api.TickReport
	Clock                = api.Clock
	Sink                 = api.Sink
	AuditEvent           = api.AuditEvent
	WorkflowFailure      = api.WorkflowFailure
	AgentFailure         = api.AgentFailure
	LoggingSink          = api.LoggingSink
	MemorySink           = api.MemorySink
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	UnknownAgentError    = api.UnknownAgentError

	// Scheduler is the concrete Engine implementation.
	Scheduler = engine.Engine
	// Config configures a Scheduler built with NewScheduler.
	Config = engine.Config
	// Registry maps agent types to executors.
	Registry = engine.Registry
)

// Re-export common sink helpers.

var (
	NewLoggingSink   = api.NewLoggingSink
	NewCompositeSink = api.NewCompositeSink
	NewRegistry      = engine.NewRegistry
)

var (
	ErrUnknownAgent = api.ErrUnknownAgent
	ErrLocked       = api.ErrLocked
	ErrRunNotFound  = persistence.ErrRunNotFound
)

// Re-export status values for convenience.

const (
	StatusQueued    = api.StatusQueued
	StatusRunning   = api.StatusRunning
	StatusSucceeded = api.StatusSucceeded
	StatusFailed    = api.StatusFailed
	StatusCanceled  = api.StatusCanceled
)

// Scheduler constructors.
// These wrap the internal packages so external callers
// never need to import them.

// NewScheduler returns a Scheduler built from cfg.
func NewScheduler(cfg Config) *Scheduler {
	return engine.NewEngineWithConfig(cfg)
}

// NewInMemoryScheduler returns a Scheduler backed by an in-memory store.
func NewInMemoryScheduler(registry *Registry, sink Sink) *Scheduler {
	return engine.NewInMemoryEngine(registry, sink)
}

// NewSQLiteScheduler returns a Scheduler that persists runs, audit events
// and failure records in a SQLite database.
func NewSQLiteScheduler(db *sql.DB, registry *Registry) (*Scheduler, error) {
	return engine.NewSQLiteEngine(db, registry)
}

// NewPostgresScheduler returns a Scheduler that persists runs, audit events
// and failure records in PostgreSQL.
func NewPostgresScheduler(db *sql.DB, registry *Registry) (*Scheduler, error) {
	runs, err := persistence.NewPostgresRunStore(db)
	if err != nil {
		return nil, err
	}
	sink, err := persistence.NewPostgresSink(db)
	if err != nil {
		return nil, err
	}
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Runs: runs, Sink: sink},
		Registry:    registry,
	}), nil
}

// NewRedisScheduler returns a Scheduler that persists runs in Redis under
// keys starting with prefix. Redis keeps no audit records; pass a Sink via
// NewScheduler for that.
func NewRedisScheduler(client redis.UniversalClient, prefix string, registry *Registry) *Scheduler {
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Runs: persistence.NewRedisRunStore(client, prefix)},
		Registry:    registry,
	})
}

// NewMongoScheduler returns a Scheduler that persists runs, audit events and
// failure records in the MongoDB database dbName.
func NewMongoScheduler(ctx context.Context, client *mongo.Client, dbName string, registry *Registry) (*Scheduler, error) {
	runs := persistence.NewMongoRunStore(client, dbName, "")
	if err := runs.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure run indexes: %w", err)
	}
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Runs: runs, Sink: persistence.NewMongoSink(client, dbName)},
		Registry:    registry,
	}), nil
}

// Convenience helpers that just forward to the underlying Engine.

// GetRun fetches a run by ID.
func GetRun(ctx context.Context, eng Engine, id string) (*Run, error) {
	return eng.GetRun(ctx, id)
}

// Tick advances up to batchSize due runs by one step each.
func Tick(ctx context.Context, eng Engine, batchSize int, lease time.Duration) (TickReport, error) {
	return eng.Tick(ctx, batchSize, lease)
}
