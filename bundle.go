package flowtick

import (
	"database/sql"

	workerpkg "github.com/petrijr/flowtick/pkg/worker"
)

// WorkerBundle wires together a durable Scheduler and a Worker that ticks it.
type WorkerBundle struct {
	Engine *Scheduler
	Worker *workerpkg.Worker
}

// NewSQLiteBundle constructs a durable Scheduler + Worker pair over the
// provided *sql.DB. Runs, audit events and failure records are persisted in
// the database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:flowtick.db?_pragma=journal_mode(WAL)")
//	bundle, err := flowtick.NewSQLiteBundle(db, registry, worker.Config{Schedule: "@every 2s"})
//	// start runs via bundle.Engine, then bundle.Worker.Start(ctx)
func NewSQLiteBundle(db *sql.DB, registry *Registry, cfg workerpkg.Config) (*WorkerBundle, error) {
	eng, err := NewSQLiteScheduler(db, registry)
	if err != nil {
		return nil, err
	}

	w, err := workerpkg.NewWithConfig(eng, cfg)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
	}, nil
}
