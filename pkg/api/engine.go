package api

import (
	"context"
	"time"
)

// Engine is the high-level scheduler API.
type Engine interface {
	// Tick selects up to batchSize due runs and advances each by at most one
	// step under a lease of the given duration. It only returns an error when
	// the due-run query itself fails; per-run failures are reported in the
	// TickReport.
	Tick(ctx context.Context, batchSize int, lease time.Duration) (TickReport, error)

	// AdvanceOneStep advances the run by exactly one outcome. The caller must
	// hold the run's lease as owner.
	AdvanceOneStep(ctx context.Context, runID, owner string) (RunResult, error)

	// GetRun looks up a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// StartRun persists a new queued run.
	StartRun(ctx context.Context, run *Run) (*Run, error)
}
