package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/flowtick/internal/lock"
	"github.com/petrijr/flowtick/internal/logging"
	"github.com/petrijr/flowtick/internal/persistence"
	"github.com/petrijr/flowtick/pkg/api"
)

// schedulableStatuses are the run statuses a tick picks up.
var schedulableStatuses = []api.Status{api.StatusQueued, api.StatusRunning}

// Tick advances up to batchSize due runs by one step each. Runs are taken in
// ascending nextRunnableAt order; each is leased for lease, advanced and
// released independently, so one run's failure never affects the others.
// Tick only fails when the due-run query fails.
func (e *Engine) Tick(ctx context.Context, batchSize int, lease time.Duration) (api.TickReport, error) {
	if batchSize <= 0 {
		return api.TickReport{}, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if lease <= 0 {
		return api.TickReport{}, fmt.Errorf("lease duration must be positive, got %s", lease)
	}

	runs, err := e.store.FindDue(ctx, schedulableStatuses, e.clock.Now(), batchSize)
	if err != nil {
		return api.TickReport{}, fmt.Errorf("find due runs: %w", err)
	}

	results := make([]api.RunResult, len(runs))
	if e.concurrency < 2 {
		for i, run := range runs {
			results[i] = e.processRun(ctx, run, lease)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.concurrency)
		for i, run := range runs {
			g.Go(func() error {
				results[i] = e.processRun(ctx, run, lease)
				return nil
			})
		}
		_ = g.Wait()
	}

	report := api.TickReport{Processed: len(runs), Results: results}
	if len(runs) > 0 {
		e.logger.InfoContext(ctx, "tick_completed",
			slog.Int("processed", report.Processed),
			slog.Int("step_succeeded", report.Count(api.OutcomeStepSucceeded)),
			slog.Int("run_succeeded", report.Count(api.OutcomeRunSucceeded)),
			slog.Int("retry_scheduled", report.Count(api.OutcomeRetryScheduled)),
			slog.Int("run_failed", report.Count(api.OutcomeRunFailed)),
			slog.Int("skipped", report.Count(api.OutcomeSkipped)),
			slog.Int("discarded", report.Count(api.OutcomeDiscarded)),
			slog.Int("errors", report.Count(api.OutcomeError)),
		)
	}
	return report, nil
}

// AdvanceRun leases a single run, advances it by one step and releases it.
// It returns api.ErrLocked when another owner holds the run. A terminal run
// is reported as skipped and a missing one as discarded, both without error.
func (e *Engine) AdvanceRun(ctx context.Context, runID string, lease time.Duration) (api.RunResult, error) {
	if lease <= 0 {
		return api.RunResult{}, fmt.Errorf("lease duration must be positive, got %s", lease)
	}
	owner := e.leaseOwner()
	acq, err := e.locks.Acquire(ctx, runID, owner, lease)
	if errors.Is(err, persistence.ErrRunNotFound) {
		return api.RunResult{RunID: runID, Outcome: api.OutcomeDiscarded, Detail: detailRunNotFound}, nil
	}
	if err != nil {
		return api.RunResult{RunID: runID, Outcome: api.OutcomeError, Detail: err.Error()}, fmt.Errorf("acquire run %s: %w", runID, err)
	}
	if !acq.OK {
		res := api.RunResult{RunID: runID, Outcome: api.OutcomeSkipped, Detail: acq.Reason}
		if acq.Reason == lock.ReasonTerminal {
			return res, nil
		}
		return res, api.ErrLocked
	}
	defer e.locks.Release(context.WithoutCancel(ctx), runID, owner)

	return e.AdvanceOneStep(ctx, runID, owner)
}

// processRun runs acquire, advance and release for one run of a batch.
func (e *Engine) processRun(ctx context.Context, run *api.Run, lease time.Duration) (res api.RunResult) {
	ctx = logging.WithRun(ctx, run.ID, run.WorkspaceID)
	res = api.RunResult{RunID: run.ID}

	owner := e.leaseOwner()
	acq, err := e.locks.Acquire(ctx, run.ID, owner, lease)
	if errors.Is(err, persistence.ErrRunNotFound) {
		e.logger.DebugContext(ctx, "run_vanished")
		res.Outcome = api.OutcomeDiscarded
		res.Detail = detailRunNotFound
		return res
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "lock_acquire_failed", slog.Any("error", err))
		res.Outcome = api.OutcomeError
		res.Detail = err.Error()
		return res
	}
	if !acq.OK {
		res.Outcome = api.OutcomeSkipped
		res.Detail = acq.Reason
		return res
	}
	defer e.locks.Release(context.WithoutCancel(ctx), run.ID, owner)

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "advance_panicked", slog.Any("panic", r))
			res = api.RunResult{RunID: run.ID, Outcome: api.OutcomeError, Detail: fmt.Sprintf("panic: %v", r)}
		}
	}()

	res, err = e.AdvanceOneStep(ctx, run.ID, owner)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.ErrorContext(ctx, "advance_failed", slog.Any("error", err))
	}
	return res
}

// leaseOwner returns a lease owner unique to one acquisition, so two
// goroutines of the same engine never share a lease.
func (e *Engine) leaseOwner() string {
	return e.ownerID + "/" + uuid.NewString()
}
