package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/petrijr/flowtick/internal/logging"
	"github.com/petrijr/flowtick/internal/persistence"
	"github.com/petrijr/flowtick/pkg/api"
)

// MessageLeaseExpired is recorded when a step is found mid-attempt after its
// previous holder's lease expired and no attempts remain.
const MessageLeaseExpired = "attempt abandoned: lease expired"

// detailRunNotFound is the result detail for a run deleted while in flight.
const detailRunNotFound = "run not found"

// AdvanceOneStep performs exactly one transition on the run. The caller must
// hold the run's lease as owner; every write is guarded on that lease still
// being live, and a write that loses the guard reports OutcomeDiscarded.
//
// Transitions, in order of precedence:
//   - terminal run: no-op (skipped)
//   - no step left: run succeeds
//   - step retry not due: push nextRunnableAt to the retry time (skipped)
//   - otherwise attempt the step and record success, retry or failure
//
// The returned error is non-nil only for store failures other than a lost
// guard; the result then has OutcomeError.
func (e *Engine) AdvanceOneStep(ctx context.Context, runID, owner string) (api.RunResult, error) {
	res := api.RunResult{RunID: runID}

	run, err := e.store.Get(ctx, runID)
	if errors.Is(err, persistence.ErrRunNotFound) {
		res.Outcome = api.OutcomeDiscarded
		res.Detail = detailRunNotFound
		return res, nil
	}
	if err != nil {
		return e.failed(res, err)
	}
	ctx = logging.WithRun(ctx, run.ID, run.WorkspaceID)

	if run.Status.Terminal() {
		res.Outcome = api.OutcomeSkipped
		res.Detail = api.ReasonTerminal
		return res, nil
	}

	now := e.clock.Now()
	step, ok := run.CurrentStep()
	if !ok {
		return e.completeRun(ctx, run, owner, now)
	}
	ctx = logging.WithStep(ctx, run.NextStepIndex, step.AgentType)

	if step.NextAttemptAt != nil && step.NextAttemptAt.After(now) {
		due := *step.NextAttemptAt
		err := e.write(ctx, run.ID, owner, now, persistence.RunUpdate{NextRunnableAt: &due})
		if err != nil {
			return e.lost(ctx, res, err)
		}
		res.Outcome = api.OutcomeSkipped
		res.Detail = api.ReasonNotDue
		return res, nil
	}

	if step.Status == api.StepRunning && step.Attempts >= step.EffectiveMaxAttempts() {
		return e.failRun(ctx, run, owner, now, errors.New(MessageLeaseExpired))
	}

	return e.attemptStep(ctx, run, owner, now)
}

// completeRun marks a run whose steps are all consumed as succeeded.
func (e *Engine) completeRun(ctx context.Context, run *api.Run, owner string, now time.Time) (api.RunResult, error) {
	res := api.RunResult{RunID: run.ID}
	err := e.write(ctx, run.ID, owner, now, persistence.RunUpdate{
		Status:              api.StatusSucceeded,
		ClearNextRunnableAt: true,
	})
	if err != nil {
		return e.lost(ctx, res, err)
	}

	e.audit(ctx, run, api.ActionRunSucceeded, now, map[string]any{"steps": len(run.Steps)})
	e.logger.InfoContext(ctx, "run_succeeded")
	res.Outcome = api.OutcomeRunSucceeded
	return res, nil
}

func (e *Engine) attemptStep(ctx context.Context, run *api.Run, owner string, now time.Time) (api.RunResult, error) {
	res := api.RunResult{RunID: run.ID}
	idx := run.NextStepIndex
	step := &run.Steps[idx]

	// A step still marked running was abandoned by a crashed holder; the
	// attempt it counted stands and this one is the next.
	step.Attempts++
	step.Status = api.StepRunning
	step.NextAttemptAt = nil
	step.Error = ""
	err := e.write(ctx, run.ID, owner, now, persistence.RunUpdate{
		Status: api.StatusRunning,
		Steps:  run.Steps,
	})
	if err != nil {
		return e.lost(ctx, res, err)
	}
	run.Status = api.StatusRunning

	e.audit(ctx, run, api.ActionStepStarted, now, map[string]any{
		"stepIndex": idx,
		"stepId":    step.ID,
		"agentType": step.AgentType,
		"attempt":   step.Attempts,
	})
	e.logger.DebugContext(ctx, "step_started", slog.Int("attempt", step.Attempts))

	start := e.clock.Now()
	out, execErr := e.execute(ctx, run, idx)
	now = e.clock.Now()

	if execErr != nil {
		e.logger.WarnContext(ctx, "step_failed",
			slog.Int("attempt", step.Attempts),
			slog.Int("max_attempts", step.EffectiveMaxAttempts()),
			slog.Duration("duration", now.Sub(start)),
			slog.Any("error", execErr),
		)
		if step.Attempts < step.EffectiveMaxAttempts() {
			return e.scheduleRetry(ctx, run, owner, now, execErr)
		}
		return e.failRun(ctx, run, owner, now, execErr)
	}

	return e.recordSuccess(ctx, run, owner, now, out, now.Sub(start))
}

// execute resolves and invokes the executor for step idx. Unknown agent
// types and executor panics are returned as ordinary attempt failures.
func (e *Engine) execute(ctx context.Context, run *api.Run, idx int) (res api.ExecutorResult, err error) {
	step := run.Steps[idx]
	fn, err := e.registry.Resolve(step.AgentType)
	if err != nil {
		return api.ExecutorResult{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	return fn(ctx, api.ExecutorInput{
		WorkspaceID: run.WorkspaceID,
		WorkflowID:  run.WorkflowID,
		RunID:       run.ID,
		StepID:      step.ID,
		StepIndex:   idx,
		AgentType:   step.AgentType,
		Instruction: step.Instruction,
		Input:       maps.Clone(step.Input),
		Context:     maps.Clone(run.Context),
		Attempt:     step.Attempts,
	})
}

func (e *Engine) recordSuccess(ctx context.Context, run *api.Run, owner string, now time.Time, out api.ExecutorResult, took time.Duration) (api.RunResult, error) {
	res := api.RunResult{RunID: run.ID}
	idx := run.NextStepIndex
	step := &run.Steps[idx]

	merged := maps.Clone(run.Context)
	if merged == nil {
		merged = make(map[string]any, len(out.ContextPatch))
	}
	maps.Copy(merged, out.ContextPatch)

	step.Status = api.StepSucceeded
	step.Output = out.Output
	step.Error = ""
	next := idx + 1

	update := persistence.RunUpdate{
		Steps:         run.Steps,
		NextStepIndex: &next,
		Context:       merged,
	}
	last := next >= len(run.Steps)
	if last {
		update.Status = api.StatusSucceeded
		update.ClearNextRunnableAt = true
	} else {
		update.NextRunnableAt = &now
	}

	if err := e.write(ctx, run.ID, owner, now, update); err != nil {
		return e.lost(ctx, res, err)
	}

	e.audit(ctx, run, api.ActionStepSucceeded, now, map[string]any{
		"stepIndex": idx,
		"stepId":    step.ID,
		"agentType": step.AgentType,
		"attempt":   step.Attempts,
	})
	e.logger.InfoContext(ctx, "step_succeeded", slog.Duration("duration", took))

	if !last {
		res.Outcome = api.OutcomeStepSucceeded
		return res, nil
	}
	e.audit(ctx, run, api.ActionRunSucceeded, now, map[string]any{"steps": len(run.Steps)})
	e.logger.InfoContext(ctx, "run_succeeded")
	res.Outcome = api.OutcomeRunSucceeded
	return res, nil
}

func (e *Engine) scheduleRetry(ctx context.Context, run *api.Run, owner string, now time.Time, cause error) (api.RunResult, error) {
	res := api.RunResult{RunID: run.ID}
	idx := run.NextStepIndex
	step := &run.Steps[idx]

	delay := api.ComputeDelay(step.RetryDelay, step.Attempts)
	at := now.Add(delay)
	step.Status = api.StepPending
	step.Error = cause.Error()
	step.NextAttemptAt = &at

	err := e.write(ctx, run.ID, owner, now, persistence.RunUpdate{
		Status:         api.StatusQueued,
		Steps:          run.Steps,
		NextRunnableAt: &at,
		LastError:      &api.RunError{Message: cause.Error(), StepIndex: idx, At: now},
	})
	if err != nil {
		return e.lost(ctx, res, err)
	}

	e.audit(ctx, run, api.ActionRetryScheduled, now, map[string]any{
		"stepIndex":     idx,
		"stepId":        step.ID,
		"attempt":       step.Attempts,
		"maxAttempts":   step.EffectiveMaxAttempts(),
		"delayMs":       delay.Milliseconds(),
		"nextAttemptAt": at,
		"error":         cause.Error(),
	})
	e.logger.InfoContext(ctx, "retry_scheduled",
		slog.Int("attempt", step.Attempts),
		slog.Time("next_attempt_at", at),
	)
	res.Outcome = api.OutcomeRetryScheduled
	res.Detail = cause.Error()
	return res, nil
}

// failRun fails the current step and, with it, the run.
func (e *Engine) failRun(ctx context.Context, run *api.Run, owner string, now time.Time, cause error) (api.RunResult, error) {
	res := api.RunResult{RunID: run.ID}
	idx := run.NextStepIndex
	step := &run.Steps[idx]
	msg := cause.Error()

	step.Status = api.StepFailed
	step.Error = msg
	step.NextAttemptAt = nil

	err := e.write(ctx, run.ID, owner, now, persistence.RunUpdate{
		Status:              api.StatusFailed,
		Steps:               run.Steps,
		ClearNextRunnableAt: true,
		LastError:           &api.RunError{Message: msg, StepIndex: idx, At: now},
	})
	if err != nil {
		return e.lost(ctx, res, err)
	}

	e.audit(ctx, run, api.ActionRunFailed, now, map[string]any{
		"stepIndex": idx,
		"stepId":    step.ID,
		"agentType": step.AgentType,
		"attempts":  step.Attempts,
		"error":     msg,
	})
	e.report(ctx, "workflow_failure", e.sink.LogWorkflowFailure(ctx, api.WorkflowFailure{
		WorkspaceID: run.WorkspaceID,
		WorkflowID:  run.WorkflowID,
		RunID:       run.ID,
		StepID:      step.ID,
		Message:     msg,
		Attempts:    step.Attempts,
		MaxAttempts: step.EffectiveMaxAttempts(),
		OccurredAt:  now,
		Status:      api.FailureStatusOpen,
	}))
	e.report(ctx, "agent_failure", e.sink.LogAgentFailure(ctx, api.AgentFailure{
		WorkspaceID: run.WorkspaceID,
		RunID:       run.ID,
		AgentType:   step.AgentType,
		Message:     msg,
		StepID:      step.ID,
		OccurredAt:  now,
	}))
	e.logger.WarnContext(ctx, "run_failed", slog.Int("attempts", step.Attempts), slog.String("error", msg))

	res.Outcome = api.OutcomeRunFailed
	res.Detail = msg
	return res, nil
}

// write applies update guarded on owner still holding a live lease at now.
func (e *Engine) write(ctx context.Context, runID, owner string, now time.Time, update persistence.RunUpdate) error {
	update.UpdatedAt = now
	return e.store.ConditionalUpdate(ctx, runID, persistence.HeldGuard(owner, now), update)
}

// lost maps a failed guarded write to a result. Losing the guard or the run
// means someone else changed it; the work is dropped silently.
func (e *Engine) lost(ctx context.Context, res api.RunResult, err error) (api.RunResult, error) {
	if errors.Is(err, persistence.ErrConflict) || errors.Is(err, persistence.ErrRunNotFound) {
		e.logger.InfoContext(ctx, "advance_discarded", slog.Any("error", err))
		res.Outcome = api.OutcomeDiscarded
		res.Detail = err.Error()
		return res, nil
	}
	return e.failed(res, err)
}

func (e *Engine) failed(res api.RunResult, err error) (api.RunResult, error) {
	res.Outcome = api.OutcomeError
	res.Detail = err.Error()
	return res, err
}

func (e *Engine) audit(ctx context.Context, run *api.Run, action string, at time.Time, meta map[string]any) {
	e.report(ctx, "audit_event", e.sink.WriteAuditEvent(ctx, api.AuditEvent{
		WorkspaceID: run.WorkspaceID,
		ActorType:   api.ActorSystem,
		Action:      action,
		EntityType:  api.EntityWorkflowRuns,
		EntityID:    run.ID,
		Meta:        meta,
		At:          at,
	}))
}

// report logs a sink delivery failure. Sink errors never affect advancement.
func (e *Engine) report(ctx context.Context, record string, err error) {
	if err != nil {
		e.logger.WarnContext(ctx, "sink_write_failed", slog.String("record", record), slog.Any("error", err))
	}
}
