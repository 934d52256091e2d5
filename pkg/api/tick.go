package api

// Outcome is what a tick did to a single run.
type Outcome string

const (
	// OutcomeStepSucceeded means one step succeeded and more steps remain.
	OutcomeStepSucceeded Outcome = "step_succeeded"
	// OutcomeRunSucceeded means the run reached StatusSucceeded.
	OutcomeRunSucceeded Outcome = "run_succeeded"
	// OutcomeRetryScheduled means the step attempt failed and a retry was scheduled.
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	// OutcomeRunFailed means the step exhausted its attempts and the run failed.
	OutcomeRunFailed Outcome = "run_failed"
	// OutcomeSkipped means the run was not advanced: its lease is held
	// elsewhere, it is terminal, or its retry is not due yet.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDiscarded means the run changed underneath the worker (for
	// example it was canceled or its lease was taken over) and the in-flight
	// result was dropped.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeError means an infrastructure failure isolated to this run.
	OutcomeError Outcome = "error"
)

// Skip reasons reported in RunResult.Detail.
const (
	ReasonLocked   = "locked"
	ReasonTerminal = "terminal"
	ReasonNotDue   = "not_due"
)

// RunResult reports the outcome of processing one run.
type RunResult struct {
	RunID   string  `json:"runId"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// TickReport aggregates the per-run results of one tick.
type TickReport struct {
	Processed int         `json:"processed"`
	Results   []RunResult `json:"results"`
}

// Count returns how many results in the report have the given outcome.
func (r TickReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}
