package api

import (
	"maps"
	"time"
)

// Status represents the lifecycle state of a workflow run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further scheduling happens for a run in s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// StepStatus represents the state of a single step within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Lease is a time-bounded exclusive claim on a run.
// It blocks other owners only while ExpiresAt is after the current time.
type Lease struct {
	OwnerID   string    `json:"ownerId" bson:"ownerId"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expiresAt"`
}

// Live reports whether the lease still blocks other owners at now.
func (l *Lease) Live(now time.Time) bool {
	return l != nil && l.ExpiresAt.After(now)
}

// RunError records the most recent fatal or retry-triggering failure of a run.
// It is informational only.
type RunError struct {
	Message   string    `json:"message" bson:"message"`
	StepIndex int       `json:"stepIndex" bson:"stepIndex"`
	At        time.Time `json:"at" bson:"at"`
}

// Step is one agent invocation within a run, addressed by its index.
type Step struct {
	ID          string         `json:"id" bson:"id"`
	AgentType   string         `json:"agentType" bson:"agentType"`
	Instruction string         `json:"instruction,omitempty" bson:"instruction,omitempty"`
	Input       map[string]any `json:"input,omitempty" bson:"input,omitempty"`

	Status      StepStatus    `json:"status" bson:"status"`
	Attempts    int           `json:"attempts" bson:"attempts"`
	MaxAttempts int           `json:"maxAttempts" bson:"maxAttempts"`
	RetryDelay  time.Duration `json:"retryDelay" bson:"retryDelay"`

	// NextAttemptAt, when set and in the future, holds back the next attempt.
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty" bson:"nextAttemptAt,omitempty"`

	Output any    `json:"output,omitempty" bson:"output,omitempty"`
	Error  string `json:"error,omitempty" bson:"error,omitempty"`
}

// EffectiveMaxAttempts returns MaxAttempts, treating values below 1 as 1.
func (s Step) EffectiveMaxAttempts() int {
	if s.MaxAttempts < 1 {
		return 1
	}
	return s.MaxAttempts
}

// Run is one execution of a workflow's ordered step list.
type Run struct {
	ID          string `json:"id" bson:"_id"`
	WorkspaceID string `json:"workspaceId" bson:"workspaceId"`
	WorkflowID  string `json:"workflowId,omitempty" bson:"workflowId,omitempty"`
	Status      Status `json:"status" bson:"status"`

	Steps []Step `json:"steps" bson:"steps"`

	// NextStepIndex semantics:
	//   - Before any step succeeded: 0
	//   - After step i succeeded: i+1
	//   - After all steps succeeded: len(Steps)
	NextStepIndex int `json:"nextStepIndex" bson:"nextStepIndex"`

	Context map[string]any `json:"context" bson:"context"`

	// NextRunnableAt is nil for terminal runs. A run is only eligible for a
	// tick once NextRunnableAt <= now.
	NextRunnableAt *time.Time `json:"nextRunnableAt,omitempty" bson:"nextRunnableAt,omitempty"`

	Lease     *Lease    `json:"lock,omitempty" bson:"lock,omitempty"`
	LastError *RunError `json:"lastError,omitempty" bson:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// CurrentStep returns the step at NextStepIndex, or false when every step
// has been consumed.
func (r *Run) CurrentStep() (Step, bool) {
	if r.NextStepIndex < 0 || r.NextStepIndex >= len(r.Steps) {
		return Step{}, false
	}
	return r.Steps[r.NextStepIndex], true
}

// Clone returns a copy of r that shares no mutable state with it.
// Step outputs and context values are copied shallowly.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Steps = make([]Step, len(r.Steps))
	for i, s := range r.Steps {
		s.Input = maps.Clone(s.Input)
		s.NextAttemptAt = cloneTime(s.NextAttemptAt)
		c.Steps[i] = s
	}
	c.Context = maps.Clone(r.Context)
	c.NextRunnableAt = cloneTime(r.NextRunnableAt)
	if r.Lease != nil {
		l := *r.Lease
		c.Lease = &l
	}
	if r.LastError != nil {
		e := *r.LastError
		c.LastError = &e
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
