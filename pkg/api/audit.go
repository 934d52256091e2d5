package api

import "time"

// Audit actions written by the scheduler.
const (
	ActionStepStarted    = "workflow_run.step_started"
	ActionStepSucceeded  = "workflow_run.step_succeeded"
	ActionRetryScheduled = "workflow_run.retry_scheduled"
	ActionRunSucceeded   = "workflow_run.succeeded"
	ActionRunFailed      = "workflow_run.failed"
)

const (
	// ActorSystem is the actor type of every audit event the scheduler writes.
	ActorSystem = "system"

	// EntityWorkflowRuns is the entity type of every audit event the scheduler writes.
	EntityWorkflowRuns = "workflow_runs"

	// FailureStatusOpen is the status a workflow failure record starts in.
	FailureStatusOpen = "open"
)

// AuditEvent is an append-only record of a run transition.
// Keep Meta small: identifiers, counts and short messages only.
type AuditEvent struct {
	WorkspaceID string         `json:"workspaceId" bson:"workspaceId"`
	ActorType   string         `json:"actorType" bson:"actorType"`
	Action      string         `json:"action" bson:"action"`
	EntityType  string         `json:"entityType" bson:"entityType"`
	EntityID    string         `json:"entityId" bson:"entityId"`
	Meta        map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
	At          time.Time      `json:"at" bson:"at"`
}

// WorkflowFailure records that a workflow run failed terminally.
type WorkflowFailure struct {
	WorkspaceID string    `json:"workspaceId" bson:"workspaceId"`
	WorkflowID  string    `json:"workflowId" bson:"workflowId"`
	RunID       string    `json:"runId" bson:"runId"`
	StepID      string    `json:"stepId" bson:"stepId"`
	Message     string    `json:"message" bson:"message"`
	Attempts    int       `json:"attempts" bson:"attempts"`
	MaxAttempts int       `json:"maxAttempts" bson:"maxAttempts"`
	OccurredAt  time.Time `json:"occurredAt" bson:"occurredAt"`
	Status      string    `json:"status" bson:"status"`
}

// AgentFailure records that an agent execution failed for good.
type AgentFailure struct {
	WorkspaceID string    `json:"workspaceId" bson:"workspaceId"`
	RunID       string    `json:"runId" bson:"runId"`
	AgentType   string    `json:"agentType" bson:"agentType"`
	Message     string    `json:"message" bson:"message"`
	StepID      string    `json:"stepId" bson:"stepId"`
	OccurredAt  time.Time `json:"occurredAt" bson:"occurredAt"`
}
