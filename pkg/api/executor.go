package api

import "context"

// ExecutorInput is what a step executor receives for a single attempt.
// Context is a copy of the run context at the time of the attempt; mutating
// it has no effect on the run. Changes go through ExecutorResult.ContextPatch.
type ExecutorInput struct {
	WorkspaceID string
	WorkflowID  string
	RunID       string
	StepID      string
	StepIndex   int
	AgentType   string
	Instruction string
	Input       map[string]any
	Context     map[string]any
	Attempt     int
}

// ExecutorResult is the outcome of a successful step attempt.
type ExecutorResult struct {
	Output any

	// ContextPatch is shallow-merged into the run context after the step
	// succeeds: a key in the patch replaces the same key in the context.
	ContextPatch map[string]any
}

// Executor performs the work of one agent type. Any returned error (or
// panic) counts as a failed attempt of the step.
type Executor func(ctx context.Context, in ExecutorInput) (ExecutorResult, error)
