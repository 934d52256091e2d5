package flowtick

import (
	"context"
	"maps"
	"time"
)

// RunBuilder provides a fluent API for assembling a run:
//
//	run, err := flowtick.NewRun("ws-1").
//	    Workflow("lead-intake").
//	    Set("lead", "acme").
//	    Step("enricher", "look up the company", nil).
//	    StepWithRetry("scorer", "score the lead", nil, flowtick.Retry(3).WithBackoff(time.Second)).
//	    Start(ctx, scheduler)
//
// It does not author workflows; it takes a fully specified step list.
type RunBuilder struct {
	run Run
}

// NewRun creates a builder for a run in the given workspace.
func NewRun(workspaceID string) *RunBuilder {
	return &RunBuilder{
		run: Run{
			WorkspaceID: workspaceID,
			Steps:       make([]Step, 0),
			Context:     map[string]any{},
		},
	}
}

// ID sets the run ID. Without it the scheduler assigns a random UUID.
func (b *RunBuilder) ID(id string) *RunBuilder {
	b.run.ID = id
	return b
}

// Workflow records the workflow the run was started from.
func (b *RunBuilder) Workflow(workflowID string) *RunBuilder {
	b.run.WorkflowID = workflowID
	return b
}

// Context merges values into the run's initial context.
func (b *RunBuilder) Context(values map[string]any) *RunBuilder {
	maps.Copy(b.run.Context, values)
	return b
}

// Set puts one value into the run's initial context.
func (b *RunBuilder) Set(key string, value any) *RunBuilder {
	b.run.Context[key] = value
	return b
}

// NotBefore delays the run's first step until at.
func (b *RunBuilder) NotBefore(at time.Time) *RunBuilder {
	b.run.NextRunnableAt = &at
	return b
}

// Step appends a single-attempt step.
func (b *RunBuilder) Step(agentType, instruction string, input map[string]any) *RunBuilder {
	return b.StepWithRetry(agentType, instruction, input, Retry(1))
}

// StepWithRetry appends a step that uses the given retry settings.
func (b *RunBuilder) StepWithRetry(agentType, instruction string, input map[string]any, retry RetryBuilder) *RunBuilder {
	if agentType == "" {
		panic("flowtick: step agent type must not be empty")
	}
	s := Step{
		AgentType:   agentType,
		Instruction: instruction,
		Input:       maps.Clone(input),
	}
	retry.apply(&s)
	b.run.Steps = append(b.run.Steps, s)
	return b
}

// Build returns a copy of the assembled run.
func (b *RunBuilder) Build() *Run {
	return b.run.Clone()
}

// Start persists the run as queued on eng.
func (b *RunBuilder) Start(ctx context.Context, eng Engine) (*Run, error) {
	return eng.StartRun(ctx, b.Build())
}

// MustStart is like Start but panics on error.
func (b *RunBuilder) MustStart(ctx context.Context, eng Engine) *Run {
	run, err := b.Start(ctx, eng)
	if err != nil {
		panic(err)
	}
	return run
}
