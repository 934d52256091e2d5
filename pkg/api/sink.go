package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink receives the audit and failure records produced while advancing runs.
//
// Delivery is fire-and-forget from the scheduler's point of view: a returned
// error is logged and never aborts step advancement. Implementations should
// be fast; slow sinks delay the tick that calls them.
type Sink interface {
	WriteAuditEvent(ctx context.Context, ev AuditEvent) error
	LogWorkflowFailure(ctx context.Context, f WorkflowFailure) error
	LogAgentFailure(ctx context.Context, f AgentFailure) error
}

// NoopSink is a Sink that does nothing.
// It is used as the default when no sink is configured.
type NoopSink struct{}

func (NoopSink) WriteAuditEvent(ctx context.Context, ev AuditEvent) error        { return nil }
func (NoopSink) LogWorkflowFailure(ctx context.Context, f WorkflowFailure) error { return nil }
func (NoopSink) LogAgentFailure(ctx context.Context, f AgentFailure) error       { return nil }

// CompositeSink fans out records to multiple sinks.
// Every sink is called even if an earlier one fails.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink creates a Sink that forwards records to each non-nil
// sink in sinks.
func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeSink{sinks: filtered}
}

func (c *CompositeSink) WriteAuditEvent(ctx context.Context, ev AuditEvent) error {
	var errs []error
	for _, s := range c.sinks {
		errs = append(errs, s.WriteAuditEvent(ctx, ev))
	}
	return errors.Join(errs...)
}

func (c *CompositeSink) LogWorkflowFailure(ctx context.Context, f WorkflowFailure) error {
	var errs []error
	for _, s := range c.sinks {
		errs = append(errs, s.LogWorkflowFailure(ctx, f))
	}
	return errors.Join(errs...)
}

func (c *CompositeSink) LogAgentFailure(ctx context.Context, f AgentFailure) error {
	var errs []error
	for _, s := range c.sinks {
		errs = append(errs, s.LogAgentFailure(ctx, f))
	}
	return errors.Join(errs...)
}

// LoggingSink writes records as structured logs using log/slog.
type LoggingSink struct {
	Logger *slog.Logger
}

// NewLoggingSink creates a Sink that logs every record using the provided
// slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSink{Logger: logger}
}

func (s *LoggingSink) WriteAuditEvent(ctx context.Context, ev AuditEvent) error {
	s.Logger.InfoContext(ctx, "audit_event",
		slog.String("workspace_id", ev.WorkspaceID),
		slog.String("action", ev.Action),
		slog.String("entity_type", ev.EntityType),
		slog.String("entity_id", ev.EntityID),
		slog.Any("meta", ev.Meta),
	)
	return nil
}

func (s *LoggingSink) LogWorkflowFailure(ctx context.Context, f WorkflowFailure) error {
	s.Logger.ErrorContext(ctx, "workflow_failure",
		slog.String("workspace_id", f.WorkspaceID),
		slog.String("workflow_id", f.WorkflowID),
		slog.String("run_id", f.RunID),
		slog.String("step_id", f.StepID),
		slog.Int("attempts", f.Attempts),
		slog.Int("max_attempts", f.MaxAttempts),
		slog.String("message", f.Message),
	)
	return nil
}

func (s *LoggingSink) LogAgentFailure(ctx context.Context, f AgentFailure) error {
	s.Logger.ErrorContext(ctx, "agent_failure",
		slog.String("workspace_id", f.WorkspaceID),
		slog.String("run_id", f.RunID),
		slog.String("agent_type", f.AgentType),
		slog.String("step_id", f.StepID),
		slog.String("message", f.Message),
	)
	return nil
}

// MemorySink keeps every record in memory. It is safe for concurrent use
// and mostly useful in tests and local runners.
type MemorySink struct {
	mu               sync.Mutex
	events           []AuditEvent
	workflowFailures []WorkflowFailure
	agentFailures    []AgentFailure
}

func (m *MemorySink) WriteAuditEvent(ctx context.Context, ev AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemorySink) LogWorkflowFailure(ctx context.Context, f WorkflowFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowFailures = append(m.workflowFailures, f)
	return nil
}

func (m *MemorySink) LogAgentFailure(ctx context.Context, f AgentFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentFailures = append(m.agentFailures, f)
	return nil
}

// Events returns a copy of the recorded audit events.
func (m *MemorySink) Events() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEvent(nil), m.events...)
}

// Actions returns the actions of the recorded audit events for runID, in order.
func (m *MemorySink) Actions(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		if ev.EntityID == runID {
			out = append(out, ev.Action)
		}
	}
	return out
}

// WorkflowFailures returns a copy of the recorded workflow failures.
func (m *MemorySink) WorkflowFailures() []WorkflowFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WorkflowFailure(nil), m.workflowFailures...)
}

// AgentFailures returns a copy of the recorded agent failures.
func (m *MemorySink) AgentFailures() []AgentFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AgentFailure(nil), m.agentFailures...)
}

// BasicMetrics counts records by kind. It implements Sink and can be
// combined with other sinks via NewCompositeSink.
type BasicMetrics struct {
	stepsStarted     atomic.Int64
	stepsSucceeded   atomic.Int64
	retriesScheduled atomic.Int64
	runsSucceeded    atomic.Int64
	runsFailed       atomic.Int64
	agentFailures    atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	StepsStarted     int64
	StepsSucceeded   int64
	RetriesScheduled int64
	RunsSucceeded    int64
	RunsFailed       int64
	AgentFailures    int64
}

func (m *BasicMetrics) WriteAuditEvent(ctx context.Context, ev AuditEvent) error {
	switch ev.Action {
	case ActionStepStarted:
		m.stepsStarted.Add(1)
	case ActionStepSucceeded:
		m.stepsSucceeded.Add(1)
	case ActionRetryScheduled:
		m.retriesScheduled.Add(1)
	case ActionRunSucceeded:
		m.runsSucceeded.Add(1)
	}
	return nil
}

func (m *BasicMetrics) LogWorkflowFailure(ctx context.Context, f WorkflowFailure) error {
	m.runsFailed.Add(1)
	return nil
}

func (m *BasicMetrics) LogAgentFailure(ctx context.Context, f AgentFailure) error {
	m.agentFailures.Add(1)
	return nil
}

// Snapshot returns a snapshot of the current counters.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		StepsStarted:     m.stepsStarted.Load(),
		StepsSucceeded:   m.stepsSucceeded.Load(),
		RetriesScheduled: m.retriesScheduled.Load(),
		RunsSucceeded:    m.runsSucceeded.Load(),
		RunsFailed:       m.runsFailed.Load(),
		AgentFailures:    m.agentFailures.Load(),
	}
}
