// Package logging carries run correlation fields through a context and
// injects them into slog records.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const correlationKey ctxKey = iota

// Correlation identifies what a log line is about. Zero fields are omitted.
type Correlation struct {
	RunID       string
	WorkspaceID string
	StepIndex   *int
	AgentType   string
}

func (c Correlation) attrs() []slog.Attr {
	var out []slog.Attr
	if c.RunID != "" {
		out = append(out, slog.String("run_id", c.RunID))
	}
	if c.WorkspaceID != "" {
		out = append(out, slog.String("workspace_id", c.WorkspaceID))
	}
	if c.StepIndex != nil {
		out = append(out, slog.Int("step_index", *c.StepIndex))
	}
	if c.AgentType != "" {
		out = append(out, slog.String("agent_type", c.AgentType))
	}
	return out
}

// FromContext returns the correlation stored in ctx.
func FromContext(ctx context.Context) Correlation {
	c, _ := ctx.Value(correlationKey).(Correlation)
	return c
}

// WithRun returns a context correlated with a run and its workspace.
// Step fields set earlier are dropped.
func WithRun(ctx context.Context, runID, workspaceID string) context.Context {
	return context.WithValue(ctx, correlationKey, Correlation{RunID: runID, WorkspaceID: workspaceID})
}

// WithStep adds the step being attempted to the correlation in ctx.
func WithStep(ctx context.Context, index int, agentType string) context.Context {
	c := FromContext(ctx)
	c.StepIndex = &index
	c.AgentType = agentType
	return context.WithValue(ctx, correlationKey, c)
}

// LogWith returns a logger enriched with the correlation fields from ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := FromContext(ctx).attrs()
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler wraps an slog.Handler and adds the correlation fields
// of the record's context to every record, so callers can simply use
// logger.InfoContext(ctx, ...).
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(FromContext(ctx).attrs()...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// New builds a correlated logger writing to w. format is "text" or "json";
// level is one of debug, info, warn, error.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var inner slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		inner = slog.NewTextHandler(w, opts)
	case "json":
		inner = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return slog.New(NewCorrelationHandler(inner)), nil
}
