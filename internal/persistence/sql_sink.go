package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

// SQLSink writes audit events and failure records into SQL tables
// (audit_events, workflow_failures, agent_failures).
type SQLSink struct {
	db      *sql.DB
	dialect sqlDialect
}

var _ api.Sink = (*SQLSink)(nil)

// NewSQLiteSink initializes the sink tables in a SQLite database.
func NewSQLiteSink(db *sql.DB) (*SQLSink, error) {
	return newSQLSink(db, sqliteDialect)
}

// NewPostgresSink initializes the sink tables in a PostgreSQL database.
func NewPostgresSink(db *sql.DB) (*SQLSink, error) {
	return newSQLSink(db, postgresDialect)
}

func newSQLSink(db *sql.DB, d sqlDialect) (*SQLSink, error) {
	s := &SQLSink{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init %s sink schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLSink) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id ` + s.dialect.autoID + `,
			workspace_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			meta TEXT NOT NULL DEFAULT '{}',
			at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_entity ON audit_events(entity_id, id)`,
		`CREATE TABLE IF NOT EXISTS workflow_failures (
			id ` + s.dialect.autoID + `,
			workspace_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			max_attempts INTEGER NOT NULL,
			status TEXT NOT NULL,
			occurred_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_failures (
			id ` + s.dialect.autoID + `,
			workspace_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			step_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			occurred_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLSink) WriteAuditEvent(ctx context.Context, ev api.AuditEvent) error {
	meta, err := encodeJSON(ev.Meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	a := &sqlArgs{dialect: s.dialect}
	values := a.list(ev.WorkspaceID, ev.ActorType, ev.Action, ev.EntityType, ev.EntityID, meta, stamp(ev.At))
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (workspace_id, actor_type, action, entity_type, entity_id, meta, at)
		VALUES (`+values+`)`,
		a.values...,
	)
	return err
}

func (s *SQLSink) LogWorkflowFailure(ctx context.Context, f api.WorkflowFailure) error {
	a := &sqlArgs{dialect: s.dialect}
	values := a.list(f.WorkspaceID, f.WorkflowID, f.RunID, f.StepID, f.Message,
		f.Attempts, f.MaxAttempts, f.Status, stamp(f.OccurredAt))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_failures (workspace_id, workflow_id, run_id, step_id, message, attempts, max_attempts, status, occurred_at)
		VALUES (`+values+`)`,
		a.values...,
	)
	return err
}

func (s *SQLSink) LogAgentFailure(ctx context.Context, f api.AgentFailure) error {
	a := &sqlArgs{dialect: s.dialect}
	values := a.list(f.WorkspaceID, f.RunID, f.AgentType, f.StepID, f.Message, stamp(f.OccurredAt))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_failures (workspace_id, run_id, agent_type, step_id, message, occurred_at)
		VALUES (`+values+`)`,
		a.values...,
	)
	return err
}

// ListAuditEvents returns the audit trail of one entity in insertion order.
func (s *SQLSink) ListAuditEvents(ctx context.Context, entityID string) ([]api.AuditEvent, error) {
	a := &sqlArgs{dialect: s.dialect}
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, actor_type, action, entity_type, entity_id, meta, at
		FROM audit_events
		WHERE entity_id = `+a.add(entityID)+`
		ORDER BY id ASC`,
		a.values...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.AuditEvent
	for rows.Next() {
		var (
			ev   api.AuditEvent
			meta string
			atN  int64
		)
		if err := rows.Scan(&ev.WorkspaceID, &ev.ActorType, &ev.Action, &ev.EntityType, &ev.EntityID, &meta, &atN); err != nil {
			return nil, err
		}
		if err := decodeJSON(meta, &ev.Meta); err != nil {
			return nil, fmt.Errorf("decode audit meta: %w", err)
		}
		ev.At = time.Unix(0, atN)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountWorkflowFailures returns the number of failure records for a run.
func (s *SQLSink) CountWorkflowFailures(ctx context.Context, runID string) (int, error) {
	a := &sqlArgs{dialect: s.dialect}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_failures WHERE run_id = `+a.add(runID),
		a.values...,
	).Scan(&n)
	return n, err
}

// CountAgentFailures returns the number of agent failure records for a run.
func (s *SQLSink) CountAgentFailures(ctx context.Context, runID string) (int, error) {
	a := &sqlArgs{dialect: s.dialect}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_failures WHERE run_id = `+a.add(runID),
		a.values...,
	).Scan(&n)
	return n, err
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixNano()
}
