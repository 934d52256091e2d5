package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/flowtick/internal/testutil"
	"github.com/petrijr/flowtick/pkg/api"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	db    *sql.DB
	store *SQLRunStore
	sink  *SQLSink
}

func TestPostgresTestSuite(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewPostgresRunStore(db)
	if err != nil {
		t.Fatalf("NewPostgresRunStore failed: %v", err)
	}
	sink, err := NewPostgresSink(db)
	if err != nil {
		t.Fatalf("NewPostgresSink failed: %v", err)
	}

	suite.Run(t, &PostgresStoreTestSuite{db: db, store: store, sink: sink})
}

func (p *PostgresStoreTestSuite) SetupTest() {
	p.truncate()
}

func (p *PostgresStoreTestSuite) truncate() {
	_, err := p.db.Exec(`TRUNCATE workflow_runs, audit_events, workflow_failures, agent_failures`)
	p.Require().NoError(err, "truncate failed")
}

func (p *PostgresStoreTestSuite) TestContract() {
	runStoreContract(p.T(), func(t *testing.T) RunStore {
		p.truncate()
		return p.store
	})
}

func (p *PostgresStoreTestSuite) TestSinkRecordsFailures() {
	ctx := context.Background()
	p.Require().NoError(p.sink.WriteAuditEvent(ctx, api.AuditEvent{
		WorkspaceID: "ws-1",
		ActorType:   api.ActorSystem,
		Action:      api.ActionRunFailed,
		EntityType:  api.EntityWorkflowRuns,
		EntityID:    "run-1",
		Meta:        map[string]any{"error": "boom"},
		At:          baseTime,
	}))
	p.Require().NoError(p.sink.LogWorkflowFailure(ctx, api.WorkflowFailure{
		WorkspaceID: "ws-1", RunID: "run-1", Message: "boom", Attempts: 1, MaxAttempts: 1, Status: api.FailureStatusOpen,
	}))

	events, err := p.sink.ListAuditEvents(ctx, "run-1")
	p.Require().NoError(err)
	p.Require().Len(events, 1)
	p.Equal("boom", events[0].Meta["error"])

	n, err := p.sink.CountWorkflowFailures(ctx, "run-1")
	p.Require().NoError(err)
	p.Equal(1, n)
}
