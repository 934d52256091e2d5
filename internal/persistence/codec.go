package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

// Column-level encoding for the SQL stores. Steps, context and the last
// error are stored as JSON text so rows stay readable from a SQL shell.
// Values round-trip through JSON types: numbers come back as float64.

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

// sqlRunRow is the column layout of the workflow_runs table.
type sqlRunRow struct {
	ID             string
	WorkspaceID    string
	WorkflowID     string
	Status         string
	Steps          string
	NextStepIndex  int
	Context        string
	NextRunnableAt *int64
	LeaseOwner     string
	LeaseExpiresAt int64
	LastError      *string
	CreatedAt      int64
	UpdatedAt      int64
}

func encodeRunRow(run *api.Run) (sqlRunRow, error) {
	steps := run.Steps
	if steps == nil {
		steps = []api.Step{}
	}
	stepsJSON, err := encodeJSON(steps)
	if err != nil {
		return sqlRunRow{}, fmt.Errorf("encode steps: %w", err)
	}
	ctxJSON, err := encodeJSON(run.Context)
	if err != nil {
		return sqlRunRow{}, fmt.Errorf("encode context: %w", err)
	}

	row := sqlRunRow{
		ID:            run.ID,
		WorkspaceID:   run.WorkspaceID,
		WorkflowID:    run.WorkflowID,
		Status:        string(run.Status),
		Steps:         stepsJSON,
		NextStepIndex: run.NextStepIndex,
		Context:       ctxJSON,
		CreatedAt:     run.CreatedAt.UnixNano(),
		UpdatedAt:     run.UpdatedAt.UnixNano(),
	}
	if run.NextRunnableAt != nil {
		n := run.NextRunnableAt.UnixNano()
		row.NextRunnableAt = &n
	}
	if run.Lease != nil {
		row.LeaseOwner = run.Lease.OwnerID
		row.LeaseExpiresAt = run.Lease.ExpiresAt.UnixNano()
	}
	if run.LastError != nil {
		s, err := encodeJSON(run.LastError)
		if err != nil {
			return sqlRunRow{}, fmt.Errorf("encode last error: %w", err)
		}
		row.LastError = &s
	}
	return row, nil
}

func (row sqlRunRow) decode() (*api.Run, error) {
	run := &api.Run{
		ID:            row.ID,
		WorkspaceID:   row.WorkspaceID,
		WorkflowID:    row.WorkflowID,
		Status:        api.Status(row.Status),
		NextStepIndex: row.NextStepIndex,
		CreatedAt:     time.Unix(0, row.CreatedAt),
		UpdatedAt:     time.Unix(0, row.UpdatedAt),
	}
	if err := decodeJSON(row.Steps, &run.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of run %s: %w", row.ID, err)
	}
	if err := decodeJSON(row.Context, &run.Context); err != nil {
		return nil, fmt.Errorf("decode context of run %s: %w", row.ID, err)
	}
	if row.NextRunnableAt != nil {
		t := time.Unix(0, *row.NextRunnableAt)
		run.NextRunnableAt = &t
	}
	if row.LeaseOwner != "" {
		run.Lease = &api.Lease{
			OwnerID:   row.LeaseOwner,
			ExpiresAt: time.Unix(0, row.LeaseExpiresAt),
		}
	}
	if row.LastError != nil && *row.LastError != "" {
		var e api.RunError
		if err := decodeJSON(*row.LastError, &e); err != nil {
			return nil, fmt.Errorf("decode last error of run %s: %w", row.ID, err)
		}
		run.LastError = &e
	}
	return run, nil
}
