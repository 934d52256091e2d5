package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

// sqlDialect holds what differs between the SQL backends.
type sqlDialect struct {
	name        string
	placeholder func(n int) string
	autoID      string
}

// SQLRunStore is a RunStore backed by a database/sql connection. Every
// ConditionalUpdate is a single UPDATE whose WHERE clause carries the guard,
// so the database serialises competing writers.
//
// Use NewSQLiteRunStore or NewPostgresRunStore to construct one.
type SQLRunStore struct {
	db      *sql.DB
	dialect sqlDialect
}

var _ RunStore = (*SQLRunStore)(nil)

const runColumns = `id, workspace_id, workflow_id, status, steps, next_step_index, context,
	next_runnable_at, lease_owner, lease_expires_at, last_error, created_at, updated_at`

func newSQLRunStore(db *sql.DB, d sqlDialect) (*SQLRunStore, error) {
	s := &SQLRunStore{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init %s schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLRunStore) initSchema() error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			steps TEXT NOT NULL,
			next_step_index INTEGER NOT NULL DEFAULT 0,
			context TEXT NOT NULL DEFAULT 'null',
			next_runnable_at BIGINT,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at BIGINT NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_due ON workflow_runs(status, next_runnable_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// sqlArgs collects positional arguments and renders the dialect's
// placeholder for each one.
type sqlArgs struct {
	dialect sqlDialect
	values  []any
}

func (a *sqlArgs) add(v any) string {
	a.values = append(a.values, v)
	return a.dialect.placeholder(len(a.values))
}

func (a *sqlArgs) list(vs ...any) string {
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = a.add(v)
	}
	return strings.Join(ph, ", ")
}

func (s *SQLRunStore) Create(ctx context.Context, run *api.Run) error {
	row, err := encodeRunRow(run)
	if err != nil {
		return err
	}
	a := &sqlArgs{dialect: s.dialect}
	values := a.list(row.ID, row.WorkspaceID, row.WorkflowID, row.Status, row.Steps,
		row.NextStepIndex, row.Context, row.NextRunnableAt, row.LeaseOwner,
		row.LeaseExpiresAt, row.LastError, row.CreatedAt, row.UpdatedAt)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (`+runColumns+`) VALUES (`+values+`) ON CONFLICT (id) DO NOTHING`,
		a.values...,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunExists
	}
	return nil
}

func (s *SQLRunStore) Get(ctx context.Context, id string) (*api.Run, error) {
	a := &sqlArgs{dialect: s.dialect}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = `+a.add(id),
		a.values...,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *SQLRunStore) FindDue(ctx context.Context, statuses []api.Status, before time.Time, limit int) ([]*api.Run, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	a := &sqlArgs{dialect: s.dialect}
	in := make([]any, len(statuses))
	for i, st := range statuses {
		in[i] = string(st)
	}

	query := `SELECT ` + runColumns + ` FROM workflow_runs
		WHERE status IN (` + a.list(in...) + `)
		  AND next_runnable_at IS NOT NULL
		  AND next_runnable_at <= ` + a.add(before.UnixNano()) + `
		ORDER BY next_runnable_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ` + a.add(limit)
	}

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *SQLRunStore) ConditionalUpdate(ctx context.Context, id string, guard Guard, update RunUpdate) error {
	a := &sqlArgs{dialect: s.dialect}

	sets, err := s.setClauses(a, update)
	if err != nil {
		return err
	}
	// Arguments are collected in text order for positional placeholders.
	idArg := a.add(id)
	where, err := s.guardClause(a, guard)
	if err != nil {
		return err
	}
	query := `UPDATE workflow_runs SET ` + strings.Join(sets, ", ") +
		` WHERE id = ` + idArg + ` AND ` + where

	res, err := s.db.ExecContext(ctx, query, a.values...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	return s.missOrConflict(ctx, id)
}

// missOrConflict tells a guard mismatch from a missing run after an UPDATE
// touched no rows.
func (s *SQLRunStore) missOrConflict(ctx context.Context, id string) error {
	a := &sqlArgs{dialect: s.dialect}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM workflow_runs WHERE id = `+a.add(id),
		a.values...,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func (s *SQLRunStore) setClauses(a *sqlArgs, u RunUpdate) ([]string, error) {
	var sets []string
	if u.Status != "" {
		sets = append(sets, "status = "+a.add(string(u.Status)))
	}
	if u.Steps != nil {
		steps, err := encodeJSON(u.Steps)
		if err != nil {
			return nil, fmt.Errorf("encode steps: %w", err)
		}
		sets = append(sets, "steps = "+a.add(steps))
	}
	if u.NextStepIndex != nil {
		sets = append(sets, "next_step_index = "+a.add(*u.NextStepIndex))
	}
	if u.Context != nil {
		c, err := encodeJSON(u.Context)
		if err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
		sets = append(sets, "context = "+a.add(c))
	}
	switch {
	case u.ClearNextRunnableAt:
		sets = append(sets, "next_runnable_at = NULL")
	case u.NextRunnableAt != nil:
		sets = append(sets, "next_runnable_at = "+a.add(u.NextRunnableAt.UnixNano()))
	}
	switch {
	case u.ClearLease:
		sets = append(sets, "lease_owner = ''", "lease_expires_at = 0")
	case u.Lease != nil:
		sets = append(sets,
			"lease_owner = "+a.add(u.Lease.OwnerID),
			"lease_expires_at = "+a.add(u.Lease.ExpiresAt.UnixNano()),
		)
	}
	if u.LastError != nil {
		e, err := encodeJSON(u.LastError)
		if err != nil {
			return nil, fmt.Errorf("encode last error: %w", err)
		}
		sets = append(sets, "last_error = "+a.add(e))
	}
	if !u.UpdatedAt.IsZero() {
		sets = append(sets, "updated_at = "+a.add(u.UpdatedAt.UnixNano()))
	}
	if len(sets) == 0 {
		// Still run the guarded statement so callers learn whether it matched.
		sets = append(sets, "id = id")
	}
	return sets, nil
}

func (s *SQLRunStore) guardClause(a *sqlArgs, g Guard) (string, error) {
	switch g.kind {
	case guardFree:
		return "(lease_owner = '' OR lease_expires_at <= " + a.add(g.At.UnixNano()) + ")" +
			" AND status IN (" + activeStatusList(a) + ")", nil
	case guardHeld:
		return "lease_owner <> '' AND lease_owner = " + a.add(g.Owner) +
			" AND lease_expires_at > " + a.add(g.At.UnixNano()) +
			" AND status IN (" + activeStatusList(a) + ")", nil
	case guardOwned:
		return "lease_owner <> '' AND lease_owner = " + a.add(g.Owner), nil
	}
	return "", fmt.Errorf("unknown guard kind %d", g.kind)
}

func activeStatusList(a *sqlArgs) string {
	in := make([]any, len(activeStatuses))
	for i, st := range activeStatuses {
		in[i] = string(st)
	}
	return a.list(in...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*api.Run, error) {
	var (
		row       sqlRunRow
		next      sql.NullInt64
		lastError sql.NullString
	)
	if err := sc.Scan(
		&row.ID, &row.WorkspaceID, &row.WorkflowID, &row.Status, &row.Steps,
		&row.NextStepIndex, &row.Context, &next, &row.LeaseOwner,
		&row.LeaseExpiresAt, &lastError, &row.CreatedAt, &row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if next.Valid {
		row.NextRunnableAt = &next.Int64
	}
	if lastError.Valid {
		row.LastError = &lastError.String
	}
	return row.decode()
}
