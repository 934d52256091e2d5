// Package lock grants time-bounded exclusive leases on workflow runs.
//
// A lease is recorded on the run itself and claimed through a single
// conditional update, so at most one owner holds a live lease at any instant
// no matter how many schedulers race for it. Leases are never forcibly
// revoked: an expired lease simply stops blocking other owners.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/petrijr/flowtick/internal/persistence"
	"github.com/petrijr/flowtick/pkg/api"
)

const (
	// ReasonLocked is reported when another owner holds a live lease.
	ReasonLocked = "locked"
	// ReasonTerminal is reported when the run is terminal and takes no lease.
	ReasonTerminal = api.ReasonTerminal
)

// Result is the outcome of an Acquire call.
type Result struct {
	OK     bool
	Reason string
}

// Manager acquires and releases run leases through a RunStore.
type Manager struct {
	store  persistence.RunStore
	clock  api.Clock
	logger *slog.Logger
}

// NewManager creates a Manager. A nil clock means the system clock and a nil
// logger means slog.Default().
func NewManager(store persistence.RunStore, clock api.Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = api.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, clock: clock, logger: logger}
}

// Acquire grants owner a lease of the given duration on runID when the run
// has no live lease, or refreshes it when owner already holds one.
//
// A run held by someone else yields Result{OK: false, Reason: "locked"} and
// a nil error; a terminal run yields Reason "terminal" and is left untouched.
// Store failures, persistence.ErrRunNotFound included, are returned alongside
// OK=false; the caller must treat them as "not acquired".
func (m *Manager) Acquire(ctx context.Context, runID, owner string, lease time.Duration) (Result, error) {
	now := m.clock.Now()
	update := persistence.RunUpdate{
		Lease: &api.Lease{OwnerID: owner, ExpiresAt: now.Add(lease)},
	}

	err := m.store.ConditionalUpdate(ctx, runID, persistence.FreeGuard(now), update)
	if errors.Is(err, persistence.ErrConflict) {
		// Re-entrant: the current holder may extend its own lease.
		err = m.store.ConditionalUpdate(ctx, runID, persistence.HeldGuard(owner, now), update)
	}

	switch {
	case err == nil:
		return Result{OK: true}, nil
	case errors.Is(err, persistence.ErrConflict):
		return m.refused(ctx, runID)
	default:
		return Result{}, err
	}
}

// refused reports why neither guard matched.
func (m *Manager) refused(ctx context.Context, runID string) (Result, error) {
	run, err := m.store.Get(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	if run.Status.Terminal() {
		return Result{Reason: ReasonTerminal}, nil
	}
	return Result{Reason: ReasonLocked}, nil
}

// Release clears the lease on runID if owner recorded it, expired or not.
// It never fails: a foreign or missing lease is a no-op and store errors are
// logged.
func (m *Manager) Release(ctx context.Context, runID, owner string) {
	err := m.store.ConditionalUpdate(ctx, runID, persistence.OwnedGuard(owner), persistence.RunUpdate{ClearLease: true})
	switch {
	case err == nil, errors.Is(err, persistence.ErrConflict), errors.Is(err, persistence.ErrRunNotFound):
	default:
		m.logger.WarnContext(ctx, "lock_release_failed",
			slog.String("run_id", runID),
			slog.String("owner_id", owner),
			slog.Any("error", err),
		)
	}
}
