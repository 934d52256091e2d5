package persistence

import (
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

type guardKind int

const (
	guardFree guardKind = iota + 1
	guardHeld
	guardOwned
)

// Guard is the condition a ConditionalUpdate is keyed on. It always refers
// to the run's lease; see FreeGuard, HeldGuard and OwnedGuard.
type Guard struct {
	kind  guardKind
	Owner string
	At    time.Time
}

// FreeGuard matches a non-terminal run without a live lease at now: either
// no lease is recorded or the recorded one has expired.
func FreeGuard(now time.Time) Guard {
	return Guard{kind: guardFree, At: now}
}

// HeldGuard matches a non-terminal run whose lease is owned by owner and
// still live at now.
func HeldGuard(owner string, now time.Time) Guard {
	return Guard{kind: guardHeld, Owner: owner, At: now}
}

// OwnedGuard matches a run whose recorded lease owner is owner, whether or
// not the lease has expired.
func OwnedGuard(owner string) Guard {
	return Guard{kind: guardOwned, Owner: owner}
}

// Matches evaluates the guard against run.
func (g Guard) Matches(run *api.Run) bool {
	switch g.kind {
	case guardFree:
		return !run.Lease.Live(g.At) && !run.Status.Terminal()
	case guardHeld:
		return run.Lease.Live(g.At) && run.Lease.OwnerID == g.Owner && !run.Status.Terminal()
	case guardOwned:
		return run.Lease != nil && run.Lease.OwnerID == g.Owner
	}
	return false
}

// activeStatuses are the statuses FreeGuard and HeldGuard accept.
var activeStatuses = []api.Status{api.StatusQueued, api.StatusRunning}

// RunUpdate lists the fields a ConditionalUpdate writes. Zero values mean
// "unchanged"; nullable fields have an explicit Clear flag.
type RunUpdate struct {
	Status        api.Status
	Steps         []api.Step
	NextStepIndex *int
	Context       map[string]any

	NextRunnableAt      *time.Time
	ClearNextRunnableAt bool

	Lease      *api.Lease
	ClearLease bool

	LastError *api.RunError

	UpdatedAt time.Time
}

// Apply writes the update into run.
func (u RunUpdate) Apply(run *api.Run) {
	if u.Status != "" {
		run.Status = u.Status
	}
	if u.Steps != nil {
		run.Steps = u.Steps
	}
	if u.NextStepIndex != nil {
		run.NextStepIndex = *u.NextStepIndex
	}
	if u.Context != nil {
		run.Context = u.Context
	}
	switch {
	case u.ClearNextRunnableAt:
		run.NextRunnableAt = nil
	case u.NextRunnableAt != nil:
		t := *u.NextRunnableAt
		run.NextRunnableAt = &t
	}
	switch {
	case u.ClearLease:
		run.Lease = nil
	case u.Lease != nil:
		l := *u.Lease
		run.Lease = &l
	}
	if u.LastError != nil {
		e := *u.LastError
		run.LastError = &e
	}
	if !u.UpdatedAt.IsZero() {
		run.UpdatedAt = u.UpdatedAt
	}
}

// schedulable reports whether run belongs in a due index.
func schedulable(run *api.Run) bool {
	return run.NextRunnableAt != nil && !run.Status.Terminal()
}

func containsStatus(statuses []api.Status, s api.Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
