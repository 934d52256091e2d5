package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

var (
	// ErrRunNotFound is returned when a workflow run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned by Create when the run ID is already taken.
	ErrRunExists = errors.New("run already exists")

	// ErrConflict is returned by ConditionalUpdate when the guard does not
	// match the stored run.
	ErrConflict = errors.New("conditional update conflict")
)

// RunStore persists workflow runs. Every mutation of an existing run goes
// through ConditionalUpdate, which must check the guard and apply the
// update as one atomic step with respect to other writers.
type RunStore interface {
	// Create persists a new run. It returns ErrRunExists if the ID is taken.
	Create(ctx context.Context, run *api.Run) error

	// Get returns the run with the given ID or ErrRunNotFound.
	Get(ctx context.Context, id string) (*api.Run, error)

	// FindDue returns up to limit runs whose status is one of statuses and
	// whose NextRunnableAt is set and not after before, ordered ascending by
	// NextRunnableAt.
	FindDue(ctx context.Context, statuses []api.Status, before time.Time, limit int) ([]*api.Run, error)

	// ConditionalUpdate applies update to the run if guard matches it.
	// It returns ErrConflict if the guard does not match and ErrRunNotFound
	// if the run does not exist.
	ConditionalUpdate(ctx context.Context, id string, guard Guard, update RunUpdate) error
}

// Persistence bundles the stores the scheduler depends on.
type Persistence struct {
	Runs RunStore
	Sink api.Sink
}
