package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

// InMemoryRunStore is a simple, goroutine-safe RunStore backed by a map.
// Runs are cloned on the way in and out so callers never share state with
// the store.
type InMemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*api.Run
}

// NewInMemoryRunStore creates a new InMemoryRunStore.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		runs: make(map[string]*api.Run),
	}
}

var _ RunStore = (*InMemoryRunStore)(nil)

func (s *InMemoryRunStore) Create(_ context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return ErrRunExists
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *InMemoryRunStore) Get(_ context.Context, id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

func (s *InMemoryRunStore) FindDue(_ context.Context, statuses []api.Status, before time.Time, limit int) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*api.Run
	for _, run := range s.runs {
		if run.NextRunnableAt == nil || run.NextRunnableAt.After(before) {
			continue
		}
		if !containsStatus(statuses, run.Status) {
			continue
		}
		due = append(due, run)
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextRunnableAt, due[j].NextRunnableAt
		if a.Equal(*b) {
			return due[i].ID < due[j].ID
		}
		return a.Before(*b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*api.Run, len(due))
	for i, run := range due {
		out[i] = run.Clone()
	}
	return out, nil
}

func (s *InMemoryRunStore) ConditionalUpdate(_ context.Context, id string, guard Guard, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if !guard.Matches(run) {
		return ErrConflict
	}

	next := run.Clone()
	update.Apply(next)
	s.runs[id] = next.Clone()
	return nil
}
