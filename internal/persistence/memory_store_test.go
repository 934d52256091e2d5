package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

func TestInMemoryRunStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) RunStore {
		return NewInMemoryRunStore()
	})
}

func TestInMemoryRunStore_ReturnsCopies(t *testing.T) {
	store := NewInMemoryRunStore()
	ctx := context.Background()

	run := newQueuedRun("run-1", baseTime)
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	run.Steps[0].Status = api.StepSucceeded
	run.Context["lead"] = "changed"

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Steps[0].Status != api.StepPending {
		t.Fatalf("expected stored step to stay pending, got %q", got.Steps[0].Status)
	}
	if got.Context["lead"] != "acme" {
		t.Fatalf("expected stored context to stay unchanged, got %v", got.Context["lead"])
	}

	got.Status = api.StatusFailed
	again, _ := store.Get(ctx, "run-1")
	if again.Status != api.StatusQueued {
		t.Fatalf("expected mutation of returned run not to leak, got %q", again.Status)
	}
}

func TestGuard_Matches(t *testing.T) {
	now := baseTime
	live := &api.Lease{OwnerID: "a", ExpiresAt: now.Add(time.Second)}
	expired := &api.Lease{OwnerID: "a", ExpiresAt: now}

	cases := []struct {
		name  string
		guard Guard
		run   api.Run
		want  bool
	}{
		{"free without lease", FreeGuard(now), api.Run{Status: api.StatusQueued}, true},
		{"free with live lease", FreeGuard(now), api.Run{Status: api.StatusQueued, Lease: live}, false},
		{"free at exact expiry", FreeGuard(now), api.Run{Status: api.StatusQueued, Lease: expired}, true},
		{"free on terminal run", FreeGuard(now), api.Run{Status: api.StatusSucceeded}, false},
		{"held by owner", HeldGuard("a", now), api.Run{Status: api.StatusRunning, Lease: live}, true},
		{"held by other", HeldGuard("b", now), api.Run{Status: api.StatusRunning, Lease: live}, false},
		{"held but expired", HeldGuard("a", now), api.Run{Status: api.StatusRunning, Lease: expired}, false},
		{"held on terminal run", HeldGuard("a", now), api.Run{Status: api.StatusCanceled, Lease: live}, false},
		{"owned while expired", OwnedGuard("a"), api.Run{Status: api.StatusRunning, Lease: expired}, true},
		{"owned by other", OwnedGuard("b"), api.Run{Status: api.StatusRunning, Lease: live}, false},
		{"owned without lease", OwnedGuard("a"), api.Run{Status: api.StatusRunning}, false},
		{"zero guard", Guard{}, api.Run{}, false},
	}
	for _, tc := range cases {
		if got := tc.guard.Matches(&tc.run); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
