package api

import (
	"testing"
	"time"
)

func TestStatus_Terminal(t *testing.T) {
	cases := map[Status]bool{
		StatusQueued:    false,
		StatusRunning:   false,
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCanceled:  true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestLease_Live(t *testing.T) {
	now := time.Unix(1000, 0)
	var nilLease *Lease
	if nilLease.Live(now) {
		t.Fatalf("nil lease must not be live")
	}
	l := &Lease{OwnerID: "w1", ExpiresAt: now}
	if l.Live(now) {
		t.Fatalf("lease expiring exactly now must not be live")
	}
	l.ExpiresAt = now.Add(time.Millisecond)
	if !l.Live(now) {
		t.Fatalf("expected lease to be live")
	}
}

func TestRun_CloneIsIndependent(t *testing.T) {
	due := time.Unix(50, 0)
	run := &Run{
		ID:             "r1",
		Steps:          []Step{{ID: "s1", AgentType: "a", Input: map[string]any{"k": "v"}}},
		Context:        map[string]any{"leadScore": 80},
		NextRunnableAt: &due,
		Lease:          &Lease{OwnerID: "w1", ExpiresAt: due},
	}

	c := run.Clone()
	c.Steps[0].Status = StepSucceeded
	c.Steps[0].Input["k"] = "changed"
	c.Context["leadScore"] = 1
	*c.NextRunnableAt = due.Add(time.Hour)
	c.Lease.OwnerID = "w2"

	if run.Steps[0].Status != "" || run.Steps[0].Input["k"] != "v" {
		t.Fatalf("step mutated through clone: %+v", run.Steps[0])
	}
	if run.Context["leadScore"] != 80 {
		t.Fatalf("context mutated through clone: %v", run.Context)
	}
	if !run.NextRunnableAt.Equal(due) || run.Lease.OwnerID != "w1" {
		t.Fatalf("timestamps or lease mutated through clone")
	}
}

func TestRun_CurrentStep(t *testing.T) {
	run := &Run{Steps: []Step{{ID: "a"}, {ID: "b"}}, NextStepIndex: 1}
	step, ok := run.CurrentStep()
	if !ok || step.ID != "b" {
		t.Fatalf("expected step b, got %+v ok=%v", step, ok)
	}
	run.NextStepIndex = 2
	if _, ok := run.CurrentStep(); ok {
		t.Fatalf("expected no current step once all are consumed")
	}
}
