package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/petrijr/flowtick/pkg/api"
)

func TestRegistry_RegisterResolve(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "scorer", succeedWith(nil, "ok"))
	mustRegister(t, r, "enricher", succeedWith(nil, "ok"))

	fn, err := r.Resolve("scorer")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	out, err := fn(context.Background(), api.ExecutorInput{})
	if err != nil || out.Output != "ok" {
		t.Fatalf("unexpected executor result %+v, %v", out, err)
	}

	if got := r.AgentTypes(); !reflect.DeepEqual(got, []string{"enricher", "scorer"}) {
		t.Fatalf("unexpected agent types %v", got)
	}
}

func TestRegistry_UnknownAgentIsTyped(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("ghost")
	if !errors.Is(err, api.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	var unknown *api.UnknownAgentError
	if !errors.As(err, &unknown) || unknown.AgentType != "ghost" {
		t.Fatalf("expected *UnknownAgentError for ghost, got %#v", err)
	}
}

func TestRegistry_RejectsInvalidRegistrations(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "scorer", succeedWith(nil, nil))

	if err := r.Register("scorer", succeedWith(nil, nil)); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := r.Register("", succeedWith(nil, nil)); err == nil {
		t.Fatalf("expected empty agent type to fail")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Fatalf("expected nil executor to fail")
	}
}
