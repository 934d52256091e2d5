package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAgent is matched by errors returned when no executor is
	// registered for an agent type.
	ErrUnknownAgent = errors.New("unknown agent type")

	// ErrLocked is returned when a run's lease is held by another owner.
	ErrLocked = errors.New("run is locked")
)

// UnknownAgentError reports the agent type that could not be resolved.
type UnknownAgentError struct {
	AgentType string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent type %q", e.AgentType)
}

func (e *UnknownAgentError) Is(target error) bool {
	return target == ErrUnknownAgent
}
