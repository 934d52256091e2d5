package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/flowtick/pkg/api"
)

// Registry maps agent types to executors. It is safe for concurrent use;
// registrations normally happen once at startup.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]api.Executor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]api.Executor),
	}
}

// Register binds agentType to fn. Registering the same type twice is an error.
func (r *Registry) Register(agentType string, fn api.Executor) error {
	if agentType == "" {
		return errors.New("agent type is required")
	}
	if fn == nil {
		return fmt.Errorf("executor for agent type %q is nil", agentType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[agentType]; exists {
		return fmt.Errorf("agent type %q already registered", agentType)
	}
	r.byType[agentType] = fn
	return nil
}

// Resolve returns the executor for agentType or an *api.UnknownAgentError.
func (r *Registry) Resolve(agentType string) (api.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.byType[agentType]
	if !ok {
		return nil, &api.UnknownAgentError{AgentType: agentType}
	}
	return fn, nil
}

// AgentTypes lists the registered agent types in sorted order.
func (r *Registry) AgentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
