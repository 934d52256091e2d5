package flowtick

import (
	"context"

	"github.com/petrijr/flowtick/pkg/worker"
)

// LocalRunner bundles an in-memory Scheduler, its Registry, a MemorySink and
// a Worker to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := flowtick.NewLocalRunner()
//	runner.MustRegister("scorer", scoreLead)
//
//	run := flowtick.NewRun("ws-1").Step("scorer", "score", nil).MustStart(ctx, runner.Engine)
//
//	// Drive it by hand:
//	_, _ = runner.Worker.RunOnce(ctx)
//
//	// Or in the background:
//	_ = runner.Start(ctx)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory scheduler used by this runner.
	Engine *Scheduler

	// Registry holds the executors Engine dispatches to.
	Registry *Registry

	// Sink records every audit event and failure produced by Engine.
	Sink *MemorySink

	// Worker ticks Engine.
	Worker *worker.Worker
}

// NewLocalRunner constructs a LocalRunner with a Worker using the default
// config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithConfig(worker.Config{})
}

// NewLocalRunnerWithConfig is like NewLocalRunner with an explicit worker
// config. It panics if cfg is invalid.
func NewLocalRunnerWithConfig(cfg worker.Config) *LocalRunner {
	reg := NewRegistry()
	sink := &MemorySink{}
	eng := NewInMemoryScheduler(reg, sink)
	w, err := worker.NewWithConfig(eng, cfg)
	if err != nil {
		panic(err)
	}

	return &LocalRunner{
		Engine:   eng,
		Registry: reg,
		Sink:     sink,
		Worker:   w,
	}
}

// Register adds an executor for agentType.
func (r *LocalRunner) Register(agentType string, fn Executor) error {
	return r.Registry.Register(agentType, fn)
}

// MustRegister is like Register but panics on error.
func (r *LocalRunner) MustRegister(agentType string, fn Executor) {
	if err := r.Register(agentType, fn); err != nil {
		panic(err)
	}
}

// Start begins ticking in the background until Stop is called.
func (r *LocalRunner) Start(ctx context.Context) error {
	return r.Worker.Start(ctx)
}

// Stop stops the background worker and waits for an active tick to finish.
func (r *LocalRunner) Stop() {
	r.Worker.Stop()
}

// Drain ticks until no run is due or maxTicks is reached, returning the
// number of ticks that processed at least one run.
func (r *LocalRunner) Drain(ctx context.Context, maxTicks int) (int, error) {
	n := 0
	for i := 0; i < maxTicks; i++ {
		report, err := r.Worker.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if report.Processed == 0 {
			return n, nil
		}
		n++
	}
	return n, nil
}
