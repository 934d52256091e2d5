// Package flowtick provides an embeddable scheduler that advances multi-step
// agent workflow runs one step at a time.
//
// A run is an ordered list of steps, each naming an agent type. On every
// tick the scheduler picks the runs that are due, leases each one, invokes
// the executor registered for the current step's agent type and records the
// outcome. A failed attempt is retried with exponential backoff until the
// step's attempt budget is spent, after which the run fails.
//
// # Core Concepts
//
//  1. Scheduler
//  2. Registry and Executor
//  3. RunBuilder
//  4. Worker
//  5. LocalRunner
//
// # Scheduler
//
// The Scheduler owns the run state machine. Tick advances a batch of due
// runs by at most one step each; AdvanceRun does the same for a single run.
// At most one scheduler executes a given run at a time: every run is leased
// before it is touched and every state change is a single conditional write
// guarded on the lease. A scheduler that crashes mid-step leaves a lease
// that simply expires, after which another scheduler resumes the run.
//
// Schedulers can be backed by different stores:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// # Registry and Executor
//
// An Executor is a plain function that performs one attempt of one step:
//
//	func(ctx context.Context, in flowtick.ExecutorInput) (flowtick.ExecutorResult, error)
//
// It receives the run's accumulated context and returns an output plus an
// optional context patch that later steps will see. Returning an error, or
// panicking, counts as a failed attempt. Executors are registered by agent
// type on a Registry; a step whose agent type has no executor fails its
// attempt like any other error.
//
// # RunBuilder
//
// RunBuilder assembles a run from a workspace, steps and initial context:
//
//	run, err := flowtick.NewRun("ws-1").
//	    Set("lead", "acme").
//	    Step("enricher", "look up the company", nil).
//	    StepWithRetry("scorer", "score the lead", nil, flowtick.Retry(3).WithBackoff(time.Second)).
//	    Start(ctx, scheduler)
//
// # Worker
//
// A Worker (package worker) calls Tick on a cron schedule.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory scheduler, a Registry and a Worker for
// local development and tests.
//
// # Observability
//
// Every transition produces an audit event, and terminal failures produce
// workflow and agent failure records, delivered to a Sink. LoggingSink,
// MemorySink, BasicMetrics and CompositeSink are provided; the durable
// schedulers also persist records in their store.
package flowtick
