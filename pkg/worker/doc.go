// Package worker drives a flowtick scheduler forward on a timer.
//
// A Worker calls Engine.Tick on a cron schedule (robfig/cron syntax, with
// optional seconds and descriptors such as "@every 5s"). Each tick advances
// up to the configured batch size of due runs by one step. A tick that is
// still running when the next one is due is skipped rather than stacked.
//
// Workers hold no run state of their own. Exclusion between workers, whether
// in one process or many, comes from the run leases taken by the engine, so
// any number of workers may share a store.
//
// # Usage
//
//	w, err := worker.NewWithConfig(eng, worker.Config{
//	    BatchSize: 50,
//	    Lease:     time.Minute,
//	    Schedule:  "@every 2s",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// RunOnce performs a single tick synchronously and is what the CLI's
// "tick" command uses.
package worker
