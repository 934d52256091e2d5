package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/flowtick/internal/engine"
	"github.com/petrijr/flowtick/pkg/api"
)

// countingEngine records Tick calls and fails each of them.
type countingEngine struct {
	api.Engine
	ticks atomic.Int32
}

func (e *countingEngine) Tick(ctx context.Context, batchSize int, lease time.Duration) (api.TickReport, error) {
	e.ticks.Add(1)
	return api.TickReport{}, errors.New("store unavailable")
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg := engine.NewRegistry()
	err := reg.Register("echo", func(ctx context.Context, in api.ExecutorInput) (api.ExecutorResult, error) {
		return api.ExecutorResult{Output: in.Instruction}, nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return engine.NewInMemoryEngine(reg, nil)
}

func TestNewWithConfig_AppliesDefaults(t *testing.T) {
	w, err := NewWithConfig(newEngine(t), Config{})
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	cfg := w.Config()
	if cfg.BatchSize != DefaultBatchSize || cfg.Lease != DefaultLease || cfg.Schedule != DefaultSchedule {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestNewWithConfig_RejectsInvalidConfig(t *testing.T) {
	eng := newEngine(t)
	cases := map[string]Config{
		"bad schedule":   {Schedule: "every now and then"},
		"negative batch": {BatchSize: -1},
		"negative lease": {Lease: -time.Second},
	}
	for name, cfg := range cases {
		if _, err := NewWithConfig(eng, cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := NewWithConfig(nil, Config{}); err == nil {
		t.Fatalf("expected error for nil engine")
	}
}

func TestParseSchedule_AcceptsCronAndDescriptors(t *testing.T) {
	for _, spec := range []string{"@every 5s", "*/10 * * * * *", "0 * * * *", "@hourly"} {
		if _, err := ParseSchedule(spec); err != nil {
			t.Fatalf("ParseSchedule(%q) failed: %v", spec, err)
		}
	}
}

func TestRunOnce_AdvancesDueRuns(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	run, err := eng.StartRun(ctx, &api.Run{
		WorkspaceID: "ws-1",
		Steps: []api.Step{
			{AgentType: "echo", Instruction: "first"},
			{AgentType: "echo", Instruction: "second"},
		},
	})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	w := New(eng)
	for i := 0; i < 2; i++ {
		report, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d failed: %v", i, err)
		}
		if report.Processed != 1 {
			t.Fatalf("RunOnce %d: expected 1 processed, got %d", i, report.Processed)
		}
	}

	got, err := eng.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != api.StatusSucceeded || got.Steps[1].Output != "second" {
		t.Fatalf("unexpected run %s, output %v", got.Status, got.Steps[1].Output)
	}
}

func TestStart_TicksOnSchedule(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	run, err := eng.StartRun(ctx, &api.Run{
		WorkspaceID: "ws-1",
		Steps:       []api.Step{{AgentType: "echo"}},
	})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	w, err := NewWithConfig(eng, Config{Schedule: "@every 1s"})
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := eng.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status == api.StatusSucceeded {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("run was not advanced by the scheduled worker")
}

func TestStart_TickErrorsDoNotStopWorker(t *testing.T) {
	eng := &countingEngine{}
	w, err := NewWithConfig(eng, Config{Schedule: "@every 1s"})
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for eng.ticks.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected ticks to continue after errors, got %d", eng.ticks.Load())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	w := New(newEngine(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	w.Stop()
	w.Stop()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("restart after Stop failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker still running after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
