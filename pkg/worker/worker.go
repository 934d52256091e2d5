package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petrijr/flowtick/pkg/api"
)

const (
	DefaultBatchSize = 25
	DefaultLease     = 60 * time.Second
	DefaultSchedule  = "@every 5s"
)

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron spec the way a Worker does.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Config controls how a Worker ticks.
type Config struct {
	// BatchSize is the maximum number of runs advanced per tick.
	BatchSize int

	// Lease is how long each run stays leased while it is advanced.
	Lease time.Duration

	// Schedule is the cron spec on which ticks fire.
	Schedule string

	Logger *slog.Logger
}

// Worker ticks an Engine on a schedule.
type Worker struct {
	engine   api.Engine
	cfg      Config
	schedule cron.Schedule
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New creates a Worker with the default configuration.
func New(engine api.Engine) *Worker {
	w, err := NewWithConfig(engine, Config{})
	if err != nil {
		// The default schedule always parses.
		panic(err)
	}
	return w
}

// NewWithConfig creates a Worker. Zero fields in cfg take their defaults;
// negative values and unparsable schedules are rejected.
func NewWithConfig(engine api.Engine, cfg Config) (*Worker, error) {
	if engine == nil {
		return nil, errors.New("worker: engine is required")
	}
	if cfg.BatchSize < 0 || cfg.Lease < 0 {
		return nil, fmt.Errorf("worker: batch size and lease must not be negative (got %d, %s)", cfg.BatchSize, cfg.Lease)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Lease == 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	return &Worker{
		engine:   engine,
		cfg:      cfg,
		schedule: schedule,
		logger:   cfg.Logger,
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (w *Worker) Config() Config {
	return w.cfg
}

// RunOnce performs one tick synchronously.
func (w *Worker) RunOnce(ctx context.Context) (api.TickReport, error) {
	return w.engine.Tick(ctx, w.cfg.BatchSize, w.cfg.Lease)
}

// Start begins ticking on the configured schedule until Stop is called or
// ctx is cancelled. Tick errors are logged and never stop the worker.
//
// If Start is called more than once without Stop, it returns an error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("worker: already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(w.schedule, cron.FuncJob(func() { w.tick(ctx) }))
	c.Start()

	w.cron = c
	w.cancel = cancel
	w.running = true
	w.logger.Info("worker_started",
		slog.String("schedule", w.cfg.Schedule),
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Duration("lease", w.cfg.Lease),
	)

	go func() {
		<-ctx.Done()
		w.stop(c)
	}()
	return nil
}

// Stop stops scheduling new ticks and waits for a tick in progress to finish.
func (w *Worker) Stop() {
	w.stop(nil)
}

// stop shuts down the running scheduler; when only is set it does so only if
// that scheduler is still the current one.
func (w *Worker) stop(only *cron.Cron) {
	w.mu.Lock()
	if !w.running || (only != nil && w.cron != only) {
		w.mu.Unlock()
		return
	}
	c, cancel := w.cron, w.cancel
	w.running = false
	w.cron = nil
	w.cancel = nil
	w.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	w.logger.Info("worker_stopped")
}

func (w *Worker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "tick_failed", slog.Any("error", err))
		return
	}
	if report.Processed > 0 {
		w.logger.DebugContext(ctx, "tick_finished", slog.Int("processed", report.Processed))
	}
}
