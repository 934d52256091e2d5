package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/flowtick"
	"github.com/petrijr/flowtick/internal/config"
	"github.com/petrijr/flowtick/internal/logging"
	"github.com/petrijr/flowtick/pkg/api"
	"github.com/petrijr/flowtick/pkg/worker"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "flowtick",
		Short:        "Workflow run scheduler",
		Long:         "flowtick advances multi-step agent workflow runs one step per tick.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (default $FLOWTICK_CONFIG)")

	rootCmd.AddCommand(newTickCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newAdvanceCommand())
	rootCmd.AddCommand(newStartCommand())
	return rootCmd
}

// setup loads the config and opens the backend for a command.
func setup(cmd *cobra.Command) (config.Config, *backend, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	b, err := openBackend(cmd.Context(), cfg, logger)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	return cfg, b, logger, nil
}

func newTickCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, b, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			batch, _ := cmd.Flags().GetInt("batch")
			if batch == 0 {
				batch = cfg.Scheduler.BatchSize
			}
			lease, _ := cmd.Flags().GetDuration("lease")
			if lease == 0 {
				lease = cfg.Scheduler.Lease
			}

			report, err := b.engine.Tick(cmd.Context(), batch, lease)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().Int("batch", 0, "Maximum runs to advance (default from config)")
	cmd.Flags().Duration("lease", 0, "Lease held on each run (default from config)")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Tick on the configured schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, b, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			w, err := worker.NewWithConfig(b.engine, cfg.WorkerConfig(logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := w.Start(ctx); err != nil {
				return err
			}
			logger.Info("serving",
				slog.String("store", cfg.Store.Driver),
				slog.String("owner_id", b.engine.OwnerID()),
			)

			<-ctx.Done()
			w.Stop()

			snap := b.metrics.Snapshot()
			logger.Info("shutdown",
				slog.Int64("steps_started", snap.StepsStarted),
				slog.Int64("steps_succeeded", snap.StepsSucceeded),
				slog.Int64("retries_scheduled", snap.RetriesScheduled),
				slog.Int64("runs_succeeded", snap.RunsSucceeded),
				slog.Int64("runs_failed", snap.RunsFailed),
			)
			return nil
		},
	}
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Print a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			run, err := b.engine.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	}
}

func newAdvanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <run-id>",
		Short: "Lease one run and advance it by one step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, b, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			lease, _ := cmd.Flags().GetDuration("lease")
			if lease == 0 {
				lease = cfg.Scheduler.Lease
			}

			res, err := b.engine.AdvanceRun(cmd.Context(), args[0], lease)
			if err != nil && !errors.Is(err, api.ErrLocked) {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Duration("lease", 0, "Lease held on the run (default from config)")
	return cmd
}

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Queue a new run",
		Long: "Queue a new run. Steps are given in order as agentType=instruction, e.g.\n" +
			"  flowtick start -w ws-1 --step echo=hello --step sleep=2s",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			workspace, _ := cmd.Flags().GetString("workspace")
			workflow, _ := cmd.Flags().GetString("workflow")
			id, _ := cmd.Flags().GetString("id")
			steps, _ := cmd.Flags().GetStringArray("step")
			values, _ := cmd.Flags().GetStringToString("set")
			attempts, _ := cmd.Flags().GetInt("max-attempts")
			delay, _ := cmd.Flags().GetDuration("retry-delay")

			if len(steps) == 0 {
				return errors.New("at least one --step is required")
			}

			rb := flowtick.NewRun(workspace).ID(id).Workflow(workflow)
			for k, v := range values {
				rb.Set(k, v)
			}
			retry := flowtick.Retry(attempts).WithBackoff(delay)
			for _, s := range steps {
				agentType, instruction, _ := strings.Cut(s, "=")
				if agentType == "" {
					return fmt.Errorf("invalid step %q: missing agent type", s)
				}
				rb.StepWithRetry(agentType, instruction, nil, retry)
			}

			run, err := rb.Start(cmd.Context(), b.engine)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	}
	cmd.Flags().StringP("workspace", "w", "default", "Workspace ID")
	cmd.Flags().String("workflow", "", "Workflow ID recorded on the run")
	cmd.Flags().String("id", "", "Run ID (default: random UUID)")
	cmd.Flags().StringArray("step", nil, "Step as agentType=instruction (repeatable)")
	cmd.Flags().StringToString("set", nil, "Initial context values as key=value")
	cmd.Flags().Int("max-attempts", 1, "Attempt budget for every step")
	cmd.Flags().Duration("retry-delay", time.Second, "Base retry backoff for every step")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
