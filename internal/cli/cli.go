// ============================================================================
// deadlock-sim CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra-based command line interface for the simulator
//
// Command Structure:
//   deadlock-sim                   # Root command
//   ├── simulate <trace...>        # Run every trace under every policy
//   │   ├── --policy, -p          # Override simulation.policies
//   │   └── --workers, -w         # Override worker.worker_count
//   ├── journal <file>             # Dump a recorded event journal
//   │   └── --run                 # Only events of one run
//   ├── report <snapshot>          # Re-render reports from a saved snapshot
//   ├── status                     # Show effective configuration
//   ├── --config, -c               # Config file (YAML, or TOML by extension)
//   └── --version
//
// simulate Command:
//   1. Load config (defaults when the default file is absent)
//   2. Set up logging, tracing, metrics and the event journal
//   3. Load every trace, build one job per (trace, policy)
//   4. Run the jobs on the worker pool, print reports in submission order
//   5. Write the result snapshot and the metrics textfile
//
//   Examples:
//     ./deadlock-sim simulate testdata/input-01.txt
//     ./deadlock-sim simulate -p conservative -c configs/default.yaml traces/*.txt
//
// Signal Handling:
//   SIGINT / SIGTERM cancel the batch context; running simulations stop at
//   the next cycle boundary.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ChuLiYu/deadlock-sim/internal/metrics"
	"github.com/ChuLiYu/deadlock-sim/internal/policy"
	"github.com/ChuLiYu/deadlock-sim/internal/report"
	"github.com/ChuLiYu/deadlock-sim/internal/scheduler"
	"github.com/ChuLiYu/deadlock-sim/internal/snapshot"
	"github.com/ChuLiYu/deadlock-sim/internal/storage/journal"
	"github.com/ChuLiYu/deadlock-sim/internal/trace"
	"github.com/ChuLiYu/deadlock-sim/internal/tracing"
	"github.com/ChuLiYu/deadlock-sim/internal/worker"
	"github.com/ChuLiYu/deadlock-sim/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const (
	version           = "1.0.0"
	defaultConfigPath = "configs/default.yaml"
)

var configFile string

// ErrRunsFailed 至少一個模擬失敗
var ErrRunsFailed = errors.New("one or more simulations failed")

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deadlock-sim",
		Short: "deadlock-sim: resource allocation under optimistic and Banker's policies",
		Long: `deadlock-sim replays task traces against a shared resource pool with:
- an optimistic (FIFO) policy with deadlock detection and recovery
- a conservative policy using the Banker's safety algorithm
- per-task and aggregate waiting-time reports`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path")

	rootCmd.AddCommand(buildSimulateCommand())
	rootCmd.AddCommand(buildJournalCommand())
	rootCmd.AddCommand(buildReportCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// configFromFlags loads the config; the default path may be absent.
func configFromFlags(cmd *cobra.Command) (*Config, error) {
	required := cmd.Flags().Changed("config")
	cfg, err := loadConfig(configFile, required)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// ============================================================================
// simulate
// ============================================================================

func buildSimulateCommand() *cobra.Command {
	var policies []string
	var workers int

	cmd := &cobra.Command{
		Use:   "simulate <trace...>",
		Short: "Run traces under each allocation policy and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			if len(policies) > 0 {
				cfg.Simulation.Policies = policies
			}
			if workers > 0 {
				cfg.Worker.WorkerCount = workers
			}
			if err := cfg.validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runSimulate(ctx, cfg, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVarP(&policies, "policy", "p", nil, "policies to run (optimistic, conservative)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of concurrent simulations")

	return cmd
}

// runSimulate executes every (trace, policy) pair and writes the reports to out.
func runSimulate(ctx context.Context, cfg *Config, paths []string, out io.Writer) (err error) {
	if err := setupLogging(cfg.Logging.Level); err != nil {
		return err
	}
	logger := slog.Default().With("component", "cli")

	if cfg.Output.Dir != "" {
		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init("deadlock-sim", version, cfg.outputPath(cfg.Tracing.File))
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			if serr := shutdown(context.Background()); serr != nil {
				logger.Warn("Tracing shutdown failed", "error", serr)
			}
		}()
	}

	var opts []scheduler.Option
	opts = append(opts, scheduler.WithConfig(scheduler.Config{
		MaxCycles:       cfg.Simulation.MaxCycles,
		CheckInvariants: cfg.Simulation.CheckInvariants,
	}))

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		opts = append(opts, scheduler.WithRecorder(metrics.NewCollectorFor(reg)))
	}

	if path := cfg.outputPath(cfg.Output.Journal); path != "" {
		j, err := journal.Open(path, journal.DefaultBufferSize)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := j.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close journal: %w", cerr)
			}
		}()
		opts = append(opts, scheduler.WithSink(j))
		logger.Info("Recording events", "journal", j.Path(), "next_seq", j.LastSeq()+1)
	}

	jobs, err := buildJobs(cfg, paths)
	if err != nil {
		return err
	}

	run := func(ctx context.Context, job worker.Job) (*types.RunResult, error) {
		p, err := policy.New(job.Policy)
		if err != nil {
			return nil, err
		}
		return scheduler.New(p, opts...).Run(ctx, job.Trace)
	}

	results, err := worker.RunBatch(ctx, jobs, cfg.Worker.WorkerCount, run)
	if err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}

	var runs []*types.RunResult
	var failed []error
	for _, r := range results {
		if r.Err != nil {
			logger.Error("Simulation failed", "job", r.JobID, "error", r.Err)
			failed = append(failed, fmt.Errorf("%s: %w", r.JobID, r.Err))
			continue
		}
		runs = append(runs, r.Run)
	}

	if err := report.WriteAll(out, runs); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if path := cfg.outputPath(cfg.Output.Snapshot); path != "" {
		data := types.SnapshotData{}
		for _, r := range runs {
			data.Runs = append(data.Runs, *r)
		}
		if err := snapshot.NewManager(path).WriteWithBackup(data, cfg.Output.SnapshotBackups); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		logger.Info("Results saved", "snapshot", path, "runs", len(runs))
	}

	if reg != nil {
		path := cfg.outputPath(cfg.Metrics.Textfile)
		if err := metrics.WriteTextfile(path, reg); err != nil {
			return err
		}
		logger.Info("Metrics written", "textfile", path)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", ErrRunsFailed, errors.Join(failed...))
	}
	return nil
}

// buildJobs loads every trace and pairs it with every configured policy.
func buildJobs(cfg *Config, paths []string) ([]worker.Job, error) {
	jobs := make([]worker.Job, 0, len(paths)*len(cfg.Simulation.Policies))
	for _, path := range paths {
		tr, err := trace.Load(path)
		if err != nil {
			return nil, err
		}
		for _, name := range cfg.Simulation.Policies {
			jobs = append(jobs, worker.Job{
				ID:      fmt.Sprintf("%s/%s", tr.Name, name),
				Trace:   tr,
				Policy:  types.PolicyName(name),
				Timeout: cfg.Worker.TaskTimeout,
			})
		}
	}
	return jobs, nil
}

// ============================================================================
// journal
// ============================================================================

func buildJournalCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "journal <file>",
		Short: "Print the events recorded in a journal file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpJournal(args[0], runID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "only show events of this run ID")
	return cmd
}

// dumpJournal prints one line per event; task and resource are 1-based.
func dumpJournal(path, runID string, out io.Writer) error {
	count := 0
	err := journal.Replay(path, func(e journal.Event) error {
		if runID != "" && e.RunID != runID {
			return nil
		}
		count++
		_, err := fmt.Fprintf(out, "%6d  %s  cycle=%-4d %-9s task=%s resource=%s amount=%d%s\n",
			e.Seq, e.RunID, e.Cycle, e.Type, oneBased(e.Task), oneBased(e.Resource), e.Amount, detail(e.Detail))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	_, err = fmt.Fprintf(out, "%d events\n", count)
	return err
}

func oneBased(i int) string {
	if i < 0 {
		return "-"
	}
	return fmt.Sprint(i + 1)
}

func detail(s string) string {
	if s == "" {
		return ""
	}
	return " (" + s + ")"
}

// ============================================================================
// report
// ============================================================================

func buildReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <snapshot>",
		Short: "Print the reports stored in a result snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSnapshot(args[0], cmd.OutOrStdout())
		},
	}
	return cmd
}

func printSnapshot(path string, out io.Writer) error {
	mgr := snapshot.NewManager(path)
	if !mgr.Exists() {
		return fmt.Errorf("snapshot %s: %w", path, os.ErrNotExist)
	}
	data, err := mgr.Load()
	if err != nil {
		return err
	}
	runs := make([]*types.RunResult, 0, len(data.Runs))
	for i := range data.Runs {
		runs = append(runs, &data.Runs[i])
	}
	return report.WriteAll(out, runs)
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show effective configuration status",
		Long:  "Display the configuration a simulate run would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			return showStatus(cfg, cmd.OutOrStdout())
		},
	}
	return cmd
}

func showStatus(cfg *Config, out io.Writer) error {
	onOff := func(b bool) string {
		if b {
			return "✅ Enabled"
		}
		return "⚠️  Disabled"
	}
	orNone := func(s string) string {
		if s == "" {
			return "(none)"
		}
		return s
	}

	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           deadlock-sim Configuration                      ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "📋 Simulation:")
	fmt.Fprintf(out, "  ├─ Config File:      %s\n", configFile)
	fmt.Fprintf(out, "  ├─ Policies:         %v\n", cfg.Simulation.Policies)
	fmt.Fprintf(out, "  ├─ Max Cycles:       %d\n", cfg.Simulation.MaxCycles)
	fmt.Fprintf(out, "  └─ Check Invariants: %t\n", cfg.Simulation.CheckInvariants)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "⚙️  Workers:")
	fmt.Fprintf(out, "  ├─ Worker Count:     %d\n", cfg.Worker.WorkerCount)
	fmt.Fprintf(out, "  └─ Task Timeout:     %s\n", cfg.Worker.TaskTimeout)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "💾 Output:")
	fmt.Fprintf(out, "  ├─ Directory:        %s\n", cfg.Output.Dir)
	fmt.Fprintf(out, "  ├─ Journal:          %s\n", orNone(cfg.outputPath(cfg.Output.Journal)))
	fmt.Fprintf(out, "  └─ Snapshot:         %s (keep %d backups)\n", orNone(cfg.outputPath(cfg.Output.Snapshot)), cfg.Output.SnapshotBackups)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "📡 Observability:")
	fmt.Fprintf(out, "  ├─ Metrics:          %s → %s\n", onOff(cfg.Metrics.Enabled), cfg.outputPath(cfg.Metrics.Textfile))
	fmt.Fprintf(out, "  ├─ Tracing:          %s → %s\n", onOff(cfg.Tracing.Enabled), orNone(cfg.outputPath(cfg.Tracing.File)))
	fmt.Fprintf(out, "  └─ Log Level:        %s\n", cfg.Logging.Level)
	fmt.Fprintln(out)

	_, err := fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
	return err
}
