// Command eqshard runs one worker of the sharded equation-extraction
// pipeline. Launch one process per accelerator (mpirun, srun, or plain
// shell loops with EQSHARD_RANK); each worker derives its row share from
// its rank and needs no further coordination.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eqshard/pkg/eqshard/checkpoint"
	"eqshard/pkg/eqshard/cluster"
	"eqshard/pkg/eqshard/config"
	"eqshard/pkg/eqshard/engine"
	"eqshard/pkg/eqshard/llm"
	"eqshard/pkg/eqshard/observability"
)

var (
	configPath string
	sourceDir  string
	outputDir  string
	backend    string
	ckptKind   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "eqshard",
	Short: "Sharded LLM extraction of structured math metadata from LaTeX",
	Long: `eqshard partitions parquet batches of LaTeX expressions across a set of
worker processes, sends each expression to a local inference backend, and
validates the model's JSON output against the pure-math schema.

Every worker writes its own output and checkpoint files; a restarted run
resumes from the last completed flush-cycle.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process this worker's share of every input batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml or json)")
	runCmd.Flags().StringVar(&sourceDir, "src", "", "directory of input parquet batches")
	runCmd.Flags().StringVar(&outputDir, "dst", "", "directory for outputs and checkpoints")
	runCmd.Flags().StringVar(&backend, "backend", "", "inference backend: server or cli")
	runCmd.Flags().StringVar(&ckptKind, "checkpoint", "", "checkpoint backend: file or sqlite")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(runCmd)
}

// loadSettings merges the config file (if any) with CLI flag overrides.
func loadSettings() (config.Settings, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.FromFile(configPath)
		if err != nil {
			return config.Settings{}, err
		}
	}
	if sourceDir != "" {
		cfg.SourceDir = sourceDir
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if backend != "" {
		cfg.Backend = config.Backend(backend)
	}
	if ckptKind != "" {
		cfg.Checkpoint = config.CheckpointBackend(ckptKind)
	}
	return cfg, cfg.Validate()
}

// newClient builds the configured inference client with retry wrapping.
func newClient(cfg config.Settings, coords cluster.Coordinates, logger *slog.Logger, metrics observability.MetricsRecorder) (llm.Client, error) {
	switch cfg.Backend {
	case config.BackendServer:
		endpoint := llm.Endpoint(cfg.BasePort, coords.LocalSlot)
		inner := llm.NewServerClient(endpoint, cfg.Model, cfg.MaxTokens, cfg.CallTimeout.Std())
		return llm.NewRetrying(inner, endpoint, cfg.MaxAttempts, cfg.RetryDelay.Std(), logger).
			WithMetrics(metrics), nil
	case config.BackendCLI:
		return llm.NewCLIClient(cfg.CLIPath, cfg.ModelPath, cfg.CtxTokens, cfg.GPULayers, cfg.MaxTokens,
			cfg.CallTimeout.Std()), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// newStore builds the configured checkpoint store rooted in the output tree.
func newStore(cfg config.Settings, coords cluster.Coordinates) (checkpoint.Store, error) {
	dir := filepath.Join(cfg.OutputDir, "checkpoints")
	switch cfg.Checkpoint {
	case config.CheckpointFile:
		return checkpoint.NewFileStore(dir), nil
	case config.CheckpointSQLite:
		return checkpoint.NewSQLiteStore(filepath.Join(dir, fmt.Sprintf("progress__rank%04d.db", coords.GlobalIndex)))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint)
	}
}

func runWorker(ctx context.Context) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	coords, err := cluster.Resolve()
	if err != nil {
		return err
	}

	// Worker 0 creates the output tree; everyone else waits for it.
	barrierCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	err = cluster.Barrier(barrierCtx, cfg.OutputDir, coords, func() error {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return err
		}
		return os.MkdirAll(filepath.Join(cfg.OutputDir, "checkpoints"), 0o755)
	})
	if err != nil {
		return err
	}

	metrics := observability.NewMetricsRecorder()

	client, err := newClient(cfg, coords, logger, metrics)
	if err != nil {
		return err
	}

	store, err := newStore(cfg, coords)
	if err != nil {
		return err
	}
	defer store.Close()

	eng := engine.New(cfg, coords, client, store,
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithSpanManager(observability.NewSpanManager()),
	)
	return eng.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
