package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quorum/internal/calibration"
	"quorum/internal/config"
	"quorum/internal/oracle"
	"quorum/internal/orchestrator"
	"quorum/internal/reliability"
	"quorum/internal/telemetry"
	"quorum/internal/unit"
	"quorum/internal/validate"
	"quorum/internal/voting"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Run flags
	outputPath  string
	watchDir    string
	concurrency int
	maxSamples  int
	marginFlag  int
	timeout     time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "quorum - margin-voting consensus over unreliable LLM oracles",
	Long: `quorum amplifies an unreliable generator into a bounded-error decision
procedure. For every atomic unit it repeatedly samples the oracle, discards
red-flagged outputs, and keeps voting until one candidate leads by the margin
k derived from the target reliability.

Units come from a decomposition export (a JSON file of functions with their
variables); winners are reported per unit for the downstream stage to apply.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd processes a decomposition export through the voting pipeline.
var runCmd = &cobra.Command{
	Use:   "run [export.json]",
	Short: "Run margin voting over every unit of a decomposition export",
	Long: `Runs one independent voting session per unit and prints the aggregated
report. With --watch, processes every export file dropped into a directory
instead of a single file.`,
	RunE: runVoting,
}

// calibrateCmd estimates the oracle's per-sample success rate.
var calibrateCmd = &cobra.Command{
	Use:   "calibrate [export.json]",
	Short: "Estimate the oracle success rate p on a labeled export",
	Long: `Takes exactly one sample per unit and reports how many pass admissibility.
The resulting p feeds estimated_success_rate; voting is only feasible for
p > 0.5.`,
	Args: cobra.ExactArgs(1),
	RunE: runCalibration,
}

// marginCmd prints the margin k for the current configuration.
var marginCmd = &cobra.Command{
	Use:   "margin",
	Short: "Print the vote margin k derived from the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		k, err := reliability.ComputeMargin(cfg.Reliability)
		if err != nil {
			return err
		}
		fmt.Printf("k=%d (target=%.3f, success_rate=%.3f, steps=%d)\n",
			k, cfg.Reliability.TargetReliability,
			cfg.Reliability.EstimatedSuccessRate, cfg.Reliability.StepCount)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to quorum.yaml")

	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the full report as JSON to this path")
	runCmd.Flags().StringVar(&watchDir, "watch", "", "Watch a directory for export files instead of processing one")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Sessions in flight (overrides config)")
	runCmd.Flags().IntVar(&maxSamples, "max-samples", 0, "Per-unit sample budget (overrides config)")
	runCmd.Flags().IntVar(&marginFlag, "margin", 0, "Explicit vote margin k (overrides the computed value)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Wall-clock limit for the whole run (0 = none)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(marginCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if concurrency > 0 {
		cfg.ConcurrencyLimit = concurrency
	}
	if maxSamples > 0 {
		cfg.Reliability.MaxSamples = maxSamples
	}
	if marginFlag > 0 {
		cfg.Reliability.MarginOverride = marginFlag
	}
	return cfg, nil
}

// buildOracle constructs the configured oracle backend.
func buildOracle(ctx context.Context, cfg config.Config) (oracle.Oracle, error) {
	switch cfg.Oracle.Provider {
	case config.ProviderGemini:
		return oracle.NewGeminiOracle(ctx, oracle.GeminiConfig{
			APIKey:      cfg.Oracle.APIKey,
			Model:       cfg.Oracle.Model,
			Temperature: cfg.Oracle.Temperature,
		})
	default:
		return oracle.NewClient(oracle.ClientConfig{
			BaseURL:     cfg.Oracle.BaseURL,
			APIKey:      cfg.Oracle.APIKey,
			Model:       cfg.Oracle.Model,
			Temperature: cfg.Oracle.Temperature,
			Timeout:     time.Duration(cfg.Oracle.TimeoutSecs) * time.Second,
		}), nil
	}
}

// buildSink constructs the configured telemetry sink.
func buildSink(cfg config.Config) (telemetry.Sink, error) {
	switch cfg.Telemetry.Backend {
	case config.TelemetrySQLite:
		return telemetry.NewSQLiteSink(cfg.Telemetry.Path)
	case config.TelemetryNone:
		return nil, nil
	default:
		return telemetry.NewJSONLSink(cfg.Telemetry.Path)
	}
}

func runVoting(cmd *cobra.Command, args []string) error {
	if watchDir == "" && len(args) != 1 {
		return fmt.Errorf("expected an export file (or --watch)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	k, err := reliability.ComputeMargin(cfg.Reliability)
	if err != nil {
		return err
	}
	logger.Info("Voting configured",
		zap.Int("margin", k),
		zap.Float64("target_reliability", cfg.Reliability.TargetReliability),
		zap.Float64("estimated_success_rate", cfg.Reliability.EstimatedSuccessRate))

	orc, err := buildOracle(ctx, cfg)
	if err != nil {
		return err
	}
	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
	}

	engine := voting.NewEngine(orc, validate.New(cfg.Reliability.MaxOutputSize),
		k, cfg.Reliability.MaxSamples, logger)
	orch := orchestrator.New(engine, sink,
		orchestrator.Config{ConcurrencyLimit: cfg.ConcurrencyLimit}, logger)

	if watchDir != "" {
		w := unit.NewWatcher(watchDir, logger)
		err := w.Watch(ctx, func(path string, units []unit.Context) error {
			report, err := orch.Run(ctx, units)
			if err != nil {
				return err
			}
			printSummary(path, report)
			return nil
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}

	units, err := unit.LoadExport(args[0])
	if err != nil {
		return err
	}
	report, err := orch.Run(ctx, units)
	if err != nil {
		return err
	}
	printSummary(args[0], report)

	if outputPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logger.Info("Report written", zap.String("path", outputPath))
	}
	return nil
}

func printSummary(source string, report *orchestrator.Report) {
	fmt.Printf("\n%s — run %s\n", source, report.RunID)
	fmt.Printf("  consensus:    %d\n", len(report.Consensus))
	fmt.Printf("  no consensus: %d\n", len(report.NoConsensus))
	fmt.Printf("  fatal:        %d\n", len(report.Fatal))
	fmt.Printf("  elapsed:      %s\n", report.Elapsed.Round(time.Millisecond))
	for _, res := range report.NoConsensus {
		fmt.Printf("  [!] %s: %d attempts, %d valid votes, best-effort margin %d\n",
			res.UnitID, res.TotalAttempts, res.ValidVotes, res.MarginAchieved)
	}
	for _, res := range report.Fatal {
		fmt.Printf("  [x] %s: %v\n", res.UnitID, res.Err)
	}
}

func runCalibration(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orc, err := buildOracle(ctx, cfg)
	if err != nil {
		return err
	}
	units, err := unit.LoadExport(args[0])
	if err != nil {
		return err
	}

	m := calibration.NewMeasurer(orc, validate.New(cfg.Reliability.MaxOutputSize), logger)
	res, err := m.Measure(ctx, units)
	if err != nil {
		return err
	}

	fmt.Printf("samples:      %d\n", res.Total)
	fmt.Printf("admissible:   %d\n", res.Successes)
	fmt.Printf("success rate: %.3f\n", res.SuccessRate)
	if res.Feasible {
		fmt.Println("feasible:     yes (p > 0.5)")
	} else {
		fmt.Println("feasible:     NO — voting cannot converge at this rate")
	}
	for reason, n := range res.Rejections {
		fmt.Printf("  rejected %-24s %d\n", reason, n)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
