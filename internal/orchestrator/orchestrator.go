// Package orchestrator fans one voting session out per atomic unit and
// aggregates the outcomes. Sessions share no mutable state, so the
// concurrency limit is a throughput policy for the oracle backend, never a
// correctness requirement; the aggregated report is invariant to scheduling
// order.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quorum/internal/oracle"
	"quorum/internal/telemetry"
	"quorum/internal/unit"
	"quorum/internal/voting"
)

// DiscardOracleUnavailable marks units that were never started because the
// oracle went down globally.
const DiscardOracleUnavailable = "oracle_unavailable"

// Config holds orchestrator policy.
type Config struct {
	// ConcurrencyLimit caps sessions in flight. Defaults to 1, which suits
	// a single local model; higher values change throughput only.
	ConcurrencyLimit int
}

// Report aggregates per-unit outcomes for one run. Results preserves the
// input unit order; the categorized slices point into the same results.
type Report struct {
	RunID   string          `json:"run_id"`
	Results []voting.Result `json:"results"`

	Consensus   []voting.Result `json:"consensus"`
	NoConsensus []voting.Result `json:"no_consensus"`
	Fatal       []voting.Result `json:"fatal"`

	Elapsed time.Duration `json:"elapsed"`
}

// Orchestrator runs voting sessions over batches of units.
type Orchestrator struct {
	engine *voting.Engine
	sink   telemetry.Sink
	cfg    Config
	logger *zap.Logger
}

// New creates an orchestrator. A nil sink disables telemetry.
func New(engine *voting.Engine, sink telemetry.Sink, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.ConcurrencyLimit < 1 {
		cfg.ConcurrencyLimit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{engine: engine, sink: sink, cfg: cfg, logger: logger}
}

// Run processes every unit and returns the aggregated report. Per-unit
// failures (no consensus, fatal oracle error) are isolated and collected,
// never propagated as a whole-run abort. The one exception is global oracle
// unavailability: once any session reports the oracle as permanently gone,
// not-yet-started units are marked fatal without being sampled.
func (o *Orchestrator) Run(ctx context.Context, units []unit.Context) (*Report, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units to process")
	}

	runID := uuid.NewString()
	start := time.Now()
	o.logger.Info("Starting run",
		zap.String("run_id", runID),
		zap.Int("units", len(units)),
		zap.Int("margin", o.engine.Margin()),
		zap.Int("concurrency", o.cfg.ConcurrencyLimit))

	results := make([]voting.Result, len(units))
	var oracleDown atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ConcurrencyLimit)

	for i := range units {
		g.Go(func() error {
			u := &units[i]
			if oracleDown.Load() {
				results[i] = skippedResult(u.ID)
			} else {
				results[i] = o.engine.Run(gctx, u)
				if results[i].Status == voting.StatusFatalError && oracle.IsUnavailable(results[i].Err) {
					oracleDown.Store(true)
					o.logger.Error("Oracle globally unavailable, halting scheduling",
						zap.String("unit", u.ID), zap.Error(results[i].Err))
				}
			}
			o.emit(runID, results[i])
			return nil
		})
	}
	// Workers never return errors; failures are data in their results.
	_ = g.Wait()

	report := &Report{
		RunID:   runID,
		Results: results,
		Elapsed: time.Since(start),
	}
	for _, res := range results {
		switch res.Status {
		case voting.StatusConsensusReached:
			report.Consensus = append(report.Consensus, res)
		case voting.StatusFatalError:
			report.Fatal = append(report.Fatal, res)
		default:
			report.NoConsensus = append(report.NoConsensus, res)
		}
	}

	o.logger.Info("Run complete",
		zap.String("run_id", runID),
		zap.Int("consensus", len(report.Consensus)),
		zap.Int("no_consensus", len(report.NoConsensus)),
		zap.Int("fatal", len(report.Fatal)),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

// skippedResult marks a unit that was never started because the oracle was
// already known to be down.
func skippedResult(unitID string) voting.Result {
	return voting.Result{
		UnitID:    unitID,
		Status:    voting.StatusFatalError,
		Discarded: map[string]int{DiscardOracleUnavailable: 1},
		Err:       fmt.Errorf("%s: %w", DiscardOracleUnavailable, oracle.ErrUnavailable),
	}
}

// emit appends one telemetry record. Telemetry failures are logged and
// swallowed: observability must never change a session outcome.
func (o *Orchestrator) emit(runID string, res voting.Result) {
	if o.sink == nil {
		return
	}
	rec := telemetry.Record{
		RunID:          runID,
		UnitID:         res.UnitID,
		Status:         string(res.Status),
		TotalAttempts:  res.TotalAttempts,
		ValidVotes:     res.ValidVotes,
		Discarded:      res.Discarded,
		Authoritative:  res.Authoritative,
		MarginAchieved: res.MarginAchieved,
		ElapsedMs:      res.Elapsed.Milliseconds(),
		Timestamp:      time.Now().UTC(),
	}
	if res.Winner != nil {
		rec.WinnerKey = res.Winner.Key
	}
	if err := o.sink.Append(rec); err != nil {
		o.logger.Warn("Telemetry append failed", zap.String("unit", res.UnitID), zap.Error(err))
	}
}
