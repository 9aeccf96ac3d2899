// Package calibration estimates the oracle's per-sample success rate p by
// replaying single-shot attempts over a set of calibration units. The
// estimate feeds the reliability model; an estimate at or below 0.5 means
// margin voting cannot converge on this oracle and the run should not
// proceed without an explicit margin override.
package calibration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quorum/internal/oracle"
	"quorum/internal/unit"
	"quorum/internal/validate"
)

// Result is the outcome of one calibration pass.
type Result struct {
	Total       int            `json:"total"`
	Successes   int            `json:"successes"`
	SuccessRate float64        `json:"success_rate"`
	Feasible    bool           `json:"feasible"`
	Rejections  map[string]int `json:"rejections,omitempty"`
	Errors      int            `json:"errors"`
}

// Measurer runs calibration passes.
type Measurer struct {
	oracle    oracle.Oracle
	validator *validate.Validator
	logger    *zap.Logger
}

// NewMeasurer creates a calibration measurer.
func NewMeasurer(o oracle.Oracle, v *validate.Validator, logger *zap.Logger) *Measurer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Measurer{oracle: o, validator: v, logger: logger}
}

// Measure takes exactly one sample per unit and counts how many pass the
// full admissibility chain. Correctness against ground truth is not
// checkable here; admissibility is, and the two track closely enough for a
// margin estimate. Cancellation stops the pass early and reports what was
// measured so far.
func (m *Measurer) Measure(ctx context.Context, units []unit.Context) (Result, error) {
	if len(units) == 0 {
		return Result{}, fmt.Errorf("no calibration units")
	}

	res := Result{Rejections: make(map[string]int)}
	for i := range units {
		if ctx.Err() != nil {
			m.logger.Info("Calibration stopped early", zap.Int("measured", res.Total))
			break
		}
		u := &units[i]
		res.Total++

		raw, err := m.oracle.Sample(ctx, u)
		if err != nil {
			if oracle.IsUnavailable(err) {
				return res, fmt.Errorf("calibration aborted: %w", err)
			}
			res.Errors++
			m.logger.Debug("Calibration sample failed", zap.String("unit", u.ID), zap.Error(err))
			continue
		}

		if _, rej := m.validator.Check(raw, u); rej != nil {
			res.Rejections[rej.Reason]++
			m.logger.Debug("Calibration sample red-flagged",
				zap.String("unit", u.ID), zap.String("reason", rej.Reason))
			continue
		}
		res.Successes++
	}

	if res.Total > 0 {
		res.SuccessRate = float64(res.Successes) / float64(res.Total)
	}
	res.Feasible = res.SuccessRate > 0.5
	m.logger.Info("Calibration complete",
		zap.Int("total", res.Total),
		zap.Int("successes", res.Successes),
		zap.Float64("success_rate", res.SuccessRate),
		zap.Bool("feasible", res.Feasible))
	return res, nil
}
