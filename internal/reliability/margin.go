// Package reliability converts a target reliability and an estimated oracle
// accuracy into the vote margin k used by first-to-ahead-by-k voting.
//
// The math follows the MAKER result (arXiv:2511.09030): for a per-sample
// success rate p > 0.5 and s independent steps that must all succeed with
// combined probability t, the minimum margin is
//
//	k = ceil( ln(t^(-1/s) - 1) / ln((1-p)/p) )
//
// Below p = 0.5 no finite margin bounds the error: voting converges to the
// wrong answer, so configuration fails loudly instead of proceeding.
package reliability

import (
	"errors"
	"fmt"
	"math"
)

// ErrConfiguration classifies invalid reliability parameters. Raised
// eagerly, before any sampling begins.
var ErrConfiguration = errors.New("invalid reliability configuration")

// Config holds the reliability parameters for a run. Immutable once
// constructed; thread a value through, never a pointer to shared state.
type Config struct {
	// TargetReliability t is the probability that all StepCount decisions
	// are correct. Must be in (0, 1).
	TargetReliability float64 `yaml:"target_reliability" json:"target_reliability"`

	// EstimatedSuccessRate p is the caller-supplied estimate of the
	// oracle's per-sample accuracy. Must be in (0, 1); voting additionally
	// requires p > 0.5 unless MarginOverride is set.
	EstimatedSuccessRate float64 `yaml:"estimated_success_rate" json:"estimated_success_rate"`

	// StepCount s is the number of decisions whose combined success drives
	// the per-step requirement. Must be >= 1.
	StepCount int `yaml:"step_count" json:"step_count"`

	// MarginOverride, when > 0, bypasses the computed margin entirely.
	MarginOverride int `yaml:"margin_override,omitempty" json:"margin_override,omitempty"`

	// MaxSamples bounds total oracle attempts per session, valid or not.
	MaxSamples int `yaml:"max_samples" json:"max_samples"`

	// MaxOutputSize is the red-flag length bound on raw oracle output,
	// in characters.
	MaxOutputSize int `yaml:"max_output_size" json:"max_output_size"`
}

// DefaultConfig returns the documented defaults, tuned for a local
// code-model oracle.
func DefaultConfig() Config {
	return Config{
		TargetReliability:    0.95,
		EstimatedSuccessRate: 0.98,
		StepCount:            1,
		MaxSamples:           100,
		MaxOutputSize:        4000,
	}
}

// Validate checks the structural bounds that hold regardless of override.
func (c Config) Validate() error {
	if c.TargetReliability <= 0 || c.TargetReliability >= 1 {
		return fmt.Errorf("%w: target_reliability %v not in (0,1)", ErrConfiguration, c.TargetReliability)
	}
	if c.EstimatedSuccessRate <= 0 || c.EstimatedSuccessRate >= 1 {
		return fmt.Errorf("%w: estimated_success_rate %v not in (0,1)", ErrConfiguration, c.EstimatedSuccessRate)
	}
	if c.StepCount < 1 {
		return fmt.Errorf("%w: step_count %d < 1", ErrConfiguration, c.StepCount)
	}
	if c.MarginOverride < 0 {
		return fmt.Errorf("%w: margin_override %d < 0", ErrConfiguration, c.MarginOverride)
	}
	if c.MaxSamples < 1 {
		return fmt.Errorf("%w: max_samples %d < 1", ErrConfiguration, c.MaxSamples)
	}
	if c.MaxOutputSize < 1 {
		return fmt.Errorf("%w: max_output_size %d < 1", ErrConfiguration, c.MaxOutputSize)
	}
	return nil
}

// ComputeMargin returns the vote margin k for the configuration.
//
// An explicit MarginOverride is returned unchanged (only k >= 1 is
// enforced). Otherwise the margin is derived from t, p, and s, and the
// result is clamped to at least 1. Pure and deterministic.
func ComputeMargin(c Config) (int, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if c.MarginOverride > 0 {
		return c.MarginOverride, nil
	}

	p := c.EstimatedSuccessRate
	if p <= 0.5 {
		return 0, fmt.Errorf("%w: estimated_success_rate %.3f must exceed 0.5 for voting to converge (set margin_override to force)",
			ErrConfiguration, p)
	}

	t := c.TargetReliability
	s := float64(c.StepCount)

	// k = ceil( ln(t^(-1/s) - 1) / ln((1-p)/p) ). The denominator is
	// negative for p > 0.5; a very low target can push the quotient
	// below 1, hence the clamp.
	num := math.Log(math.Pow(t, -1/s) - 1)
	den := math.Log((1 - p) / p)
	k := int(math.Ceil(num / den))

	if k < 1 {
		k = 1
	}
	return k, nil
}
