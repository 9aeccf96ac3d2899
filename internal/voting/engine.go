// Package voting implements first-to-ahead-by-k voting over an unreliable
// oracle: keep sampling until one candidate leads every other candidate by
// at least k validated votes, or the sample budget runs out.
//
// Sampling within a session is strictly sequential and adaptive. The
// termination decision depends on the running tally, so there is exactly one
// oracle call in flight per session at any time. That is a correctness
// requirement, not a throughput knob.
package voting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quorum/internal/oracle"
	"quorum/internal/unit"
	"quorum/internal/validate"
)

// Status is the lifecycle state of a voting session.
type Status string

const (
	// StatusSampling is the only non-terminal state.
	StatusSampling Status = "sampling"

	// StatusConsensusReached means the leading candidate is ahead of every
	// other candidate by at least the margin k.
	StatusConsensusReached Status = "consensus_reached"

	// StatusBudgetExhausted means the session hit MaxSamples (or was
	// cancelled) without reaching the margin. The leading candidate is
	// reported best-effort and flagged non-authoritative.
	StatusBudgetExhausted Status = "budget_exhausted"

	// StatusFatalError means the oracle became permanently unreachable and
	// the session aborted without consuming further budget.
	StatusFatalError Status = "fatal_error"
)

// DiscardOracleError is the discard reason recorded when a single oracle
// call fails transiently. Validation rejections carry their own reasons.
const DiscardOracleError = "oracle_error"

// Result is the immutable outcome of one voting session.
type Result struct {
	UnitID string `json:"unit_id"`
	Status Status `json:"status"`

	// Winner is the consensus candidate, or the best-effort leader on
	// budget exhaustion (nil when no valid vote was ever cast).
	Winner *validate.Candidate `json:"winner,omitempty"`

	// Authoritative is true only when Status is StatusConsensusReached.
	// A budget-exhausted leader is advisory; the caller decides whether to
	// accept it provisionally or route the unit to manual handling.
	Authoritative bool `json:"authoritative"`

	// MarginAchieved is the lead of the top candidate over the runner-up
	// at termination.
	MarginAchieved int `json:"margin_achieved"`

	TotalAttempts int            `json:"total_attempts"`
	ValidVotes    int            `json:"valid_votes"`
	Discarded     map[string]int `json:"discarded,omitempty"`
	Tally         map[string]int `json:"tally,omitempty"`
	Elapsed       time.Duration  `json:"elapsed"`

	// Err holds the fatal oracle error when Status is StatusFatalError.
	Err error `json:"-"`
}

// Engine runs voting sessions. One Engine may serve many sessions; all
// per-session state lives in the session, so concurrent Run calls never
// observe each other.
type Engine struct {
	oracle     oracle.Oracle
	validator  *validate.Validator
	margin     int
	maxSamples int
	logger     *zap.Logger
}

// NewEngine creates a voting engine with a precomputed margin.
func NewEngine(o oracle.Oracle, v *validate.Validator, margin, maxSamples int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		oracle:     o,
		validator:  v,
		margin:     margin,
		maxSamples: maxSamples,
		logger:     logger,
	}
}

// Margin returns the vote margin the engine terminates on.
func (e *Engine) Margin() int { return e.margin }

// session holds the mutable state of one voting run. It is owned
// exclusively by its Run call for its whole lifetime.
type session struct {
	tally      map[string]int
	candidates map[string]validate.Candidate
	attempts   int
	validVotes int
	discarded  map[string]int
}

// Run executes one voting session for the unit and returns its immutable
// result. The loop follows a fixed order per iteration: budget check first
// (guaranteed termination), cancellation check second (honored only between
// iterations, never mid-sample), then sample, validate, tally, margin test.
func (e *Engine) Run(ctx context.Context, u *unit.Context) Result {
	start := time.Now()
	s := &session{
		tally:      make(map[string]int),
		candidates: make(map[string]validate.Candidate),
		discarded:  make(map[string]int),
	}
	log := e.logger.With(zap.String("unit", u.ID))

	for {
		if s.attempts >= e.maxSamples {
			log.Warn("Sample budget exhausted without consensus",
				zap.Int("attempts", s.attempts),
				zap.Int("valid_votes", s.validVotes),
				zap.Int("margin_required", e.margin))
			return e.finish(u, s, StatusBudgetExhausted, nil, start)
		}
		if ctx.Err() != nil {
			log.Info("Session cancelled", zap.Int("attempts", s.attempts))
			return e.finish(u, s, StatusBudgetExhausted, nil, start)
		}

		raw, err := e.oracle.Sample(ctx, u)
		s.attempts++
		if err != nil {
			if oracle.IsUnavailable(err) {
				log.Error("Oracle unavailable, aborting session", zap.Error(err))
				return e.finish(u, s, StatusFatalError, err, start)
			}
			// Transient failure: discard and keep sampling. The budget
			// check above bounds retries against a persistently failing
			// oracle.
			s.discarded[DiscardOracleError]++
			log.Debug("Oracle sample failed", zap.Error(err), zap.Int("attempt", s.attempts))
			continue
		}

		cand, rej := e.validator.Check(raw, u)
		if rej != nil {
			s.discarded[rej.Reason]++
			log.Debug("Sample red-flagged",
				zap.String("reason", rej.Reason),
				zap.String("detail", rej.Detail),
				zap.Int("attempt", s.attempts))
			continue
		}

		s.validVotes++
		s.tally[cand.Key]++
		s.candidates[cand.Key] = cand

		top, second := s.topTwo()
		if top-second >= e.margin {
			log.Info("Consensus reached",
				zap.Int("attempts", s.attempts),
				zap.Int("valid_votes", s.validVotes),
				zap.Int("margin", top-second))
			return e.finish(u, s, StatusConsensusReached, nil, start)
		}
		// No tie-break when candidates are level: only the margin or the
		// budget terminates the session. An arbitrary tie-break would void
		// the reliability bound the margin exists to provide.
	}
}

// topTwo returns the highest tally and the next-highest distinct tally
// value (0 when there is no runner-up).
func (s *session) topTwo() (top, second int) {
	for _, n := range s.tally {
		if n > top {
			top, second = n, top
		} else if n > second {
			second = n
		}
	}
	return top, second
}

// leader returns the leading candidate. Ties are resolved by smallest
// canonical key purely to keep replayed sessions bit-identical; a tied
// leader is only ever reported as a non-authoritative best effort.
func (s *session) leader() (validate.Candidate, bool) {
	bestKey := ""
	bestVotes := 0
	for key, n := range s.tally {
		if n > bestVotes || (n == bestVotes && bestVotes > 0 && key < bestKey) {
			bestKey, bestVotes = key, n
		}
	}
	if bestVotes == 0 {
		return validate.Candidate{}, false
	}
	return s.candidates[bestKey], true
}

func (e *Engine) finish(u *unit.Context, s *session, status Status, fatal error, start time.Time) Result {
	res := Result{
		UnitID:        u.ID,
		Status:        status,
		Authoritative: status == StatusConsensusReached,
		TotalAttempts: s.attempts,
		ValidVotes:    s.validVotes,
		Discarded:     s.discarded,
		Tally:         s.tally,
		Elapsed:       time.Since(start),
		Err:           fatal,
	}
	if cand, ok := s.leader(); ok {
		c := cand
		res.Winner = &c
		top, second := s.topTwo()
		res.MarginAchieved = top - second
	}
	return res
}
