// Package validate implements the admissibility ("red-flag") guard that
// sits between a raw oracle output and a vote. A sample only gets to vote
// after passing every check; anything that smells of a confused generation
// is discarded with a structured reason and never touches the tally.
//
// Checks run in fixed order, cheapest and most general first, and
// short-circuit on the first failure:
//  1. size bound            -> response_too_long
//  2. structural decode     -> invalid_format / empty_response
//  3. referential integrity -> hallucinated_reference
//  4. unit-specific predicates, in order
//
// The guard is pure and stateless: it never reads or mutates voting state.
package validate

import (
	"encoding/json"
	"fmt"

	"quorum/internal/unit"
)

// Rejection reasons for the built-in checks. Unit predicates supply their
// own reason strings.
const (
	ReasonTooLong       = "response_too_long"
	ReasonInvalidFormat = "invalid_format"
	ReasonEmpty         = "empty_response"
	ReasonHallucinated  = "hallucinated_reference"
)

// Candidate is a canonicalized decision value derived from a validated
// oracle output. Two semantically identical outputs canonicalize to the
// same Key, so they accumulate votes on the same tally entry.
type Candidate struct {
	// Key is the deterministic serialization of Payload (JSON with sorted
	// keys). Opaque to the voting engine.
	Key string `json:"key"`

	// Payload is the decoded rename map, identity pairs stripped.
	Payload map[string]string `json:"payload"`
}

// Rejection explains why a sample was discarded before voting.
type Rejection struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (r *Rejection) String() string {
	if r.Detail == "" {
		return r.Reason
	}
	return r.Reason + ": " + r.Detail
}

// Validator applies the admissibility checks for one decision kind.
type Validator struct {
	// MaxOutputSize is the raw-output length bound in characters.
	// Error rates spike sharply on overlong generations.
	MaxOutputSize int
}

// New returns a Validator with the given size bound.
func New(maxOutputSize int) *Validator {
	return &Validator{MaxOutputSize: maxOutputSize}
}

// Check screens one raw oracle output against the unit's context.
// It returns the canonicalized candidate, or a non-nil rejection.
func (v *Validator) Check(raw string, u *unit.Context) (Candidate, *Rejection) {
	if len(raw) > v.MaxOutputSize {
		return Candidate{}, &Rejection{
			Reason: ReasonTooLong,
			Detail: fmt.Sprintf("%d chars > %d", len(raw), v.MaxOutputSize),
		}
	}

	payload, rej := decodePayload(raw, u)
	if rej != nil {
		return Candidate{}, rej
	}

	for old := range payload {
		if !u.Allowed(old) {
			return Candidate{}, &Rejection{Reason: ReasonHallucinated, Detail: old}
		}
	}

	for _, pred := range u.Predicates {
		if reason := pred(payload); reason != "" {
			return Candidate{}, &Rejection{Reason: reason}
		}
	}

	return Canonicalize(payload), nil
}

// decodePayload parses the raw output into the rename-map schema and
// enforces required keys.
func decodePayload(raw string, u *unit.Context) (map[string]string, *Rejection) {
	var payload map[string]string
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &Rejection{Reason: ReasonInvalidFormat, Detail: err.Error()}
	}
	if len(payload) == 0 {
		return nil, &Rejection{Reason: ReasonEmpty}
	}
	for _, key := range u.RequiredKeys {
		if _, ok := payload[key]; !ok {
			return nil, &Rejection{Reason: ReasonInvalidFormat, Detail: "missing required key " + key}
		}
	}
	return payload, nil
}

// Canonicalize turns a decoded payload into a Candidate. Identity pairs
// (old == new) carry no information and are stripped first, so a sample
// that renames {a:b, c:c} and one that renames {a:b} cast the same vote.
func Canonicalize(payload map[string]string) Candidate {
	clean := make(map[string]string, len(payload))
	for from, to := range payload {
		if from != to && to != "" {
			clean[from] = to
		}
	}
	// encoding/json sorts map keys, which makes the key deterministic.
	data, _ := json.Marshal(clean)
	return Candidate{Key: string(data), Payload: clean}
}
