package oracle

import (
	"context"
	"fmt"
	"sync"

	"quorum/internal/unit"
)

// Step is one scripted oracle response: either an output or an error.
type Step struct {
	Output string
	Err    error
}

// Replay is a deterministic Oracle that serves a scripted sequence of
// outputs. It exists for tests and offline replay: feeding the same script
// through the same configuration must produce bit-identical session results.
type Replay struct {
	mu    sync.Mutex
	steps []Step
	next  int
}

// NewReplay builds a replay oracle from plain outputs.
func NewReplay(outputs ...string) *Replay {
	steps := make([]Step, len(outputs))
	for i, out := range outputs {
		steps[i] = Step{Output: out}
	}
	return &Replay{steps: steps}
}

// NewReplaySteps builds a replay oracle from scripted steps, allowing
// injected transient or fatal errors.
func NewReplaySteps(steps ...Step) *Replay {
	return &Replay{steps: append([]Step(nil), steps...)}
}

// Sample returns the next scripted step. Once the script runs out, every
// further call fails with ErrUnavailable: a replay oracle that is asked for
// more than it was given has nothing truthful left to say.
func (r *Replay) Sample(ctx context.Context, u *unit.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.steps) {
		return "", fmt.Errorf("%w: replay script exhausted after %d steps", ErrUnavailable, len(r.steps))
	}
	step := r.steps[r.next]
	r.next++
	if step.Err != nil {
		return "", step.Err
	}
	return step.Output, nil
}

// Calls reports how many samples have been served.
func (r *Replay) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}
