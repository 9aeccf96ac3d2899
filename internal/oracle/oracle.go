// Package oracle abstracts the unreliable generator that voting amplifies.
// An oracle is invoked with a unit's context and returns one raw candidate
// output. It may be slow, may fail transiently, and may return arbitrary
// malformed content; the voting layer treats it strictly as an untrusted
// function and never inspects how it is implemented.
package oracle

import (
	"context"
	"errors"

	"quorum/internal/unit"
)

// ErrUnavailable marks the oracle as permanently unreachable (bad
// credentials, refused connection, missing model). It aborts the affected
// session immediately instead of burning sample budget on retries; a plain
// transient error does not.
var ErrUnavailable = errors.New("oracle unavailable")

// Oracle produces one raw candidate output for a unit.
//
// Implementations must be safe for concurrent use: the orchestrator may run
// several sessions against the same oracle. Within one session, calls are
// strictly sequential.
type Oracle interface {
	Sample(ctx context.Context, u *unit.Context) (string, error)
}

// IsUnavailable reports whether err marks the oracle as permanently gone.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
