package limiter

import (
	"context"
	"time"
)

// Algorithm is one window strategy. Implementations keep no state of their own;
// everything lives in the shared store, so any number of processes may run the
// same algorithm against the same keys.
type Algorithm interface {
	// Kind names the algorithm; it is also a key segment.
	Kind() Kind

	// Decide records one hit for key and returns the resulting decision.
	Decide(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error)

	// Peek reports the current window state for key without recording a hit.
	// Limited is set when the next hit would be denied.
	Peek(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error)
}

// peekDecision is the Peek counterpart of newDecision.
func peekDecision(hits, maxRequests int64, reset time.Time) Decision {
	d := newDecision(hits, maxRequests, reset)
	d.Limited = hits >= maxRequests
	return d
}
