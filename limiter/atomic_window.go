package limiter

import (
	"context"
	"time"

	"github.com/toolink/admit/store"
)

// AtomicWindow runs the increment, TTL refresh and limit comparison of the
// current bucket as one server-side script. No caller can observe the counter
// between another caller's increment and decision, so the number of accepted
// hits per window never exceeds MaxRequests, whatever the interleaving across
// processes.
type AtomicWindow struct {
	store store.Store
}

// NewAtomicWindow creates a distributed atomic window algorithm on top of st.
func NewAtomicWindow(st store.Store) *AtomicWindow {
	return &AtomicWindow{store: st}
}

// Kind implements Algorithm.
func (a *AtomicWindow) Kind() Kind { return KindAtomicWindow }

// Decide implements Algorithm.
func (a *AtomicWindow) Decide(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	res, err := a.store.RunAtomicWindowScript(ctx, key, policy.Window, policy.MaxRequests, now)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		TotalHits: res.Count,
		Remaining: res.Remaining,
		ResetTime: res.ResetAt,
		Limited:   res.Limited,
	}, nil
}

// Peek implements Algorithm. The script names its bucket keys the same way
// FixedWindow does, so a plain read of the current bucket is enough.
func (a *AtomicWindow) Peek(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	bucket := store.BucketStart(now, policy.Window)
	hits, err := a.store.Counter(ctx, store.BucketKey(key, bucket))
	if err != nil {
		return Decision{}, err
	}
	return peekDecision(hits, policy.MaxRequests, time.UnixMilli(bucket+policy.WindowMillis())), nil
}

var _ Algorithm = (*AtomicWindow)(nil)
