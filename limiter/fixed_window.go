package limiter

import (
	"context"
	"time"

	"github.com/toolink/admit/store"
)

// FixedWindow counts hits per epoch-aligned bucket with a single atomic increment.
//
// A caller can get up to twice MaxRequests through in a short interval that
// straddles a bucket boundary: a burst at the end of one window followed by a
// burst at the start of the next. That is the price of O(1) work per check;
// SlidingWindow and AtomicWindow exist for stricter guarantees.
type FixedWindow struct {
	store store.Store
}

// NewFixedWindow creates a fixed window algorithm on top of st.
func NewFixedWindow(st store.Store) *FixedWindow {
	return &FixedWindow{store: st}
}

// Kind implements Algorithm.
func (a *FixedWindow) Kind() Kind { return KindFixedWindow }

// Decide implements Algorithm.
func (a *FixedWindow) Decide(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	bucket := store.BucketStart(now, policy.Window)
	hits, err := a.store.IncrementWithExpiry(ctx, store.BucketKey(key, bucket), ttlSeconds(policy.Window))
	if err != nil {
		return Decision{}, err
	}
	return newDecision(hits, policy.MaxRequests, time.UnixMilli(bucket+policy.WindowMillis())), nil
}

// Peek implements Algorithm.
func (a *FixedWindow) Peek(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	bucket := store.BucketStart(now, policy.Window)
	hits, err := a.store.Counter(ctx, store.BucketKey(key, bucket))
	if err != nil {
		return Decision{}, err
	}
	return peekDecision(hits, policy.MaxRequests, time.UnixMilli(bucket+policy.WindowMillis())), nil
}

// ttlSeconds rounds the window up to whole seconds.
func ttlSeconds(window time.Duration) time.Duration {
	secs := (window.Milliseconds() + 999) / 1000
	return time.Duration(secs) * time.Second
}

var _ Algorithm = (*FixedWindow)(nil)
