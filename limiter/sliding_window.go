package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolink/admit/store"
)

// SlidingWindow keeps a timestamped log of hits per identifier. Any contiguous
// window contains at most MaxRequests accepted hits, at the cost of O(log n)
// store work and storage proportional to recent traffic.
//
// Denied hits are logged too, so a caller that keeps hammering stays limited
// until it backs off for a full window.
type SlidingWindow struct {
	store store.Store
}

// NewSlidingWindow creates a sliding window log algorithm on top of st.
func NewSlidingWindow(st store.Store) *SlidingWindow {
	return &SlidingWindow{store: st}
}

// Kind implements Algorithm.
func (a *SlidingWindow) Kind() Kind { return KindSlidingWindow }

// Decide implements Algorithm.
func (a *SlidingWindow) Decide(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	event := store.WindowEvent{
		At:     now,
		Member: fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()),
	}
	count, err := a.store.RecordWindowEvent(ctx, key, event, policy.Window)
	if err != nil {
		return Decision{}, err
	}
	return newDecision(count.Count, policy.MaxRequests, a.resetTime(policy, now, count.Oldest)), nil
}

// Peek implements Algorithm. Pruning is idempotent so running it outside a
// transaction cannot change any decision.
func (a *SlidingWindow) Peek(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	if err := a.store.PruneWindowSet(ctx, key, now.Add(-policy.Window)); err != nil {
		return Decision{}, err
	}
	hits, err := a.store.Cardinality(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return peekDecision(hits, policy.MaxRequests, now.Add(policy.Window)), nil
}

// resetTime is now+window unless the policy asks for the precise value, which
// is when the oldest surviving entry leaves the window.
func (a *SlidingWindow) resetTime(policy Policy, now, oldest time.Time) time.Time {
	if policy.PreciseReset && !oldest.IsZero() {
		return oldest.Add(policy.Window)
	}
	return now.Add(policy.Window)
}

var _ Algorithm = (*SlidingWindow)(nil)
