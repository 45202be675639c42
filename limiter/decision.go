package limiter

import "time"

// Decision is the outcome of a single rate limit check. It is computed fresh
// on every call and never stored.
type Decision struct {
	TotalHits int64     `json:"total_hits"`
	Remaining int64     `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
	Limited   bool      `json:"limited"`
}

// RetryAfter returns how long a limited caller should wait, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	return max(0, d.ResetTime.Sub(now))
}

// newDecision derives remaining and limited from the hit count.
func newDecision(hits, maxRequests int64, reset time.Time) Decision {
	return Decision{
		TotalHits: hits,
		Remaining: max(0, maxRequests-hits),
		ResetTime: reset,
		Limited:   hits > maxRequests,
	}
}
