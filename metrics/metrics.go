// Package metrics records rate limit decisions for administrators.
package metrics

import "time"

// Outcome labels a recorded decision.
type Outcome string

// Decision outcomes
const (
	OutcomePass     Outcome = "pass"
	OutcomeBlock    Outcome = "block"
	OutcomeDegraded Outcome = "degraded" // store unavailable, request let through
)

// Recorder receives one call per intercepted request.
type Recorder interface {
	// Decision counts a decision for preset and algorithm.
	Decision(preset, algorithm string, outcome Outcome)
	// Latency observes how long the decision took, store round trip included.
	Latency(preset, algorithm string, d time.Duration)
}

// Nop discards everything. It lets callers skip nil checks on the hot path.
type Nop struct{}

// Decision implements Recorder.
func (Nop) Decision(string, string, Outcome) {}

// Latency implements Recorder.
func (Nop) Latency(string, string, time.Duration) {}

var _ Recorder = Nop{}
