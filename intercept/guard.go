// Package intercept turns rate limit decisions into request outcomes: PASS or
// BLOCK, response metadata, and the fail-open policy when the store is down.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/events"
	"github.com/toolink/admit/limiter"
	"github.com/toolink/admit/metrics"
)

// State is the terminal state of one intercepted request.
type State string

// Request states
const (
	StatePass  State = "PASS"
	StateBlock State = "BLOCK"
)

// Outcome is what the guard decided for one request.
type Outcome struct {
	State      State
	Identifier string
	Decision   limiter.Decision
	RetryAfter time.Duration // set on BLOCK
	Degraded   bool          // store unavailable; Decision is zero and must not be reported
	Skipped    bool          // no identifier; the store was not consulted
}

// HasMetadata reports whether Decision carries real values worth exposing.
func (o Outcome) HasMetadata() bool {
	return !o.Degraded && !o.Skipped
}

// Decider is the part of the limiter engine a guard needs.
type Decider interface {
	Decide(ctx context.Context, identifier string, policy limiter.Policy) (limiter.Decision, error)
	Validate(policy limiter.Policy) error
}

// Guard binds one policy and key function to a decider.
type Guard struct {
	decider  Decider
	cfg      Config
	recorder metrics.Recorder
	sink     events.Sink
	clock    func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithRecorder sets the metrics recorder (default metrics.Nop).
func WithRecorder(r metrics.Recorder) Option {
	return func(g *Guard) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithSink sets where BLOCK and degradation events go (default events.NopSink).
// The sink is called inline, so slow sinks should be wrapped in events.Async.
func WithSink(s events.Sink) Option {
	return func(g *Guard) {
		if s != nil {
			g.sink = s
		}
	}
}

// WithClock overrides the time source used for Retry-After.
func WithClock(clock func() time.Time) Option {
	return func(g *Guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGuard validates cfg and returns a guard for it. Any error here is a
// configuration error and should abort startup.
func NewGuard(decider Decider, cfg Config, opts ...Option) (*Guard, error) {
	if decider == nil {
		return nil, errors.New("intercept: decider is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := decider.Validate(cfg.Policy); err != nil {
		return nil, fmt.Errorf("guard %q: %w", cfg.Name, err)
	}

	g := &Guard{
		decider:  decider,
		cfg:      cfg,
		recorder: metrics.Nop{},
		sink:     events.NopSink{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name returns the configured name.
func (g *Guard) Name() string { return g.cfg.Name }

// Policy returns the bound policy.
func (g *Guard) Policy() limiter.Policy { return g.cfg.Policy }

// Evaluate runs the check for identifier. It never fails: store errors turn
// into a degraded PASS.
func (g *Guard) Evaluate(ctx context.Context, identifier string) Outcome {
	algorithm := string(g.cfg.Policy.Algorithm)
	if identifier == "" {
		log.Debug().Str("preset", g.cfg.Name).Msg("no rate limit identifier, skipping check")
		return Outcome{State: StatePass, Skipped: true}
	}

	start := time.Now()
	d, err := g.decider.Decide(ctx, identifier, g.cfg.Policy)
	g.recorder.Latency(g.cfg.Name, algorithm, time.Since(start))

	if err != nil {
		log.Warn().Err(err).
			Str("preset", g.cfg.Name).
			Str("identifier", identifier).
			Str("algorithm", algorithm).
			Msg("rate limit store unavailable, failing open")
		g.recorder.Decision(g.cfg.Name, algorithm, metrics.OutcomeDegraded)
		ev := events.New(events.KindDegraded, g.cfg.Name, identifier, algorithm, g.clock())
		ev.Error = err.Error()
		g.emit(ctx, ev)
		return Outcome{State: StatePass, Identifier: identifier, Degraded: true}
	}

	if d.Limited {
		g.recorder.Decision(g.cfg.Name, algorithm, metrics.OutcomeBlock)
		g.emit(ctx, events.New(events.KindBlocked, g.cfg.Name, identifier, algorithm, g.clock()))
		return Outcome{
			State:      StateBlock,
			Identifier: identifier,
			Decision:   d,
			RetryAfter: d.RetryAfter(g.clock()),
		}
	}

	g.recorder.Decision(g.cfg.Name, algorithm, metrics.OutcomePass)
	return Outcome{State: StatePass, Identifier: identifier, Decision: d}
}

func (g *Guard) emit(ctx context.Context, ev events.Event) {
	if err := g.sink.Emit(context.WithoutCancel(ctx), ev); err != nil {
		log.Error().Err(err).Str("preset", g.cfg.Name).Str("kind", string(ev.Kind)).Msg("failed to emit rate limit event")
	}
}

type outcomeKey struct{}

// OutcomeFromContext returns the outcome a guard stored for the current request.
func OutcomeFromContext(ctx context.Context) (Outcome, bool) {
	o, ok := ctx.Value(outcomeKey{}).(Outcome)
	return o, ok
}

func withOutcome(ctx context.Context, o Outcome) context.Context {
	return context.WithValue(ctx, outcomeKey{}, o)
}

// retryAfterSeconds rounds up so a client waiting that long is never early.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
