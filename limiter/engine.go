package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/store"
)

// Engine dispatches rate limit checks to the algorithm a policy names. It owns
// the computation only; all window state lives in the store, which is what
// keeps decisions correct across any number of engine instances.
type Engine struct {
	store      store.Store
	prefix     string
	algorithms map[Kind]Algorithm
	clock      func() time.Time
	retries    int
	backoff    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeyPrefix sets the namespace prepended to every key (default "ratelimit").
func WithKeyPrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix != "" {
			e.prefix = prefix
		}
	}
}

// WithClock overrides the time source used for window math.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRetries retries a check up to n more times when the store is
// unavailable, sleeping backoff, 2*backoff, ... between attempts.
// A retried check may be counted twice if the first attempt reached the store
// before timing out, so the default is no retries.
func WithRetries(n int, backoff time.Duration) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retries = n
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

// WithAlgorithm registers or replaces the algorithm for its kind.
func WithAlgorithm(a Algorithm) Option {
	return func(e *Engine) {
		e.algorithms[a.Kind()] = a
	}
}

// NewEngine creates an engine with the fixed, sliding and atomic algorithms bound to st.
func NewEngine(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("limiter: store is required")
	}

	e := &Engine{
		store:  st,
		prefix: DefaultKeyPrefix,
		algorithms: map[Kind]Algorithm{
			KindFixedWindow:   NewFixedWindow(st),
			KindSlidingWindow: NewSlidingWindow(st),
			KindAtomicWindow:  NewAtomicWindow(st),
		},
		clock:   time.Now,
		backoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Validate checks policy and that the engine has its algorithm.
func (e *Engine) Validate(policy Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if _, ok := e.algorithms[policy.Algorithm]; !ok {
		return fmt.Errorf("%w: %q for scope %q", ErrUnknownAlgorithm, policy.Algorithm, policy.Scope)
	}
	return nil
}

// Now returns the engine's notion of the current time.
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Decide records a hit for identifier under policy and returns the decision.
// Store failures are returned wrapping store.ErrUnavailable; the caller owns
// the degradation policy.
//
// Cancellation of ctx is not propagated to the store: once a hit
// is on its way it is allowed to land, so an aborted request is still counted.
// The store's own timeout bounds the call.
func (e *Engine) Decide(ctx context.Context, identifier string, policy Policy) (Decision, error) {
	alg, err := e.algorithm(policy)
	if err != nil {
		return Decision{}, err
	}
	ctx = context.WithoutCancel(ctx)
	key := e.Key(policy, identifier)

	var d Decision
	for attempt := 0; ; attempt++ {
		d, err = alg.Decide(ctx, key, policy, e.clock())
		if err == nil || attempt >= e.retries || !retryable(err) {
			break
		}
		wait := e.backoff << attempt
		log.Debug().Err(err).Str("key", key).Int("attempt", attempt+1).Dur("backoff", wait).Msg("retrying rate limit check")
		time.Sleep(wait)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("%s check for %q: %w", policy.Algorithm, identifier, err)
	}

	log.Debug().Str("key", key).Int64("total_hits", d.TotalHits).Int64("remaining", d.Remaining).Bool("limited", d.Limited).Msg("rate limit decided")
	return d, nil
}

// Peek reports the current window state without recording a hit.
func (e *Engine) Peek(ctx context.Context, identifier string, policy Policy) (Decision, error) {
	alg, err := e.algorithm(policy)
	if err != nil {
		return Decision{}, err
	}
	d, err := alg.Peek(ctx, e.Key(policy, identifier), policy, e.clock())
	if err != nil {
		return Decision{}, fmt.Errorf("%s peek for %q: %w", policy.Algorithm, identifier, err)
	}
	return d, nil
}

// Reset deletes all window state for identifier across every scope and
// algorithm, so its next check behaves like its first. Composite identifiers
// that merely start with identifier are left alone.
func (e *Engine) Reset(ctx context.Context, identifier string) (int64, error) {
	if identifier == "" {
		return 0, errors.New("limiter: identifier cannot be empty")
	}
	pattern := fmt.Sprintf("%s:*:{%s}*", store.EscapePattern(e.prefix), store.EscapePattern(encodeIdentifier(identifier)))
	n, err := e.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		return n, fmt.Errorf("reset %q: %w", identifier, err)
	}
	log.Info().Str("identifier", identifier).Int64("deleted_keys", n).Msg("rate limit state reset")
	return n, nil
}

// Key returns the store key base for identifier under policy. The identifier
// is wrapped in braces, which doubles as a Redis Cluster hash tag so every key
// of one identifier lands on the same slot. Braces inside the identifier are
// percent-encoded, so the first closing brace always ends it.
func (e *Engine) Key(policy Policy, identifier string) string {
	return fmt.Sprintf("%s:%s:%s:{%s}", e.prefix, policy.Scope, policy.Algorithm, encodeIdentifier(identifier))
}

var identifierEncoder = strings.NewReplacer("%", "%25", "{", "%7B", "}", "%7D")

func encodeIdentifier(identifier string) string {
	return identifierEncoder.Replace(identifier)
}

func (e *Engine) algorithm(policy Policy) (Algorithm, error) {
	alg, ok := e.algorithms[policy.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q for scope %q", ErrUnknownAlgorithm, policy.Algorithm, policy.Scope)
	}
	return alg, nil
}

// retryable reports whether err is a transient store failure. Malformed
// replies will not fix themselves.
func retryable(err error) bool {
	return errors.Is(err, store.ErrUnavailable) && !errors.Is(err, store.ErrMalformedReply)
}
