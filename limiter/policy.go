package limiter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidConfiguration is returned for policies that cannot be enforced.
	// It is meant to abort startup, never to be caught per request.
	ErrInvalidConfiguration = errors.New("limiter: invalid configuration")
	// ErrUnknownAlgorithm is returned when a policy names an algorithm the engine does not have.
	ErrUnknownAlgorithm = fmt.Errorf("%w: unknown algorithm", ErrInvalidConfiguration)
)

// ValidationError describes the offending policy field.
type ValidationError struct {
	Scope   string
	Field   string
	Message string
}

// Error returns the validation error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rate limit policy %q: %s: %s", e.Scope, e.Field, e.Message)
}

// Unwrap makes errors.Is(err, ErrInvalidConfiguration) hold.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// Policy is the mechanical part of a rate limit configuration: how many
// requests are allowed per window and which algorithm counts them.
// A Policy is immutable once bound to an endpoint class.
type Policy struct {
	Scope        string        // partitions keys between endpoint classes
	Window       time.Duration // window length, millisecond resolution
	MaxRequests  int64         // requests allowed per window
	Algorithm    Kind          // fixed, sliding or atomic
	PreciseReset bool          // sliding only: reset from the oldest entry
}

// Validate checks the policy and returns a *ValidationError on the first problem.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Scope) == "" {
		return &ValidationError{Scope: p.Scope, Field: "scope", Message: "must not be empty"}
	}
	if strings.ContainsAny(p.Scope, ":{}*?[] ") {
		return &ValidationError{Scope: p.Scope, Field: "scope", Message: "must not contain key separators or glob characters"}
	}
	if p.Window < time.Millisecond {
		return &ValidationError{Scope: p.Scope, Field: "window", Message: fmt.Sprintf("must be at least 1ms, got %s", p.Window)}
	}
	if p.Window%time.Millisecond != 0 {
		return &ValidationError{Scope: p.Scope, Field: "window", Message: fmt.Sprintf("must be a whole number of milliseconds, got %s", p.Window)}
	}
	if p.MaxRequests <= 0 {
		return &ValidationError{Scope: p.Scope, Field: "max_requests", Message: fmt.Sprintf("must be positive, got %d", p.MaxRequests)}
	}
	if !validKinds[p.Algorithm] {
		return &ValidationError{Scope: p.Scope, Field: "algorithm", Message: fmt.Sprintf("must be %q, %q or %q, got %q", KindFixedWindow, KindSlidingWindow, KindAtomicWindow, p.Algorithm)}
	}
	return nil
}

// WindowMillis returns the window length in milliseconds.
func (p Policy) WindowMillis() int64 {
	return p.Window.Milliseconds()
}
