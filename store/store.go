// Package store is the only component that talks to the shared counter store.
// It exposes the handful of single-key primitives the rate limit algorithms are
// built on: atomic increment with expiry, sorted-set window logs, an atomic
// window script, and deletion by pattern.
package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned when the store cannot be reached or does not
	// answer within its timeout. Callers decide how to degrade.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrMalformedReply is returned when the store answers with data that does
	// not have the expected shape (for example a non-numeric counter).
	// Errors carrying it always match ErrUnavailable as well.
	ErrMalformedReply = errors.New("store: malformed reply")
)

// WindowEvent is a single entry in a sliding window log.
type WindowEvent struct {
	At     time.Time // score, millisecond precision
	Member string    // unique member so concurrent hits in the same millisecond are all counted
}

// WindowCount is the state of a sliding window log after an event was recorded.
type WindowCount struct {
	Count  int64
	Oldest time.Time // zero when the log is empty
}

// ScriptResult is the decision tuple produced by the atomic window script.
type ScriptResult struct {
	Count     int64
	Remaining int64
	ResetAt   time.Time
	Limited   bool
}

// Store defines the primitives available to the rate limit algorithms.
// Every method is a single round-trip against a single key (or key pattern)
// and must return an error wrapping ErrUnavailable instead of blocking past
// its timeout. Implementations never retry.
type Store interface {
	// IncrementWithExpiry atomically increments the counter at key, creating it
	// at zero if absent, and (re)sets its expiry in the same round-trip.
	// Returns the post-increment value.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Counter reads the counter at key without modifying it. Missing keys read as 0.
	Counter(ctx context.Context, key string) (int64, error)

	// AddToWindowSet inserts a single event into the sorted set at key.
	AddToWindowSet(ctx context.Context, key string, event WindowEvent) error

	// PruneWindowSet removes every entry with a score at or before olderThan.
	PruneWindowSet(ctx context.Context, key string, olderThan time.Time) error

	// Cardinality returns the number of entries in the sorted set at key.
	Cardinality(ctx context.Context, key string) (int64, error)

	// RecordWindowEvent prunes entries at or before event.At-window, inserts the
	// event, refreshes the set TTL to window and reads the cardinality, all as one
	// atomic operation.
	RecordWindowEvent(ctx context.Context, key string, event WindowEvent, window time.Duration) (WindowCount, error)

	// RunAtomicWindowScript increments the counter of the bucket holding now,
	// refreshes its TTL and decides against maxRequests in a single server-side
	// transaction. The counter key is BucketKey(keyBase, BucketStart(now, window)).
	RunAtomicWindowScript(ctx context.Context, keyBase string, window time.Duration, maxRequests int64, now time.Time) (ScriptResult, error)

	// DeleteByPattern removes every key matching the glob pattern and reports how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// EscapePattern escapes glob metacharacters so s matches literally inside a
// DeleteByPattern pattern.
func EscapePattern(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// toMillis converts t to Unix milliseconds, the resolution used for all window math.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// BucketStart aligns now to the start of its window, counting from the epoch.
func BucketStart(now time.Time, window time.Duration) int64 {
	w := window.Milliseconds()
	return (toMillis(now) / w) * w
}

// BucketKey names the counter of one fixed bucket under keyBase.
func BucketKey(keyBase string, bucket int64) string {
	return keyBase + ":" + strconv.FormatInt(bucket, 10)
}
