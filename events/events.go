// Package events carries rate limit events (blocked callers, degraded
// decisions) to whatever pipeline administrators watch.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var errSinkClosed = errors.New("events: sink is closed")

// Kind classifies an event.
type Kind string

// Event kinds
const (
	KindBlocked  Kind = "blocked"  // a caller was denied
	KindDegraded Kind = "degraded" // the store was unavailable and the request passed unchecked
)

// Event is one occurrence at the interception boundary.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Preset     string    `json:"preset"`
	Identifier string    `json:"identifier"`
	Algorithm  string    `json:"algorithm"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// New creates an event with a fresh ID.
func New(kind Kind, preset, identifier, algorithm string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Preset:     preset,
		Identifier: identifier,
		Algorithm:  algorithm,
		At:         at.UTC(),
	}
}

// Sink accepts events.
type Sink interface {
	Emit(ctx context.Context, events ...Event) error
	Close() error
}

// Reader returns the most recent events, oldest first.
type Reader interface {
	Recent(ctx context.Context, n int) ([]Event, error)
}

// NopSink drops every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, ...Event) error { return nil }

// Close implements Sink.
func (NopSink) Close() error { return nil }

var _ Sink = NopSink{}
