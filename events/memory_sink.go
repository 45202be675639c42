package events

import (
	"context"
	"sync"
)

// MemorySink keeps the last maxLen events in process memory.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	maxLen int
	closed bool
}

// NewMemorySink creates a sink holding at most maxLen events (DefaultMaxLen if zero).
func NewMemorySink(maxLen int) *MemorySink {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &MemorySink{maxLen: maxLen}
}

// Emit implements Sink.
func (m *MemorySink) Emit(_ context.Context, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errSinkClosed
	}

	m.events = append(m.events, events...)
	if over := len(m.events) - m.maxLen; over > 0 {
		m.events = append(m.events[:0:0], m.events[over:]...)
	}
	return nil
}

// Recent implements Reader.
func (m *MemorySink) Recent(_ context.Context, n int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 {
		return nil, nil
	}
	if n > len(m.events) {
		n = len(m.events)
	}
	return append([]Event(nil), m.events[len(m.events)-n:]...), nil
}

// Close implements Sink.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var (
	_ Sink   = (*MemorySink)(nil)
	_ Reader = (*MemorySink)(nil)
)
