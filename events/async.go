package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Default settings for Async
const (
	DefaultQueueSize   = 1024
	DefaultEmitTimeout = 2 * time.Second
)

// Async decouples emitters from a slow or failing sink. Emit never blocks:
// when the queue is full the event is dropped and a warning logged.
type Async struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync starts a background writer draining into sink.
func NewAsync(sink Sink, queueSize int, timeout time.Duration) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultEmitTimeout
	}
	a := &Async{
		sink:    sink,
		queue:   make(chan Event, queueSize),
		timeout: timeout,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Emit enqueues events. The context is ignored; delivery happens later.
func (a *Async) Emit(_ context.Context, events ...Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errSinkClosed
	}

	for _, ev := range events {
		select {
		case a.queue <- ev:
		default:
			log.Warn().Str("event_id", ev.ID).Str("kind", string(ev.Kind)).Int("queue_size", cap(a.queue)).Msg("event queue full, dropping event")
		}
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Emit(ctx, ev); err != nil {
			log.Error().Err(err).Str("event_id", ev.ID).Str("kind", string(ev.Kind)).Msg("failed to emit event")
		}
		cancel()
	}
}

// Close flushes queued events and closes the wrapped sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	log.Debug().Msg("event queue drained")
	return a.sink.Close()
}

var _ Sink = (*Async)(nil)
