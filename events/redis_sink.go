package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultListKey is the Redis list events are appended to.
const DefaultListKey = "ratelimit:events"

// DefaultMaxLen caps the list so it cannot grow without bound.
const DefaultMaxLen = 10000

// RedisSink appends events as JSON to a capped Redis list.
type RedisSink struct {
	client redis.Cmdable
	key    string
	maxLen int64

	mu     sync.RWMutex
	closed bool
}

// NewRedisSink creates a sink writing to key, keeping at most maxLen entries.
// Zero values fall back to DefaultListKey and DefaultMaxLen.
func NewRedisSink(client redis.Cmdable, key string, maxLen int64) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("events: redis client cannot be nil")
	}
	if key == "" {
		key = DefaultListKey
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &RedisSink{client: client, key: key, maxLen: maxLen}, nil
}

// Emit pushes events and trims the list in one pipeline.
func (s *RedisSink) Emit(ctx context.Context, events ...Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSinkClosed
	}
	if len(events) == 0 {
		return nil
	}

	values := make([]any, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to marshal event")
			continue
		}
		values = append(values, payload)
	}
	if len(values) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.key, values...)
	pipe.LTrim(ctx, s.key, -s.maxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push events to redis: %w", err)
	}
	return nil
}

// Recent implements Reader.
func (s *RedisSink) Recent(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events from redis: %w", err)
	}

	out := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			log.Warn().Err(err).Str("key", s.key).Msg("skipping undecodable event")
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Close stops accepting events. The client is owned by the caller.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ Sink   = (*RedisSink)(nil)
	_ Reader = (*RedisSink)(nil)
)
