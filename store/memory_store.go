package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore implements Store with process-local maps.
// It gives correct decisions for a single process only and is meant for tests
// and local development; deployments with more than one instance must use RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	opts    *Options
	entries map[string]*memoryEntry
	closed  bool
}

// memoryEntry holds either a counter or a window log, plus its expiry.
type memoryEntry struct {
	counter   int64
	window    []WindowEvent // sorted by At
	expiresAt time.Time     // zero means no expiry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:    newOptions(opts...),
		entries: make(map[string]*memoryEntry),
	}
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx); err != nil {
		return 0, err
	}

	now := s.opts.Clock()
	e := s.getLocked(key, now, true)
	e.counter++
	e.expiresAt = now.Add(ttl)
	return e.counter, nil
}

// Counter implements Store.
func (s *MemoryStore) Counter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx); err != nil {
		return 0, err
	}

	if e := s.getLocked(key, s.opts.Clock(), false); e != nil {
		return e.counter, nil
	}
	return 0, nil
}

// AddToWindowSet implements Store.
func (s *MemoryStore) AddToWindowSet(ctx context.Context, key string, event WindowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx); err != nil {
		return err
	}

	s.addLocked(s.getLocked(key, s.opts.Clock(), true), event)
	return nil
}

// PruneWindowSet implements Store.
func (s *MemoryStore) PruneWindowSet(ctx context.Context, key string, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx); err != nil {
		return err
	}

	if e := s.getLocked(key, s.opts.Clock(), false); e != nil {
		pruneLocked(e, olderThan)
	}
	return nil
}

// Cardinality implements Store.
func (s *MemoryStore) Cardinality(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx); err != nil {
		return 0, err
	}

	if e := s.getLocked(key, s.opts.Clock(), false); e != nil {
		return int64(len(e.window)), nil
	}
	return 0, nil
}

// RecordWindowEvent implements Store. The whole sequence runs under the store lock.
func (s *MemoryStore) RecordWindowEvent(ctx context.Context, key string, event WindowEvent, window time.Duration) (WindowCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx); err != nil {
		return WindowCount{}, err
	}

	e := s.getLocked(key, s.opts.Clock(), true)
	pruneLocked(e, event.At.Add(-window))
	s.addLocked(e, event)
	e.expiresAt = s.opts.Clock().Add(window)

	return WindowCount{Count: int64(len(e.window)), Oldest: e.window[0].At}, nil
}

// RunAtomicWindowScript implements Store with the same arithmetic as the Redis script.
func (s *MemoryStore) RunAtomicWindowScript(ctx context.Context, keyBase string, window time.Duration, maxRequests int64, now time.Time) (ScriptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx); err != nil {
		return ScriptResult{}, err
	}

	windowMs := window.Milliseconds()
	bucket := BucketStart(now, window)
	key := BucketKey(keyBase, bucket)

	e := s.getLocked(key, s.opts.Clock(), true)
	e.counter++
	e.expiresAt = s.opts.Clock().Add(window)

	return ScriptResult{
		Count:     e.counter,
		Remaining: max(0, maxRequests-e.counter),
		ResetAt:   time.UnixMilli(bucket + windowMs),
		Limited:   e.counter > maxRequests,
	}, nil
}

// DeleteByPattern implements Store using Redis glob semantics.
func (s *MemoryStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx); err != nil {
		return 0, err
	}

	re, err := globToRegexp(pattern)
	if err != nil {
		return 0, fmt.Errorf("store: invalid pattern %q: %w", pattern, err)
	}

	var deleted int64
	for key := range s.entries {
		if re.MatchString(key) {
			delete(s.entries, key)
			deleted++
		}
	}
	log.Debug().Str("pattern", pattern).Int64("deleted", deleted).Msg("keys deleted by pattern")
	return deleted, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(ctx)
}

// Close marks the store closed; later calls fail with ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make(map[string]*memoryEntry)
	return nil
}

// checkLocked requires s.mu to be held.
func (s *MemoryStore) checkLocked(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("%w: memory store is closed", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// getLocked returns the live entry for key, dropping it first if expired.
// With create set, a missing entry is created. Requires s.mu to be held.
func (s *MemoryStore) getLocked(key string, now time.Time, create bool) *memoryEntry {
	e, ok := s.entries[key]
	if ok && !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		e = &memoryEntry{}
		s.entries[key] = e
	}
	return e
}

func (s *MemoryStore) addLocked(e *memoryEntry, event WindowEvent) {
	i := sort.Search(len(e.window), func(i int) bool {
		return e.window[i].At.After(event.At)
	})
	e.window = append(e.window, WindowEvent{})
	copy(e.window[i+1:], e.window[i:])
	e.window[i] = event
}

func pruneLocked(e *memoryEntry, olderThan time.Time) {
	cutoff := toMillis(olderThan)
	i := sort.Search(len(e.window), func(i int) bool {
		return toMillis(e.window[i].At) > cutoff
	})
	e.window = e.window[i:]
}

// globToRegexp translates a Redis glob pattern (*, ?, [...], \x) into an anchored regexp.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+end]
			if strings.HasPrefix(class, "^") {
				class = "^" + regexp.QuoteMeta(class[1:])
			} else {
				class = regexp.QuoteMeta(class)
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\-`, "-") + "]")
			i += end
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

var _ Store = (*MemoryStore)(nil)
