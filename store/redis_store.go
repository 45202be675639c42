package store

import (
	"context"
	_ "embed" // needed for go:embed
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

//go:embed atomic_window.lua
var atomicWindowSource string

var atomicWindowScript = redis.NewScript(atomicWindowSource)

// RedisStore implements Store on top of Redis.
type RedisStore struct {
	client redis.UniversalClient // works with Client, ClusterClient and FailoverClient
	opts   *Options
}

// NewRedisStore creates a Redis-backed store around a pre-configured client.
// The client is owned by the store afterwards and closed by Close.
func NewRedisStore(client redis.UniversalClient, opts ...Option) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("store: redis client is required")
	}
	options := newOptions(opts...)

	log.Debug().Dur("timeout", options.Timeout).Msg("redis store initialized")
	return &RedisStore{
		client: client,
		opts:   options,
	}, nil
}

// IncrementWithExpiry runs INCR and EXPIRE inside one MULTI/EXEC so the counter
// is never observable without a TTL.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("increment", key, err)
	}
	return incr.Val(), nil
}

// Counter reads a counter, treating a missing key as zero.
func (s *RedisStore) Counter(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get counter", key, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, malformed(key, raw)
	}
	return n, nil
}

// AddToWindowSet inserts a single event.
func (s *RedisStore) AddToWindowSet(ctx context.Context, key string, event WindowEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	z := redis.Z{Score: float64(toMillis(event.At)), Member: event.Member}
	if err := s.client.ZAdd(ctx, key, z).Err(); err != nil {
		return unavailable("zadd", key, err)
	}
	return nil
}

// PruneWindowSet removes entries scored at or before olderThan.
func (s *RedisStore) PruneWindowSet(ctx context.Context, key string, olderThan time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	upper := strconv.FormatInt(toMillis(olderThan), 10)
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", upper).Err(); err != nil {
		return unavailable("zremrangebyscore", key, err)
	}
	return nil
}

// Cardinality returns ZCARD of key.
func (s *RedisStore) Cardinality(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, unavailable("zcard", key, err)
	}
	return n, nil
}

// RecordWindowEvent prunes, inserts, refreshes the TTL and counts inside a single MULTI/EXEC.
func (s *RedisStore) RecordWindowEvent(ctx context.Context, key string, event WindowEvent, window time.Duration) (WindowCount, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	nowMs := toMillis(event.At)
	cutoff := strconv.FormatInt(nowMs-window.Milliseconds(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: event.Member})
	pipe.PExpire(ctx, key, window)
	card := pipe.ZCard(ctx, key)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return WindowCount{}, unavailable("record window event", key, err)
	}

	result := WindowCount{Count: card.Val()}
	if entries := oldest.Val(); len(entries) > 0 {
		result.Oldest = time.UnixMilli(int64(entries[0].Score))
	}
	return result, nil
}

// RunAtomicWindowScript evaluates the embedded atomic window script.
func (s *RedisStore) RunAtomicWindowScript(ctx context.Context, keyBase string, window time.Duration, maxRequests int64, now time.Time) (ScriptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	bucket := BucketStart(now, window)
	key := BucketKey(keyBase, bucket)
	args := []any{
		window.Milliseconds(), // ARGV[1]
		maxRequests,           // ARGV[2]
		bucket,                // ARGV[3]
	}
	reply, err := atomicWindowScript.Run(ctx, s.client, []string{key}, args...).Result()
	if err != nil {
		return ScriptResult{}, unavailable("atomic window script", key, err)
	}

	values, ok := reply.([]any)
	if !ok || len(values) != 4 {
		return ScriptResult{}, malformed(key, reply)
	}
	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return ScriptResult{}, malformed(key, reply)
		}
		ints[i] = n
	}

	return ScriptResult{
		Count:     ints[0],
		Remaining: ints[1],
		ResetAt:   time.UnixMilli(ints[2]),
		Limited:   ints[3] == 1,
	}, nil
}

// DeleteByPattern scans for keys matching pattern and deletes them in batches.
func (s *RedisStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var (
		deleted int64
		batch   []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, pattern, s.opts.ScanCount).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= s.opts.ScanCount {
			if err := flush(); err != nil {
				return deleted, unavailable("delete by pattern", pattern, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, unavailable("scan", pattern, err)
	}
	if err := flush(); err != nil {
		return deleted, unavailable("delete by pattern", pattern, err)
	}

	log.Debug().Str("pattern", pattern).Int64("deleted", deleted).Msg("keys deleted by pattern")
	return deleted, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrUnavailable, op, key, err)
}

func malformed(key string, reply any) error {
	log.Error().Str("key", key).Interface("reply", reply).Msg("store returned unexpected reply")
	return fmt.Errorf("%w: %w: key %q: got %T", ErrUnavailable, ErrMalformedReply, key, reply)
}

var _ Store = (*RedisStore)(nil)
