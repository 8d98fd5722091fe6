package httpmiddleware

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCounterStore is a CounterStore shared across server instances. Each
// key's first increment in a window sets the key's TTL to the window
// remainder, so counters expire on their own.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCounterStore returns a store counting under "<prefix>:<key>:<window start>".
func NewRedisCounterStore(client *redis.Client, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisCounterStore{client: client, prefix: prefix, now: time.Now}
}

// Incr implements CounterStore.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()
	start := now.Truncate(window)
	resetAt := start.Add(window)
	redisKey := s.prefix + ":" + key + ":" + start.UTC().Format("20060102T150405")

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, resetAt.Sub(now))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, resetAt, errors.Wrap(err, "incr counter")
	}
	return incr.Val(), resetAt, nil
}
