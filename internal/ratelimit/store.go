package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the counter surface the limiter depends on.
//
// Incr must perform the increment and the first-increment expiry as one
// atomic step; the limiter never compensates for a torn sequence.
type CounterStore interface {
	Get(ctx context.Context, key string) (count int64, found bool, err error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// RedisCounterStore implements CounterStore on a shared Redis client.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore constructs a RedisCounterStore.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Get returns the current count for key, reporting absence separately.
func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// Incr increments key and sets its expiry only when none exists yet.
// Both commands run in a single transactional pipeline.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Ping reports store reachability.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ CounterStore = (*RedisCounterStore)(nil)
