package featurestore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// ErrCacheMiss reports that the key was absent from the hot cache.
var ErrCacheMiss = errors.New("feature cache: miss")

// Cache is the hot tier. All implementations must treat misses and failures
// as distinguishable: callers swallow failures but act on misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// RedisCache wraps a Redis client with a circuit breaker so a dead cache
// degrades to pass-through instead of adding a timeout to every lookup.
type RedisCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	logger  logging.Interface
}

// NewRedisCache creates the hot-cache tier. The breaker opens after five
// consecutive failures and probes again after 30s.
func NewRedisCache(client *redis.Client, logger logging.Interface) *RedisCache {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "feature-cache",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithField("breaker", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("feature cache breaker state changed")
		},
	})

	return &RedisCache{client: client, breaker: breaker, logger: logger}
}

// Get fetches a raw cache entry. A miss returns ErrCacheMiss and does not
// count against the breaker.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		data, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrCacheMiss
	}
	return out.([]byte), nil
}

// Set writes a cache entry with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// DeletePattern removes every key matching the glob pattern and returns how
// many were deleted.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	_, err := c.breaker.Execute(func() (interface{}, error) {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

		var batch []string
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := c.client.Del(ctx, batch...).Result()
			deleted += int(n)
			batch = batch[:0]
			return err
		}

		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) >= 100 {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return nil, flush()
	})
	return deleted, err
}
