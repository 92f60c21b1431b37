package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qrpay/qr-gateway/internal/domain"
)

// RedisCounterStore persists windows as a Redis hash per client identity.
// Writing with HSET keeps merge semantics, and every write refreshes a TTL
// of three window lengths so stale counters age out of Redis on their own.
type RedisCounterStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCounterStore(redisURL string, window time.Duration) (*RedisCounterStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if window <= 0 {
		window = DefaultWindow
	}

	return &RedisCounterStore{client: client, ttl: 3 * window}, nil
}

// NewRedisCounterStoreWithClient wraps an existing client, e.g. one shared
// with the record cache.
func NewRedisCounterStoreWithClient(client *redis.Client, window time.Duration) *RedisCounterStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisCounterStore{client: client, ttl: 3 * window}
}

func counterKey(key string) string {
	return "ratelimit:" + key
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (domain.RateWindow, bool, error) {
	vals, err := s.client.HGetAll(ctx, counterKey(key)).Result()
	if err != nil {
		return domain.RateWindow{}, false, err
	}
	if len(vals) == 0 {
		return domain.RateWindow{}, false, nil
	}

	count, err := strconv.Atoi(vals["count"])
	if err != nil {
		// Malformed state is treated as absent so the window resets.
		return domain.RateWindow{}, false, nil
	}
	startMs, err := strconv.ParseInt(vals["window_start"], 10, 64)
	if err != nil {
		return domain.RateWindow{}, false, nil
	}

	return domain.RateWindow{Count: count, WindowStart: time.UnixMilli(startMs)}, true, nil
}

func (s *RedisCounterStore) Set(ctx context.Context, key string, w domain.RateWindow) error {
	k := counterKey(key)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, k, "count", w.Count, "window_start", w.WindowStart.UnixMilli())
	pipe.PExpire(ctx, k, s.ttl)

	_, err := pipe.Exec(ctx)
	return err
}

// Client exposes the underlying connection for health checks.
func (s *RedisCounterStore) Client() *redis.Client {
	return s.client
}

func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}
