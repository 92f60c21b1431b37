// Package cache provides short-lived caching of resolved QR records.
// It supports both in-memory (single instance) and Redis (distributed)
// backends. Cached records keep their expiry, and the resolver re-checks it
// on every hit, so caching never extends the life of an expired record.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qrpay/qr-gateway/internal/domain"
)

// Cache defines the interface for record caching backends.
type Cache interface {
	Get(ctx context.Context, qrID string) (*domain.QRRecord, bool)
	Set(ctx context.Context, qrID string, rec *domain.QRRecord, ttl time.Duration) error
}

type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
}

type cacheItem struct {
	record    *domain.QRRecord
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{
		items: make(map[string]*cacheItem),
	}
	go c.cleanup()
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, qrID string) (*domain.QRRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[qrID]
	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		return nil, false
	}

	return item.record, true
}

func (c *InMemoryCache) Set(ctx context.Context, qrID string, rec *domain.QRRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[qrID] = &cacheItem{
		record:    rec,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

func (c *InMemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, key)
			}
		}
		c.mu.Unlock()
	}
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
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

	return &RedisCache{client: client}, nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func recordKey(qrID string) string {
	return "qr:" + qrID
}

func (c *RedisCache) Get(ctx context.Context, qrID string) (*domain.QRRecord, bool) {
	data, err := c.client.Get(ctx, recordKey(qrID)).Bytes()
	if err != nil {
		return nil, false
	}

	var rec domain.QRRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}

	return &rec, true
}

func (c *RedisCache) Set(ctx context.Context, qrID string, rec *domain.QRRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, recordKey(qrID), data, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
