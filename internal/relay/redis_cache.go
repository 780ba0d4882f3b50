package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKeyPrefix namespaces sponsorship keys.
const DefaultRedisKeyPrefix = "swap-relay:sponsor:"

// RedisCache is an IdempotencyCache shared by every relay instance.
// Expiry is delegated to Redis key TTLs.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache on client. An empty prefix uses
// DefaultRedisKeyPrefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(fingerprint string) string {
	return c.prefix + fingerprint
}

// Get returns the unexpired entry for fingerprint.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode entry: %w", err)
	}
	return e, true, nil
}

// PutIfAbsent stores entry with SETNX semantics.
func (c *RedisCache) PutIfAbsent(ctx context.Context, fingerprint string, entry Entry, ttl time.Duration) (Entry, bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, false, fmt.Errorf("encode entry: %w", err)
	}

	stored, err := c.client.SetNX(ctx, c.key(fingerprint), raw, ttl).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis setnx: %w", err)
	}
	if stored {
		return entry, true, nil
	}

	existing, ok, err := c.Get(ctx, fingerprint)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		// Expired between SETNX and GET.
		return c.PutIfAbsent(ctx, fingerprint, entry, ttl)
	}
	return existing, false, nil
}

var _ IdempotencyCache = (*RedisCache)(nil)
