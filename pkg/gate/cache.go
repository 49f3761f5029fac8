package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Outcome is a cached readiness verdict.
type Outcome struct {
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OutcomeCache remembers verdicts per gate key.
type OutcomeCache interface {
	Get(ctx context.Context, key string) (*Outcome, bool, error)
	Set(ctx context.Context, key string, o Outcome, ttl time.Duration) error
}

const memoryCacheSize = 256

// MemoryCache keeps verdicts in-process.
type MemoryCache struct {
	lru *expirable.LRU[string, Outcome]
	now func() time.Time
}

// NewMemoryCache creates a cache whose entries never outlive maxTTL.
func NewMemoryCache(maxTTL time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, Outcome](memoryCacheSize, nil, maxTTL),
		now: time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Outcome, bool, error) {
	o, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(o.ExpiresAt) {
		c.lru.Remove(key)
		return nil, false, nil
	}
	return &o, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, o Outcome, ttl time.Duration) error {
	o.ExpiresAt = c.now().Add(ttl)
	c.lru.Add(key, o)
	return nil
}

// RedisCache shares verdicts between gateway instances.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Outcome, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read gate cache: %w", err)
	}
	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false, nil
	}
	return &o, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, o Outcome, ttl time.Duration) error {
	o.ExpiresAt = time.Now().Add(ttl)
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode gate verdict: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("write gate cache: %w", err)
	}
	return nil
}
