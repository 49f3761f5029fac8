package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is an atomic counter store for concurrency slots.
// Incr increments key and (re)arms its expiry in one step.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
}

// MemoryStore is a process-local CounterStore. Counters expire like their
// shared counterparts so a leaked slot frees itself.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{}
		s.counters[key] = c
	}
	c.value++
	c.expiresAt = now.Add(ttl)
	return c.value, nil
}

func (s *MemoryStore) Decr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return 0, nil
	}
	c.value--
	if c.value <= 0 || s.now().After(c.expiresAt) {
		delete(s.counters, key)
		return 0, nil
	}
	return c.value, nil
}

// Value returns the live counter for key, or 0 when absent or expired.
func (s *MemoryStore) Value(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.now().After(c.expiresAt) {
		return 0
	}
	return c.value
}

var incrScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return v
`)

var decrScript = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
return v
`)

// RedisStore shares counters across gateway processes.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps a Redis client as a CounterStore.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	v, err := decrScript.Run(ctx, s.client, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decrement %s: %w", key, err)
	}
	return v, nil
}

var (
	_ CounterStore = (*MemoryStore)(nil)
	_ CounterStore = (*RedisStore)(nil)
)
