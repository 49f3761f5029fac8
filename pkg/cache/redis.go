package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// RedisStore shares cached pivots between gateway instances.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	raw, err := s.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read pivot cache: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// A corrupt entry behaves as a miss and is overwritten on the next Set.
		return nil, false, nil
	}
	e.LastAccessedAt = time.Now()
	return &e, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	e := *entry
	now := time.Now()
	if e.CachedAt.IsZero() {
		e.CachedAt = now
	}
	e.ExpiresAt = now.Add(ttl)
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode pivot cache entry: %w", err)
	}
	if err := s.client.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		return fmt.Errorf("write pivot cache: %w", err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, datasetID string) error {
	pattern := escapeGlob(DatasetPrefix(datasetID)) + "*"
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("invalidate pivot cache: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan pivot cache: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("invalidate pivot cache: %w", err)
		}
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
