package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-process LRU bounded by entry count. Entries expire
// after the store TTL or the per-entry TTL, whichever is shorter.
type MemoryStore struct {
	lru *expirable.LRU[string, Entry]
	ttl time.Duration
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, Entry](maxEntries, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Entry, bool, error) {
	k := key.String()
	e, ok := s.lru.Get(k)
	if !ok {
		return nil, false, nil
	}
	now := s.now()
	if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
		s.lru.Remove(k)
		return nil, false, nil
	}
	e.LastAccessedAt = now
	return &e, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key Key, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 || ttl > s.ttl {
		ttl = s.ttl
	}
	e := *entry
	now := s.now()
	if e.CachedAt.IsZero() {
		e.CachedAt = now
	}
	e.ExpiresAt = now.Add(ttl)
	e.LastAccessedAt = now
	s.lru.Add(key.String(), e)
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, datasetID string) error {
	if datasetID == "" {
		s.lru.Purge()
		return nil
	}
	for _, k := range s.lru.Keys() {
		if hasDatasetPrefix(k, datasetID) {
			s.lru.Remove(k)
		}
	}
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
