package dedup

import (
	"context"
	"errors"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"
)

const memoryShards = 32

// ErrCapacity is wrapped in ErrStoreUnavailable when MemoryStore is full of
// unexpired records.
var ErrCapacity = errors.New("memory store at capacity")

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
}

// MemoryStore keeps records in a sharded map. Expiry is checked lazily on
// every lookup; CleanupExpired reclaims memory one shard at a time, so a
// sweep never holds a lock over the whole store.
type MemoryStore struct {
	shards     [memoryShards]memoryShard
	seed       maphash.Seed
	now        func() time.Time
	maxEntries int64
	size       atomic.Int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithMaxEntries bounds the number of records. The bound is soft under
// concurrent inserts into different shards. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxEntries = int64(n) }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		seed: maphash.MakeSeed(),
		now:  time.Now,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]time.Time)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	return &s.shards[maphash.String(s.seed, key)%memoryShards]
}

// TryMarkAsProcessed implements Store.
func (s *MemoryStore) TryMarkAsProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, unavailable("mark", err)
	}

	now := s.now()
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	exp, exists := sh.entries[key]
	if exists && now.Before(exp) {
		return false, nil
	}
	if !exists {
		if s.maxEntries > 0 && s.size.Load() >= s.maxEntries {
			return false, unavailable("mark", ErrCapacity)
		}
		s.size.Add(1)
	}
	sh.entries[key] = now.Add(ttl)
	return true, nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("exists", err)
	}
	now := s.now()
	sh := s.shard(key)

	sh.mu.Lock()
	exp, ok := sh.entries[key]
	sh.mu.Unlock()

	return ok && now.Before(exp), nil
}

// Release implements Store.
func (s *MemoryStore) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("release", err)
	}
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.entries[key]; ok {
		delete(sh.entries, key)
		s.size.Add(-1)
	}
	return nil
}

// CleanupExpired implements Store. Each shard is locked only while it is
// scanned; cancellation between shards stops the sweep early.
func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, unavailable("cleanup", err)
		}
		now := s.now()
		sh := &s.shards[i]

		sh.mu.Lock()
		for k, exp := range sh.entries {
			if !now.Before(exp) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	s.size.Add(int64(-removed))
	return removed, nil
}

// Len returns the number of records held, expired or not.
func (s *MemoryStore) Len() int {
	return int(s.size.Load())
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
