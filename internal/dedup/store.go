// Package dedup provides the atomic "mark if absent" primitive behind replay
// and duplicate-event protection, and the guards built on it.
//
// A Store records that a key has been consumed until its TTL elapses. Under
// concurrent callers racing on one key, exactly one TryMarkAsProcessed call
// returns true. An unexpired record is never overwritten or extended by a
// later call (first writer wins).
//
// Backends:
//   - MemoryStore: sharded in-process map, lazy expiry plus a sweeper.
//   - RedisStore: SET NX PX on a shared Redis.
//   - SQLStore: SQLite upsert, shared through the database file.
//   - PostgresStore: Postgres upsert, shared through the database.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps every backend failure, including caller
// cancellation and operation timeouts.
var ErrStoreUnavailable = errors.New("dedup store unavailable")

// ErrInvalidTTL is returned for non-positive TTLs.
var ErrInvalidTTL = errors.New("dedup ttl must be positive")

// ErrEmptyKey is returned when a guard is asked about an empty identifier.
var ErrEmptyKey = errors.New("dedup key is empty")

// Store is the pluggable backend shared by NonceGuard and EventDeduplicator.
type Store interface {
	// TryMarkAsProcessed records key for ttl. It returns true when the key was
	// absent or expired, false when an unexpired record exists.
	TryMarkAsProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Exists reports whether an unexpired record exists, without marking.
	Exists(ctx context.Context, key string) (bool, error)
	// Release removes the record for key, if any, so the key can be marked
	// again before its TTL elapses.
	Release(ctx context.Context, key string) error
	// CleanupExpired removes expired records and returns how many were
	// removed. Backends with native expiry return 0.
	CleanupExpired(ctx context.Context) (int, error)
	Close() error
}

// unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds
// while keeping the cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func checkTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
