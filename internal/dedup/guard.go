package dedup

import (
	"context"
	"time"
)

const (
	// DefaultNonceTTL covers the default timestamp tolerance.
	DefaultNonceTTL = 5 * time.Minute
	// DefaultEventTTL spans the platform's redelivery window.
	DefaultEventTTL = 24 * time.Hour
	// DefaultOpTimeout bounds each store call.
	DefaultOpTimeout = 2 * time.Second
)

// guard is the shared body of NonceGuard and EventDeduplicator.
type guard struct {
	store     Store
	key       func(string) string
	ttl       time.Duration
	opTimeout time.Duration
}

func (g guard) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.opTimeout)
}

func (g guard) mark(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyKey
	}
	ctx, cancel := g.opContext(ctx)
	defer cancel()
	return g.store.TryMarkAsProcessed(ctx, g.key(id), g.ttl)
}

// NonceGuard rejects a request nonce seen within its TTL.
type NonceGuard struct {
	g guard
}

// NewNonceGuard builds a guard over store. Non-positive ttl and opTimeout
// fall back to the defaults.
func NewNonceGuard(store Store, ks Keyspace, ttl, opTimeout time.Duration) *NonceGuard {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &NonceGuard{g: guard{store: store, key: ks.NonceKey, ttl: ttl, opTimeout: opTimeout}}
}

// TryConsume returns true on first use of nonce within the TTL.
func (n *NonceGuard) TryConsume(ctx context.Context, nonce string) (bool, error) {
	return n.g.mark(ctx, nonce)
}

// Release forgets nonce so a retry carrying it is not treated as a replay.
// It is for requests rejected after the nonce was consumed.
func (n *NonceGuard) Release(ctx context.Context, nonce string) error {
	if nonce == "" {
		return ErrEmptyKey
	}
	ctx, cancel := n.g.opContext(ctx)
	defer cancel()
	return n.g.store.Release(ctx, n.g.key(nonce))
}

// TTL returns the retention applied to each nonce.
func (n *NonceGuard) TTL() time.Duration { return n.g.ttl }

// EventDeduplicator admits each event id once within its TTL.
type EventDeduplicator struct {
	g guard
}

// NewEventDeduplicator builds a deduplicator over store. Non-positive ttl and
// opTimeout fall back to the defaults.
func NewEventDeduplicator(store Store, ks Keyspace, ttl, opTimeout time.Duration) *EventDeduplicator {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &EventDeduplicator{g: guard{store: store, key: ks.EventKey, ttl: ttl, opTimeout: opTimeout}}
}

// TryAdmit returns true when eventID has not been admitted within the TTL.
func (d *EventDeduplicator) TryAdmit(ctx context.Context, eventID string) (bool, error) {
	return d.g.mark(ctx, eventID)
}

// IsAdmitted reports whether eventID is currently recorded, without marking.
func (d *EventDeduplicator) IsAdmitted(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyKey
	}
	ctx, cancel := d.g.opContext(ctx)
	defer cancel()
	return d.g.store.Exists(ctx, d.g.key(eventID))
}

// CleanupExpired asks the backend to drop expired records.
func (d *EventDeduplicator) CleanupExpired(ctx context.Context) (int, error) {
	return d.g.store.CleanupExpired(ctx)
}
