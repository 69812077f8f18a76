// Package store provides the time-bounded key/counter store backing
// deduplication, rate limiting and challenge-session state. Every
// entry carries a TTL fixed at creation; reads never extend it, and an
// expired entry is unconditionally absent. The production backend is
// Redis (native per-key expiry); the in-memory backend exists for
// tests and single-node development.
package store

import (
	"context"
	"time"
)

// TTLStore is the abstract contract over any backing store with native
// per-key expiry.
type TTLStore interface {
	// IncrementWithTTL atomically increments a counter, creating it at 1
	// with the given TTL if absent. The TTL is set only at creation and
	// never extended on increment.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetIfAbsentWithTTL atomically claims a key. Returns true if this
	// call created the entry, false if it already existed. This is the
	// first-vote-wins primitive; a non-atomic check-then-set here is a
	// correctness bug.
	SetIfAbsentWithTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// GetCounter reads a counter without incrementing it. Absent or
	// expired counters read as zero.
	GetCounter(ctx context.Context, key string) (int64, error)

	// Exists reports presence without touching the TTL.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes a key. Used only for compensating rollback of a
	// dedup marker after a failed tally write.
	Delete(ctx context.Context, key string) error

	// SetJSON stores a JSON document with a TTL; GetJSON loads it into
	// dest, returning models.ErrNotFound when absent or expired.
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
}

// Pinger is implemented by backends that can report connectivity for
// health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
