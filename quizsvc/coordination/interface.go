// Package coordination provides the Ephemeral Coordinator: a
// Redis-backed component that owns only transient counters and locks for
// the running day's quiz — current question index, question broadcast
// timestamps, join-rate counters, and finalize-once fencing leases. It
// never holds authoritative truth; every value it loses can be
// reconstructed or safely defaulted from the durable store.
package coordination

import (
	"context"
	"time"
)

// Coordinator is the ephemeral-state interface. RedisCoordinator is its
// only implementation; nothing else in this repository also implements
// store.Store, unlike the teacher's merged RedisStore.
type Coordinator interface {
	// Generic mutual-exclusion locks, used by the janitor and any
	// short-lived critical section that isn't a full leadership lease.
	AcquireLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error)
	RenewLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string, ownerID string) error
	GetLockOwner(ctx context.Context, key string) (string, error)

	// Lease semantics back the Finalizer's single-fire-per-day fence: the
	// value is an opaque marker (owner id + epoch), and renew/release only
	// succeed if it still matches.
	AcquireLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key string, value string) error
	IsLeaseOwner(ctx context.Context, key string, value string) (bool, error)

	// IncrementEpoch returns a monotonically increasing fencing token for
	// key, used when the durable epoch fallback (store.IncrementDurableEpoch)
	// is not required (Redis is assumed reachable on the hot path).
	IncrementEpoch(ctx context.Context, key string) (int64, error)

	// ScanLocks lists keys matching pattern, used by the janitor to find
	// and reap expired or orphaned locks.
	ScanLocks(ctx context.Context, pattern string) ([]string, error)

	// Question advancement state: the coordinator, not any one replica,
	// owns "which slot is live right now" and "when was it broadcast",
	// so every replica and every reconnecting client agree on the clock.
	SetCurrentSlot(ctx context.Context, date string, slot int, ttl time.Duration) error
	GetCurrentSlot(ctx context.Context, date string) (int, bool, error)
	StampSlotBroadcastAtIfUnset(ctx context.Context, date string, slot int, at time.Time, ttl time.Duration) (time.Time, error)

	// Join-rate shaping: a rolling counter of admissions this second,
	// consulted by the Admission Service's soft cap (§4.6).
	IncrJoinCounter(ctx context.Context, date string, windowStart time.Time) (int64, error)

	Close() error
}
