package coordination

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// FenceMetadata is the opaque value stored against a lease key, letting any
// reader (including the janitor) recover who holds it, at what epoch, and
// until when — the same shape as the teacher's LockMetadata, renamed for a
// single-shot finalize lease rather than a standing leadership lease.
type FenceMetadata struct {
	OwnerID   string    `json:"owner_id"`
	Epoch     int64     `json:"epoch"`
	ReqID     string    `json:"req_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Fencer hands out a single-owner, epoch-stamped lease for a one-shot
// critical section — the Finalizer's "run exactly once per day" guarantee.
// Unlike the teacher's LeaderElector, it does not renew or hold leadership
// between calls: a Finalizer run acquires, does its work, and releases
// (or lets the TTL expire on crash), because the unit of exclusivity here
// is a single scan-score-publish pass, not a standing role.
type Fencer struct {
	coordinator Coordinator
	ownerID     string
}

func NewFencer(c Coordinator, ownerID string) *Fencer {
	return &Fencer{coordinator: c, ownerID: ownerID}
}

// key returns the lease key for (date, purpose), e.g. ("2026-07-31", "finalize").
func key(date, purpose string) string { return "quiz:" + date + ":fence:" + purpose }

// Acquire attempts the fenced lease for purpose on date. On success it
// returns the epoch stamped into the lease and a release func; callers
// must compare this epoch against any epoch already recorded in a partial
// write before trusting their own work (see finalizer package).
func (f *Fencer) Acquire(ctx context.Context, date, purpose string, ttl time.Duration) (epoch int64, release func(), ok bool, err error) {
	k := key(date, purpose)

	epoch, err = f.coordinator.IncrementEpoch(ctx, k)
	if err != nil {
		return 0, nil, false, err
	}

	meta := FenceMetadata{
		OwnerID:   f.ownerID,
		Epoch:     epoch,
		ReqID:     uuid.NewString(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	valBytes, err := json.Marshal(meta)
	if err != nil {
		return 0, nil, false, err
	}
	val := string(valBytes)

	acquired, err := f.coordinator.AcquireLease(ctx, k, val, ttl)
	if err != nil {
		return 0, nil, false, err
	}
	if !acquired {
		return epoch, nil, false, nil
	}

	release = func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.coordinator.ReleaseLease(relCtx, k, val); err != nil {
			log.Printf("[COORDINATOR] fencer: release failed for %s: %v", k, err)
		}
	}
	return epoch, release, true, nil
}
