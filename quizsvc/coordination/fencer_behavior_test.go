package coordination

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestFencerAcquireIsExclusive(t *testing.T) {
	c := newFakeCoordinator()
	fencerA := NewFencer(c, "owner-a")
	fencerB := NewFencer(c, "owner-b")
	ctx := context.Background()

	epochA, releaseA, ok, err := fencerA.Acquire(ctx, "2026-07-31", "finalize", time.Minute)
	if err != nil || !ok {
		t.Fatalf("fencerA.Acquire: ok=%v err=%v", ok, err)
	}
	if epochA != 1 {
		t.Errorf("expected first acquire to stamp epoch 1, got %d", epochA)
	}

	_, _, ok, err = fencerB.Acquire(ctx, "2026-07-31", "finalize", time.Minute)
	if err != nil {
		t.Fatalf("fencerB.Acquire error: %v", err)
	}
	if ok {
		t.Error("expected fencerB to fail to acquire a lease already held by fencerA")
	}

	releaseA()

	_, _, ok, err = fencerB.Acquire(ctx, "2026-07-31", "finalize", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected fencerB to acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestFencerEpochMonotonicAcrossDays(t *testing.T) {
	c := newFakeCoordinator()
	fencer := NewFencer(c, "owner-a")
	ctx := context.Background()

	epoch1, release1, ok, err := fencer.Acquire(ctx, "2026-07-31", "finalize", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire failed: ok=%v err=%v", ok, err)
	}
	release1()

	epoch2, release2, ok, err := fencer.Acquire(ctx, "2026-07-31", "finalize", time.Minute)
	if err != nil || !ok {
		t.Fatalf("second acquire failed: ok=%v err=%v", ok, err)
	}
	defer release2()

	if epoch2 <= epoch1 {
		t.Errorf("expected epoch to strictly increase across re-acquisitions, got %d then %d", epoch1, epoch2)
	}

	// A distinct purpose/date gets its own independent epoch counter.
	epochOther, releaseOther, ok, err := fencer.Acquire(ctx, "2026-08-01", "finalize", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire for a different date failed: ok=%v err=%v", ok, err)
	}
	defer releaseOther()
	if epochOther != 1 {
		t.Errorf("expected a fresh date to start at epoch 1, got %d", epochOther)
	}
}

func TestLockJanitorReapsExpiredLease(t *testing.T) {
	c := newFakeCoordinator()
	ctx := context.Background()

	// The janitor reads the lease's FenceMetadata.ExpiresAt embedded in its
	// JSON value (not the fake's own leaseEntry.expiresAt bookkeeping), so
	// fabricate an already-long-expired metadata blob directly rather than
	// waiting out both the lease TTL and the janitor's 5s staleness grace
	// period in real time.
	meta := FenceMetadata{
		OwnerID:   "owner-a",
		Epoch:     1,
		ReqID:     "req-1",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	valBytes, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	k := key("2026-07-31", "finalize")
	c.mu.Lock()
	c.leases[k] = leaseEntry{value: string(valBytes), expiresAt: time.Now().Add(time.Hour)}
	c.mu.Unlock()

	janitor := NewLockJanitor(c, time.Hour) // interval irrelevant; clean() called directly
	janitor.clean(ctx)

	c.mu.Lock()
	n := len(c.leases)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("expected janitor to reap the expired lease, %d leases remain", n)
	}
}

func TestLockJanitorLeavesFreshLeaseAlone(t *testing.T) {
	c := newFakeCoordinator()
	fencer := NewFencer(c, "owner-a")
	ctx := context.Background()

	_, release, ok, err := fencer.Acquire(ctx, "2026-07-31", "finalize", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	defer release()

	janitor := NewLockJanitor(c, time.Hour)
	janitor.clean(ctx)

	c.mu.Lock()
	n := len(c.leases)
	c.mu.Unlock()
	if n != 1 {
		t.Errorf("expected janitor to leave a fresh lease alone, %d leases remain", n)
	}
}
