// Package resilience tracks coordinator/store availability and applies two
// distinct degradation strategies, adapted from the teacher's
// resilience.DegradedMode: fail-open for operations whose correctness does
// not depend on the coordinator (join-rate shaping, slot-broadcast stamps —
// best-effort anti-abuse signals, not admission gates), and fail-closed for
// operations that MUST NOT proceed without it (fenced leases backing the
// Finalizer's exactly-once guarantee).
package resilience

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dailyquiz/quizsvc/enginerr"
)

// DegradedMode tracks whether the ephemeral coordinator (Redis) and the
// durable store (Postgres) are currently reachable, flipping the system's
// behavior for operations that can tolerate their absence.
type DegradedMode struct {
	mu sync.RWMutex

	coordinatorAvailable bool
	storeAvailable       bool

	lastCoordinatorCheck time.Time
	lastStoreCheck       time.Time
}

func NewDegradedMode() *DegradedMode {
	return &DegradedMode{
		coordinatorAvailable: true,
		storeAvailable:       true,
	}
}

func (d *DegradedMode) MarkCoordinatorUnavailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.coordinatorAvailable {
		log.Printf("[DEGRADED MODE] coordinator unavailable, entering degraded mode")
		d.coordinatorAvailable = false
	}
	d.lastCoordinatorCheck = time.Now()
}

func (d *DegradedMode) MarkCoordinatorAvailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.coordinatorAvailable {
		log.Printf("[DEGRADED MODE] coordinator recovered, exiting degraded mode")
		d.coordinatorAvailable = true
	}
	d.lastCoordinatorCheck = time.Now()
}

func (d *DegradedMode) MarkStoreUnavailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.storeAvailable {
		log.Printf("[DEGRADED MODE] store unavailable")
		d.storeAvailable = false
	}
	d.lastStoreCheck = time.Now()
}

func (d *DegradedMode) MarkStoreAvailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.storeAvailable {
		log.Printf("[DEGRADED MODE] store recovered")
		d.storeAvailable = true
	}
	d.lastStoreCheck = time.Now()
}

func (d *DegradedMode) IsCoordinatorAvailable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.coordinatorAvailable
}

func (d *DegradedMode) IsStoreAvailable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.storeAvailable
}

// FailOpen runs op and, if it fails, marks the coordinator unavailable and
// swallows the error: callers use this for best-effort coordinator signals
// (join counters, broadcast stamps, janitor sweeps) where unavailability
// degrades a secondary protection rather than admission safety itself.
func (d *DegradedMode) FailOpen(ctx context.Context, op func(ctx context.Context) error) {
	if err := op(ctx); err != nil {
		d.MarkCoordinatorUnavailable()
		log.Printf("[DEGRADED MODE] fail-open: coordinator op failed, proceeding without it: %v", err)
		return
	}
	d.MarkCoordinatorAvailable()
}

// FailClosed runs op and returns enginerr.ErrFencingLost if the coordinator
// is already known to be unavailable, never attempting the fenced operation
// against a dependency it has already observed as down; if op itself fails,
// it marks the coordinator unavailable and surfaces the original error so
// the caller (the Finalizer) can distinguish "lost the race" from
// "coordinator is gone".
func (d *DegradedMode) FailClosed(ctx context.Context, op func(ctx context.Context) error) error {
	if !d.IsCoordinatorAvailable() {
		return enginerr.ErrFencingLost
	}
	if err := op(ctx); err != nil {
		d.MarkCoordinatorUnavailable()
		return err
	}
	d.MarkCoordinatorAvailable()
	return nil
}

// HealthCheck reports current dependency availability for a status endpoint.
func (d *DegradedMode) HealthCheck() map[string]bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]bool{
		"coordinator": d.coordinatorAvailable,
		"store":       d.storeAvailable,
	}
}
