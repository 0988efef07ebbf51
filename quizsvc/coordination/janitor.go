package coordination

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"
)

// LockJanitor periodically scans for and reaps fenced or stale locks left
// behind by a crashed Finalizer run or a crashed question-advancement
// loop, mirroring the teacher's coordination/janitor.go.
type LockJanitor struct {
	coordinator Coordinator
	interval    time.Duration
}

func NewLockJanitor(c Coordinator, interval time.Duration) *LockJanitor {
	return &LockJanitor{coordinator: c, interval: interval}
}

func (j *LockJanitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *LockJanitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.clean(ctx)
		}
	}
}

func (j *LockJanitor) clean(ctx context.Context) {
	keys, err := j.coordinator.ScanLocks(ctx, "quiz:*:fence:*")
	if err != nil {
		log.Printf("[COORDINATOR] janitor: scan failed: %v", err)
		return
	}

	for _, k := range keys {
		if strings.HasSuffix(k, ":epoch") {
			continue
		}

		val, err := j.coordinator.GetLockOwner(ctx, k)
		if err != nil || val == "" {
			continue
		}

		var meta FenceMetadata
		if err := json.Unmarshal([]byte(val), &meta); err != nil {
			log.Printf("[COORDINATOR] janitor: failed to unmarshal lock %s: %v", k, err)
			continue
		}

		if time.Now().After(meta.ExpiresAt.Add(5 * time.Second)) {
			log.Printf("[COORDINATOR] janitor: reclaiming stale lock %s (expired %s)", k, meta.ExpiresAt)
			if err := j.coordinator.ReleaseLease(ctx, k, val); err != nil {
				log.Printf("[COORDINATOR] janitor: failed to release stale lock %s: %v", k, err)
			}
		}
	}
}
