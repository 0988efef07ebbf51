// Package audit provides a read-side query API over the durable audit
// trail (store.AuditRecord / Store.AppendAudit / Store.ListAudit), plus a
// small bounded in-memory ring of the most recent records so an admin
// dashboard can poll recent activity without round-tripping to Postgres on
// every refresh. Adapted from the teacher's timeline.Store, which serves
// the same "recent events, queryable by key" role for reconciliation
// events; here the backing system of record is the durable store rather
// than an in-process slice, and the in-memory ring is a cache layered in
// front of it instead of being the source of truth.
package audit

import (
	"context"
	"sync"

	"github.com/dailyquiz/quizsvc/store"
)

const defaultRingSize = 500

// Log reads audit records for a date from the durable store and serves a
// bounded window of the most recently appended records from memory.
type Log struct {
	store store.Store

	mu       sync.RWMutex
	ring     []*store.AuditRecord
	ringSize int
}

func NewLog(s store.Store) *Log {
	return &Log{store: s, ringSize: defaultRingSize}
}

// Record appends rec to the durable store and the in-memory ring. Callers
// needing the audit row to outlive a crash should also rely on whatever
// AppendAudit call produced rec in the first place (FSM.Transition,
// admission/admin handlers); Record here is for mirroring into the cache
// after that write succeeds, not an alternate path to persistence.
func (l *Log) Record(rec *store.AuditRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = append(l.ring, rec)
	if len(l.ring) > l.ringSize {
		l.ring = l.ring[len(l.ring)-l.ringSize:]
	}
}

// Recent returns up to n most-recently recorded audit entries from memory,
// newest last, without touching the durable store.
func (l *Log) Recent(n int) []*store.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.ring) {
		n = len(l.ring)
	}
	out := make([]*store.AuditRecord, n)
	copy(out, l.ring[len(l.ring)-n:])
	return out
}

// ForDate returns the full audit trail for date from the durable store,
// the authoritative source for anything beyond the in-memory window.
func (l *Log) ForDate(ctx context.Context, date string) ([]*store.AuditRecord, error) {
	return l.store.ListAudit(ctx, date)
}

// FilterByAction returns entries for date whose Action matches any of
// actions, used by incident review to pull e.g. only ANTI_CHEAT_FLAG rows.
func (l *Log) FilterByAction(ctx context.Context, date string, actions ...string) ([]*store.AuditRecord, error) {
	all, err := l.ForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		want[a] = struct{}{}
	}
	var out []*store.AuditRecord
	for _, rec := range all {
		if _, ok := want[rec.Action]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
