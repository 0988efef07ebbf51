package observability

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dailyquiz/quizsvc/store"
)

// Hooks bundles the engine's side-channel observability: metric emission,
// progress events for the push channel, and anti-cheat/fencing incident
// capture for later review — repurposing the teacher's incident.CaptureIncident
// pattern (gather related state into one report) for a suspicious-attempt
// report instead of a reconciliation failure report.
type Hooks struct {
	Store    store.Store
	Notifier ProgressNotifier
}

// ProgressNotifier is satisfied by the streaming package's hub, kept as a
// narrow interface here so observability doesn't import streaming directly.
type ProgressNotifier interface {
	NotifyProgress(ev store.ProgressEvent)
}

func New(s store.Store, notifier ProgressNotifier) *Hooks {
	return &Hooks{Store: s, Notifier: notifier}
}

// RecordProgress logs a question-sent or answer-received tick and forwards
// it to the push channel.
func (h *Hooks) RecordProgress(userID, date string, slot int, kind string, at time.Time) {
	ev := store.ProgressEvent{UserID: userID, Date: date, Slot: slot, Kind: kind, At: at}
	if h.Notifier != nil {
		h.Notifier.NotifyProgress(ev)
	}
}

// RecordAntiCheat raises an anti-cheat metric and writes an audit record
// capturing the signal, so later review (or an automatic action — mark
// suspicious, temp block, force logout) has a durable trail rather than
// only a log line.
func (h *Hooks) RecordAntiCheat(userID, date, kind string) {
	AntiCheatFlags.WithLabelValues(date, kind).Inc()
	log.Printf("[ANTI-CHEAT] user=%s date=%s kind=%s", userID, date, kind)

	if h.Store != nil {
		_ = h.Store.AppendAudit(context.Background(), &store.AuditRecord{
			ID:     uuid.NewString(),
			Date:   date,
			Actor:  "SYSTEM",
			Action: "ANTI_CHEAT_FLAG",
			After:  kind,
			Metadata: map[string]string{
				"user_id": userID,
				"kind":    kind,
			},
			Timestamp: time.Now(),
		})
	}
}

// RecordFencingFailure raises the fencing-failure metric when a component
// loses its fenced lease to a newer epoch mid-operation — the signal that
// distinguishes "someone else is now doing this work" from an ordinary error.
func (h *Hooks) RecordFencingFailure(date, purpose string) {
	FencingFailures.WithLabelValues(date, purpose).Inc()
	log.Printf("[FENCING] lost lease: date=%s purpose=%s", date, purpose)
}

// IncidentReport captures the surrounding context of a suspicious attempt:
// its full answer/timing trail and recent anti-cheat audit entries for the
// day, gathered the way the teacher's incident.CaptureIncident gathers
// state/agent/job/event context for a failed reconciliation.
type IncidentReport struct {
	UserID     string              `json:"user_id"`
	Date       string              `json:"date"`
	Attempt    *store.Attempt      `json:"attempt"`
	AuditTrail []*store.AuditRecord `json:"audit_trail"`
	CapturedAt time.Time           `json:"captured_at"`
}

// CaptureIncident gathers the attempt and its day's anti-cheat audit trail
// for manual review or an automated response.
func (h *Hooks) CaptureIncident(ctx context.Context, userID, date string) (*IncidentReport, error) {
	attempt, err := h.Store.GetAttempt(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, nil
	}

	all, err := h.Store.ListAudit(ctx, date)
	if err != nil {
		return nil, err
	}
	var relevant []*store.AuditRecord
	for _, rec := range all {
		if rec.Action == "ANTI_CHEAT_FLAG" && rec.Metadata["user_id"] == userID {
			relevant = append(relevant, rec)
		}
	}

	return &IncidentReport{
		UserID:     userID,
		Date:       date,
		Attempt:    attempt,
		AuditTrail: relevant,
		CapturedAt: time.Now(),
	}, nil
}
