package idempotency

import (
	"context"
	"time"

	"github.com/dailyquiz/quizsvc/store"
)

// WebhookEventTTL is how long a processed payment-gateway event id is
// remembered before it could, in principle, be replayed; set well beyond
// any realistic gateway retry window.
const WebhookEventTTL = 7 * 24 * time.Hour

// WebhookReplayWindow is the window during which a duplicate webhook
// delivery for an already-processed event is treated as a known replay
// (logged, not reprocessed) rather than a surprising duplicate.
const WebhookReplayWindow = 5 * time.Minute

// WebhookGuard enforces at-most-once processing of payment gateway webhook
// deliveries, keyed by the gateway's event id.
type WebhookGuard struct {
	Store store.Store
}

func NewWebhookGuard(s store.Store) *WebhookGuard {
	return &WebhookGuard{Store: s}
}

// Seen reports whether eventID has already been processed; if so, the
// caller must treat the delivery as a replay and return success without
// reapplying the payment transition.
func (g *WebhookGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	return g.Store.HasProcessedWebhookEvent(ctx, eventID)
}

// MarkProcessed records eventID as handled for WebhookEventTTL.
func (g *WebhookGuard) MarkProcessed(ctx context.Context, eventID string) error {
	return g.Store.MarkWebhookEventProcessed(ctx, eventID, WebhookEventTTL)
}
