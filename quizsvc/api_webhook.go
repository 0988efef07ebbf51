package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/dailyquiz/quizsvc/store"
)

// paymentWebhookPayload is the gateway's signed event body; `eventId` is
// the idempotency key (§6's "idempotency by event-id for 7 days"), and
// `createdAt` plus `orderId` participate in the 5-minute replay window.
type paymentWebhookPayload struct {
	EventID     string    `json:"eventId"`
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	Date        string    `json:"date"`
	Status      string    `json:"status"` // "captured" | "refunded" | "failed"
	AmountPaise int64     `json:"amountPaise"`
	CreatedAt   time.Time `json:"createdAt"`
}

var errSignatureMismatch = errors.New("webhook: signature mismatch")

// handlePaymentWebhook implements the payment webhook contract: signature
// verification, then at-most-once processing by event id, then a
// forward-only payment status transition gated by the daily cutoff.
func (a *API) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readAndVerifySignature(r, a.engine.Config.WebhookSecret)
	if err != nil {
		log.Printf("[WEBHOOK] signature verification failed: %v", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload paymentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.EventID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	seen, err := a.engine.WebhookGuard.Seen(r.Context(), payload.EventID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if seen {
		// A replay within or beyond the window is a no-op after first
		// processing — always return success so the gateway stops retrying.
		writeData(w, http.StatusOK, map[string]string{"status": "already_processed"})
		return
	}

	now := a.engine.Calendar.Now()
	if err := a.applyPaymentEvent(r.Context(), payload, now); err != nil {
		writeEngineError(w, err)
		return
	}

	if err := a.engine.WebhookGuard.MarkProcessed(r.Context(), payload.EventID); err != nil {
		log.Printf("[WEBHOOK] failed to mark event %s processed: %v", payload.EventID, err)
	}

	writeData(w, http.StatusOK, map[string]string{"status": "processed"})
}

// applyPaymentEvent maps the gateway's event onto a forward-only
// PaymentStatus transition: a capture before the daily cutoff is SUCCESS
// (grants eligibility), after the cutoff is LATE (does not), and a refund
// always applies regardless of prior state.
func (a *API) applyPaymentEvent(ctx context.Context, payload paymentWebhookPayload, now time.Time) error {
	var status store.PaymentStatus
	var capturedAt *time.Time

	switch payload.Status {
	case "captured":
		cutoff, err := a.engine.Calendar.AtTimeOfDay(payload.Date, a.engine.Config.PaymentCutoffHH, a.engine.Config.PaymentCutoffMM, 0)
		if err != nil {
			return err
		}
		ts := payload.CreatedAt
		if ts.IsZero() {
			ts = now
		}
		if !ts.After(cutoff) {
			status = store.PaymentSuccess
		} else {
			status = store.PaymentLate
		}
		capturedAt = &ts
	case "refunded":
		status = store.PaymentRefunded
		ts := now
		capturedAt = &ts
	default:
		status = store.PaymentFailed
	}

	existing, err := a.engine.Store.GetPayment(ctx, payload.UserID, payload.Date)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &store.Payment{
			UserID:      payload.UserID,
			Date:        payload.Date,
			Type:        store.PaymentTypeGateway,
			AmountPaise: payload.AmountPaise,
			ExternalRef: payload.OrderID,
			EventID:     payload.EventID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		existing.Status = status
		existing.CapturedAt = capturedAt
		if status == store.PaymentRefunded {
			existing.RefundedAt = capturedAt
		}
		return a.engine.Store.UpsertPayment(ctx, existing)
	}

	_, err = a.engine.Store.SetPaymentStatusIfForward(ctx, payload.UserID, payload.Date, status, capturedAt)
	return err
}

// readAndVerifySignature reads the raw request body and checks it against
// the gateway's HMAC-SHA256 signature header before any JSON parsing, so a
// forged payload never reaches application logic.
func readAndVerifySignature(r *http.Request, secret string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	expected := hmacHex(body, secret)
	got := r.Header.Get("X-Webhook-Signature")
	if !hmac.Equal([]byte(expected), []byte(got)) {
		return nil, errSignatureMismatch
	}
	return body, nil
}

func hmacHex(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
