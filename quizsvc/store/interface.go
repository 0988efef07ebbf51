package store

import (
	"context"
	"time"
)

// Store is the durable, authoritative backend for Quiz, Question, Attempt,
// Payment, Winner, and Audit records. It is implemented by PostgresStore for
// production and MemoryStore for tests; the Ephemeral Coordinator (a
// separate interface, see coordination package) is never a Store.
type Store interface {
	// Quiz operations
	UpsertQuiz(ctx context.Context, q *Quiz) error
	GetQuiz(ctx context.Context, date string) (*Quiz, error)
	// CompareAndSwapQuizState performs the single atomic write backing every
	// FSM transition: it succeeds only if the quiz is currently in fromState.
	CompareAndSwapQuizState(ctx context.Context, date string, fromState, toState QuizState, tsField string, ts time.Time) (*Quiz, error)

	// Question operations
	GetQuestions(ctx context.Context, ids []string) ([]*Question, error)

	// Attempt operations
	GetAttempt(ctx context.Context, userID, date string) (*Attempt, error)
	// InsertAttemptIfAbsent implements setOnInsert semantics (§4.6 step 6):
	// if a row already exists it is returned unmodified alongside created=false.
	InsertAttemptIfAbsent(ctx context.Context, a *Attempt) (existing *Attempt, created bool, err error)
	// SetAnswerIfUnset writes a slot's answer only if it is currently unset,
	// returning alreadyAnswered=true (no-op) if a concurrent writer won the race.
	SetAnswerIfUnset(ctx context.Context, userID, date string, slot int, chosenOriginalIndex int, answeredAt time.Time) (alreadyAnswered bool, err error)
	// StampQuestionStartedAtIfUnset records questionStartedAt[slot] the first
	// time a slot is served, and the committed question id bound to it.
	StampQuestionStartedAtIfUnset(ctx context.Context, userID, date string, slot int, questionID string, startedAt time.Time) (stamped *Attempt, err error)
	MarkAttemptCompleted(ctx context.Context, userID, date string, completedAt time.Time) error
	SetAttemptFinalization(ctx context.Context, userID, date string, score int, counted bool, finalizedAt time.Time) error
	ListAttemptsForDate(ctx context.Context, date string) ([]*Attempt, error)

	// Payment operations
	GetPayment(ctx context.Context, userID, date string) (*Payment, error)
	UpsertPayment(ctx context.Context, p *Payment) error
	// ConsumeFreeCredit atomically decrements userID's free-entry credit
	// balance by one, returning consumed=false if none are available
	// (§4.6 step 2). It does not create a Payment row itself — the caller
	// upserts one of Type FREE_CREDIT once a credit is consumed.
	ConsumeFreeCredit(ctx context.Context, userID string) (consumed bool, err error)
	// SetPaymentStatusIfForward enforces the forward-only transition rule
	// except REFUNDED, which is always permitted.
	SetPaymentStatusIfForward(ctx context.Context, userID, date string, status PaymentStatus, capturedAt *time.Time) (bool, error)
	HasProcessedWebhookEvent(ctx context.Context, eventID string) (bool, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error

	// Winner operations
	DeletePartialWinners(ctx context.Context, date string) error
	InsertWinners(ctx context.Context, winners []*Winner) error
	ListWinners(ctx context.Context, date string) ([]*Winner, error)

	// Durable epoch, used by the Coordinator's fence-token path as a
	// fallback of last resort when the ephemeral backend is unavailable.
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
	GetDurableEpoch(ctx context.Context, resourceID string) (int64, error)

	// Audit trail
	AppendAudit(ctx context.Context, rec *AuditRecord) error
	ListAudit(ctx context.Context, date string) ([]*AuditRecord, error)
}
