// Package admission implements the Admission Service: idempotent Attempt
// creation with device binding, eligibility snapshotting, and a join-rate
// soft cap.
package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dailyquiz/quizsvc/coordination"
	"github.com/dailyquiz/quizsvc/eligibility"
	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/observability"
	"github.com/dailyquiz/quizsvc/question"
	"github.com/dailyquiz/quizsvc/store"
)

// JoinSoftCap is the maximum admissions the coordinator will count as
// "normal" within a one-second window before the caller is asked to back
// off; it is a shaping signal, not a hard admission limit.
const JoinSoftCap = 500

// Service admits a user into a day's quiz exactly once, regardless of how
// many concurrent join requests that user's client fires.
type Service struct {
	Store store.Store
	Coord coordination.Coordinator
	Hooks *observability.Hooks

	// group collapses concurrent join requests for the same (user, date)
	// into a single InsertAttemptIfAbsent call, the same way the teacher
	// would use golang.org/x/sync/singleflight to deduplicate concurrent
	// identical work rather than letting every request hit the store.
	group singleflight.Group
}

func New(s store.Store, c coordination.Coordinator, hooks *observability.Hooks) *Service {
	return &Service{Store: s, Coord: c, Hooks: hooks}
}

// EligibilityInput is supplied by the caller (the HTTP transport layer)
// after it has gathered whatever profile/subscription/streak facts it
// needs from other services; the Admission Service itself only evaluates
// and persists the snapshot.
type EligibilityInput struct {
	ProfileComplete      bool
	SubscriptionActive   bool
	SubscriptionRequired bool
	CurrentStreakDays    int
	RequiredStreakDays   int
}

// DeviceHash derives a stable, non-reversible binding from a client-supplied
// device id, its fingerprint, and the request's IP (§4.6 step 5:
// `H(deviceId || fingerprint || ip)`), so the stored Attempt never carries
// any of the raw identifying material.
func DeviceHash(deviceID, fingerprint, ip string) string {
	sum := sha256.Sum256([]byte(deviceID + "|" + fingerprint + "|" + ip))
	return hex.EncodeToString(sum[:])
}

// Join admits userID into date's quiz. If an attempt already exists it is
// returned unmodified (idempotent re-join), after checking the supplied
// device hash still matches the one recorded at creation.
func (s *Service) Join(ctx context.Context, date, userID, deviceID, fingerprint, ip string, elig EligibilityInput, now time.Time) (*store.Attempt, error) {
	quiz, err := s.Store.GetQuiz(ctx, date)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, enginerr.ErrQuizNotFound
	}

	windowStart := now.Truncate(time.Second)
	count, err := s.Coord.IncrJoinCounter(ctx, date, windowStart)
	if err != nil {
		return nil, err
	}
	if count > JoinSoftCap {
		return nil, enginerr.ErrJoinThrottled
	}

	deviceHash := DeviceHash(deviceID, fingerprint, ip)

	result, err, _ := s.group.Do(userID+"|"+date, func() (interface{}, error) {
		return s.join(ctx, quiz, userID, deviceHash, elig, now)
	})
	if err != nil {
		return nil, err
	}
	return result.(*store.Attempt), nil
}

func (s *Service) join(ctx context.Context, quiz *store.Quiz, userID, deviceHash string, eligIn EligibilityInput, now time.Time) (*store.Attempt, error) {
	existing, err := s.Store.GetAttempt(ctx, userID, quiz.Date)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.DeviceHash != deviceHash {
			s.Hooks.RecordAntiCheat(userID, quiz.Date, "device_mismatch")
			return nil, enginerr.ErrDeviceMismatch
		}
		observability.AttemptsAdmitted.WithLabelValues(quiz.Date, "rejoin").Inc()
		return existing, nil
	}

	payment, err := s.Store.GetPayment(ctx, userID, quiz.Date)
	if err != nil {
		return nil, err
	}

	// Consume a free-entry credit before evaluating eligibility, so a user
	// with no successful gateway capture but an available credit still gets
	// a synthetic SUCCESS payment rather than failing PAYMENT_MISSING.
	if payment == nil || payment.Status != store.PaymentSuccess {
		consumed, err := s.Store.ConsumeFreeCredit(ctx, userID)
		if err != nil {
			return nil, err
		}
		if consumed {
			payment = &store.Payment{
				UserID:      userID,
				Date:        quiz.Date,
				Status:      store.PaymentSuccess,
				Type:        store.PaymentTypeFreeCredit,
				AmountPaise: 0,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.Store.UpsertPayment(ctx, payment); err != nil {
				return nil, err
			}
		}
	}

	snapshot := eligibility.Evaluate(eligibility.Input{
		Quiz:                 quiz,
		Now:                  now,
		Payment:              payment,
		ProfileComplete:      eligIn.ProfileComplete,
		SubscriptionActive:   eligIn.SubscriptionActive,
		SubscriptionRequired: eligIn.SubscriptionRequired,
		CurrentStreakDays:    eligIn.CurrentStreakDays,
		RequiredStreakDays:   eligIn.RequiredStreakDays,
	})

	attempt := &store.Attempt{
		ID:            uuid.NewString(),
		UserID:        userID,
		Date:          quiz.Date,
		Permutation:   question.DerivePermutation(userID, quiz.Date),
		OptionPerm:    question.DeriveOptionPermutation(userID, quiz.Date),
		DeviceHash:    deviceHash,
		Eligibility:   snapshot,
		QuizStartedAt: now,
		CreatedAt:     now,
	}

	created, inserted, err := s.Store.InsertAttemptIfAbsent(ctx, attempt)
	if err != nil {
		return nil, err
	}

	outcome := "admitted"
	if !inserted {
		outcome = "race_lost"
	} else if !snapshot.Eligible {
		outcome = "ineligible:" + string(snapshot.Reason)
	}
	observability.AttemptsAdmitted.WithLabelValues(quiz.Date, outcome).Inc()

	return created, nil
}
