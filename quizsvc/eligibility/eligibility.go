// Package eligibility evaluates whether a user may be admitted to a given
// day's quiz. Evaluation is a pure function of its inputs — no store or
// network access — so it is captured once into an Attempt's
// EligibilitySnapshot at admission time and never recomputed, matching the
// teacher's preference for small validating functions (middleware/auth.go)
// over stateful validators.
package eligibility

import (
	"time"

	"github.com/dailyquiz/quizsvc/store"
)

// Input bundles every fact the evaluator needs, gathered by the caller
// (the Admission Service) from the durable store before the snapshot is
// taken.
type Input struct {
	Quiz               *store.Quiz
	Now                time.Time
	Payment            *store.Payment // nil if no payment record exists
	ProfileComplete    bool
	SubscriptionActive bool
	SubscriptionRequired bool
	CurrentStreakDays  int
	RequiredStreakDays int
}

// Evaluate returns the single EligibilityReason that applies, checked in
// the fixed precedence order of §4.2: a refund always voids eligibility
// first, then quiz lifecycle state, then payment, then profile, then
// subscription/streak gates, defaulting to ELIGIBLE only if every gate
// passes.
func Evaluate(in Input) store.EligibilitySnapshot {
	if in.Payment != nil && in.Payment.Status == store.PaymentRefunded {
		return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonRefundVoidsEligibility}
	}

	switch in.Quiz.State {
	case store.StateEnded, store.StateFinalized, store.StateResultPublished:
		return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonQuizEnded}
	case store.StateLive:
		// fall through to further checks
	default:
		return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonQuizNotLive}
	}

	if in.Payment == nil || !paymentSatisfied(in.Payment.Status) {
		return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonPaymentMissing}
	}

	if !in.ProfileComplete {
		return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonProfileIncomplete}
	}

	if in.SubscriptionRequired && !in.SubscriptionActive {
		return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonSubscriptionRequired}
	}

	if in.RequiredStreakDays > 0 && in.CurrentStreakDays < in.RequiredStreakDays {
		return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonInsufficientStreak}
	}

	if in.Quiz.LiveAt != nil && in.Quiz.EndedAt != nil {
		total := in.Quiz.EndedAt.Sub(*in.Quiz.LiveAt)
		elapsed := in.Now.Sub(*in.Quiz.LiveAt)
		// Joining in the closing seconds of the window leaves no time to
		// answer even one question; §4.2 treats this as a late submission
		// rather than a bare "not live" rejection.
		if elapsed > 0 && total > 0 && elapsed >= total {
			return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonLateSubmission}
		}
	}

	return store.EligibilitySnapshot{Eligible: true, Reason: store.ReasonEligible}
}

// EvaluateForFinalization re-applies the one part of the precedence that can
// change after join-time admission: a refund recorded at any point up to
// finalization always voids eligibility (§4.9 step 2's "refund-after-start"
// check), overriding whatever the original join-time snapshot decided.
// Every other gate (quiz lifecycle state, profile, subscription, streak,
// late-join window) was evaluated once against facts that cannot change
// after admission, so it is not re-derived here — only payment state can.
func EvaluateForFinalization(original store.EligibilitySnapshot, payment *store.Payment) store.EligibilitySnapshot {
	if payment != nil && payment.Status == store.PaymentRefunded {
		return store.EligibilitySnapshot{Eligible: false, Reason: store.ReasonRefundVoidsEligibility}
	}
	return original
}

// paymentSatisfied grants the gate only for an on-time capture. A LATE
// payment (captured after the daily cutoff) never grants eligibility —
// it is recorded for bookkeeping, not admission.
func paymentSatisfied(status store.PaymentStatus) bool {
	return status == store.PaymentSuccess
}
