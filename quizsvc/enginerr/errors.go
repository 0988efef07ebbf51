// Package enginerr defines the typed error kinds every engine component
// returns, matching the teacher's flat errors.New/fmt.Errorf style
// (resilience.ReconciliationError, scheduler.ErrQueueFull) rather than
// introducing a third-party errors framework.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for the HTTP transport layer to map onto
// a status code, without the transport needing to know engine internals.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindAuthRequired    Kind = "AUTH_REQUIRED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindPrecondition    Kind = "PRECONDITION_FAILED"
	KindDeviceMismatch  Kind = "DEVICE_MISMATCH"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindUpstream        Kind = "UPSTREAM"
	KindInternal        Kind = "INTERNAL"
)

// Error is a typed engine error carrying a Kind, a stable Code for clients,
// a human Message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// As is a thin wrapper over errors.As for transport code that wants the
// Kind/Code without importing this package's internals directly.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

var (
	ErrQuizNotFound      = New(KindNotFound, "quiz_not_found", "no quiz exists for that date")
	ErrAttemptNotFound   = New(KindNotFound, "attempt_not_found", "no attempt exists for that user and date")
	ErrQuizNotLive       = New(KindPrecondition, "quiz_not_live", "quiz is not currently LIVE")
	ErrAlreadyAnswered   = New(KindConflict, "already_answered", "this question slot was already answered")
	ErrWrongSlot         = New(KindPrecondition, "wrong_slot", "answer submitted for a slot the client is not currently on")
	ErrQuestionNotInOrder = New(KindValidation, "question_not_in_order", "question id is not present anywhere in this attempt's permutation")
	ErrDeviceMismatch    = New(KindDeviceMismatch, "device_mismatch", "device binding does not match the attempt's recorded device")
	ErrJoinThrottled     = New(KindRateLimited, "join_throttled", "too many join attempts this second")
	ErrAnswerThrottled   = New(KindRateLimited, "answer_throttled", "answers submitted faster than humanly possible")
	ErrPaymentRequired   = New(KindForbidden, "payment_required", "payment has not been captured for this date")
	ErrStateConflict     = New(KindConflict, "state_conflict", "quiz is not in the expected lifecycle state for this operation")
	ErrFencingLost       = New(KindConflict, "fencing_lost", "lost the fenced lease for this operation to a newer epoch")
)
