// Package answer implements at-most-once Answer Ingestion: one write per
// (user, date, slot), validated against the server-owned question-start
// timestamp rather than any client-supplied timing, with a rapid-answer
// anti-cheat check.
package answer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dailyquiz/quizsvc/coordination"
	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/observability"
	"github.com/dailyquiz/quizsvc/store"
)

// MinAnswerLatency is the fastest a human can plausibly read a question and
// tap an option; anything faster is flagged as suspicious rather than
// rejected outright, matching §4.8's "flag, don't silently drop" stance.
const MinAnswerLatency = 350 * time.Millisecond

// Ingestor records one answer per (user, date, slot), enforcing write-once
// semantics at the store layer and per-user throttling in front of it.
type Ingestor struct {
	Store store.Store
	Coord coordination.Coordinator
	Hooks *observability.Hooks

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(s store.Store, c coordination.Coordinator, hooks *observability.Hooks) *Ingestor {
	return &Ingestor{Store: s, Coord: c, Hooks: hooks, limiters: make(map[string]*rate.Limiter)}
}

// limiterFor returns a per-user token bucket capped at roughly one answer
// per MinAnswerLatency, so a scripted client hammering the endpoint is
// shaped at the transport edge instead of only flagged after the fact.
func (i *Ingestor) limiterFor(userID string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	if l, ok := i.limiters[userID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(MinAnswerLatency), 2)
	i.limiters[userID] = l
	return l
}

// Submit records chosenDisplayIndex (the option position the client tapped,
// 0-3) for whichever slot questionID resolves to in the attempt's own
// permutation, converting the choice back to the original option index via
// the attempt's stored OptionPerm before persisting. The slot is never taken
// from the client or from the coordinator's pointer directly: it is resolved
// by locating questionID inside attempt.Permutation first, then checked
// against both the attempt's own committed question id and the
// coordinator's current index, so a stale or forged questionId can never
// score against the wrong question. Returns isCorrect for the resolved
// answer.
func (i *Ingestor) Submit(ctx context.Context, quiz *store.Quiz, attempt *store.Attempt, questionID string, chosenDisplayIndex int, now time.Time) (bool, error) {
	if quiz.State != store.StateLive {
		return false, enginerr.ErrQuizNotLive
	}
	if chosenDisplayIndex < 0 || chosenDisplayIndex > 3 {
		return false, enginerr.New(enginerr.KindValidation, "invalid_option", "option index out of range")
	}

	if !i.limiterFor(attempt.UserID).Allow() {
		i.Hooks.RecordAntiCheat(attempt.UserID, quiz.Date, "answer_rate_exceeded")
		return false, enginerr.ErrAnswerThrottled
	}

	slot, ok := i.resolveSlot(quiz, attempt, questionID)
	if !ok {
		return false, enginerr.ErrQuestionNotInOrder
	}
	if committed := attempt.CommittedQuestionID[slot]; committed != "" && committed != questionID {
		i.Hooks.RecordAntiCheat(attempt.UserID, quiz.Date, "question_id_mismatch")
		return false, enginerr.New(enginerr.KindPrecondition, "question_id_mismatch", "submitted question id does not match the one committed for this slot")
	}

	currentSlot, haveSlot, err := i.Coord.GetCurrentSlot(ctx, quiz.Date)
	if err != nil {
		return false, err
	}
	if haveSlot && slot != currentSlot {
		return false, enginerr.ErrWrongSlot
	}

	startedAt := attempt.QuestionStartedAt[slot]
	if startedAt == nil {
		return false, enginerr.New(enginerr.KindPrecondition, "slot_not_served", "this question was never served to this attempt")
	}

	elapsed := now.Sub(*startedAt)
	if elapsed < MinAnswerLatency {
		i.Hooks.RecordAntiCheat(attempt.UserID, quiz.Date, "answer_too_fast")
	}
	if elapsed > time.Duration(quiz.QuestionTimeLimitSeconds)*time.Second {
		return false, enginerr.New(enginerr.KindPrecondition, "slot_expired", "answer submitted after the question's time limit")
	}

	originalIndex := attempt.OptionPerm[slot][chosenDisplayIndex]

	questions, err := i.Store.GetQuestions(ctx, []string{questionID})
	if err != nil {
		return false, err
	}
	isCorrect := len(questions) > 0 && questions[0] != nil && originalIndex == questions[0].CorrectOption

	alreadyAnswered, err := i.Store.SetAnswerIfUnset(ctx, attempt.UserID, attempt.Date, slot, originalIndex, now)
	if err != nil {
		return false, err
	}
	if alreadyAnswered {
		return isCorrect, enginerr.ErrAlreadyAnswered
	}

	i.Hooks.RecordProgress(attempt.UserID, quiz.Date, slot, "answered", now)

	if slot == store.QuestionCount-1 {
		if err := i.Store.MarkAttemptCompleted(ctx, attempt.UserID, attempt.Date, now); err != nil {
			return isCorrect, err
		}
	}
	return isCorrect, nil
}

// resolveSlot locates questionID inside attempt's permutation, returning the
// slot it was dealt to this user. It never trusts a client-supplied slot.
func (i *Ingestor) resolveSlot(quiz *store.Quiz, attempt *store.Attempt, questionID string) (int, bool) {
	for slot, questionIndex := range attempt.Permutation {
		if quiz.QuestionIDs[questionIndex] == questionID {
			return slot, true
		}
	}
	return 0, false
}
