// Package fsm implements the Quiz Lifecycle FSM: the ordered, one-way walk
// from DRAFT through RESULT_PUBLISHED. Every transition is a single
// optimistic compare-and-swap against store.Store (mirroring the teacher's
// CompareAndSwapQuizState / LeaderElector epoch-bump pattern) followed by
// an audit record, so the FSM never has a window where the quiz's state and
// its audit trail disagree.
package fsm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/store"
)

// transitions enumerates the single legal predecessor of each state and the
// Quiz timestamp field it stamps. The FSM never allows skipping a state or
// moving backward.
var transitions = map[store.QuizState]struct {
	from    store.QuizState
	tsField string
}{
	store.StateScheduled:       {store.StateDraft, "scheduled_at"},
	store.StateLocked:          {store.StateScheduled, "locked_at"},
	store.StatePaymentClosed:   {store.StateLocked, "payment_closed_at"},
	store.StateLive:            {store.StatePaymentClosed, "live_at"},
	store.StateEnded:           {store.StateLive, "ended_at"},
	store.StateFinalized:       {store.StateEnded, "finalized_at"},
	store.StateResultPublished: {store.StateFinalized, "result_published_at"},
}

// FSM drives transitions for one store, stamping audit records for each.
type FSM struct {
	Store store.Store
}

func New(s store.Store) *FSM {
	return &FSM{Store: s}
}

// Transition moves the quiz for date from its current state to `to`,
// failing with enginerr.ErrStateConflict if the quiz is not currently in
// the single legal predecessor state for `to`.
func (f *FSM) Transition(ctx context.Context, date string, to store.QuizState, actor string, now time.Time) (*store.Quiz, error) {
	rule, ok := transitions[to]
	if !ok {
		return nil, enginerr.New(enginerr.KindValidation, "invalid_target_state", fmt.Sprintf("%s is not a reachable FSM target", to))
	}

	updated, err := f.Store.CompareAndSwapQuizState(ctx, date, rule.from, to, rule.tsField, now)
	if err != nil {
		if _, ok := err.(*store.ConflictError); ok {
			return nil, enginerr.Wrap(enginerr.KindConflict, "state_conflict", "quiz not in expected predecessor state", err)
		}
		return nil, err
	}

	_ = f.Store.AppendAudit(ctx, &store.AuditRecord{
		ID:        uuid.NewString(),
		Date:      date,
		Actor:     actor,
		Action:    "TRANSITION_" + string(to),
		Before:    string(rule.from),
		After:     string(to),
		Timestamp: now,
	})

	return updated, nil
}

// CanAdvanceTo reports whether to is a structurally valid next state at
// all (ignoring the quiz's actual current state) — used by admin endpoints
// to reject nonsensical requests before touching the store.
func CanAdvanceTo(to store.QuizState) bool {
	_, ok := transitions[to]
	return ok
}

// PredecessorOf returns the single legal predecessor state for `to`.
func PredecessorOf(to store.QuizState) (store.QuizState, bool) {
	rule, ok := transitions[to]
	if !ok {
		return "", false
	}
	return rule.from, true
}
