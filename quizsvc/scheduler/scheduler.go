// Package scheduler drives the day's Quiz through its fixed-time lifecycle
// transitions and the question-advancement loop while LIVE, using the
// teacher's select-over-ticker-with-backoff shape (coordination/leader.go's
// loop) rather than a third-party cron library.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/dailyquiz/quizsvc/clock"
	"github.com/dailyquiz/quizsvc/coordination"
	"github.com/dailyquiz/quizsvc/finalizer"
	"github.com/dailyquiz/quizsvc/fsm"
	"github.com/dailyquiz/quizsvc/question"
	"github.com/dailyquiz/quizsvc/store"
)

// Config holds the fixed daily offsets (hour, minute, in the calendar's
// zone) the scheduler advances a quiz through.
type Config struct {
	LockHH, LockMM         int
	PayCloseHH, PayCloseMM int
	LiveHH, LiveMM         int
	EndHH, EndMM           int

	// TickInterval is how often the scheduler checks whether a deadline has
	// passed; it does not need to be precise to the second, since every
	// transition is itself idempotent (CompareAndSwapQuizState).
	TickInterval time.Duration
}

// DefaultConfig matches spec.md's fixed daily schedule.
func DefaultConfig() Config {
	return Config{
		LockHH: 7, LockMM: 0,
		PayCloseHH: 7, PayCloseMM: 30,
		LiveHH: 8, LiveMM: 0,
		EndHH: 8, EndMM: 30,
		TickInterval: 2 * time.Second,
	}
}

// Scheduler owns the single long-lived loop that advances "today's" quiz
// through DRAFT→SCHEDULED→LOCKED→PAYMENT_CLOSED→LIVE→ENDED and then hands
// off to the Finalizer, plus the nested question-advancement sub-loop while
// the quiz is LIVE.
type Scheduler struct {
	Store     store.Store
	Coord     coordination.Coordinator
	Calendar  *clock.Calendar
	FSM       *fsm.FSM
	Question  *question.Server
	Finalizer *finalizer.Finalizer
	Config    Config
	NodeID    string
}

func New(s store.Store, c coordination.Coordinator, cal *clock.Calendar, f *fsm.FSM, q *question.Server, fin *finalizer.Finalizer, cfg Config, nodeID string) *Scheduler {
	return &Scheduler{Store: s, Coord: c, Calendar: cal, FSM: f, Question: q, Finalizer: fin, Config: cfg, NodeID: nodeID}
}

// Run is the scheduler's main loop; it ticks forever until ctx is
// cancelled, recovering on every tick from whatever state the durable
// store actually holds rather than any in-memory assumption — the same
// "trust the store, not local state" posture as the teacher's reconciler.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				log.Printf("[SCHEDULER] tick error: %v", err)
			}
		}
	}
}

// tick ensures today's quiz exists and has advanced to wherever the clock
// says it should be. It is safe to call concurrently and repeatedly: every
// step is a no-op if already done.
func (s *Scheduler) tick(ctx context.Context) error {
	date := s.Calendar.Today()
	now := s.Calendar.Now()

	quiz, err := s.Store.GetQuiz(ctx, date)
	if err != nil {
		return err
	}
	if quiz == nil {
		// No quiz drafted for today yet — this scheduler never authors
		// question content, so it only ensures a DRAFT is scheduled once
		// an admin's draft exists; if none exists there is nothing to do.
		return nil
	}

	deadlines, err := s.Calendar.DeadlinesForToday(date,
		s.Config.LockHH, s.Config.LockMM,
		s.Config.PayCloseHH, s.Config.PayCloseMM,
		s.Config.LiveHH, s.Config.LiveMM,
		s.Config.EndHH, s.Config.EndMM,
	)
	if err != nil {
		return err
	}

	switch quiz.State {
	case store.StateDraft:
		// An admin must explicitly schedule a DRAFT quiz (§4.3); the
		// scheduler never does this on its own, since a DRAFT may still be
		// missing its question set.
		return nil
	case store.StateScheduled:
		if !now.Before(deadlines.LockedAt) {
			_, err := s.FSM.Transition(ctx, date, store.StateLocked, "SYSTEM", now)
			return ignoreConflict(err)
		}
	case store.StateLocked:
		if !now.Before(deadlines.PaymentCloseAt) {
			_, err := s.FSM.Transition(ctx, date, store.StatePaymentClosed, "SYSTEM", now)
			return ignoreConflict(err)
		}
	case store.StatePaymentClosed:
		if !now.Before(deadlines.LiveAt) {
			_, err := s.FSM.Transition(ctx, date, store.StateLive, "SYSTEM", now)
			if err != nil {
				return ignoreConflict(err)
			}
			return s.Coord.SetCurrentSlot(ctx, date, 0, now.Sub(deadlines.LiveAt)+deadlines.EndAt.Sub(deadlines.LiveAt))
		}
	case store.StateLive:
		if !now.Before(deadlines.EndAt) {
			_, err := s.FSM.Transition(ctx, date, store.StateEnded, "SYSTEM", now)
			return ignoreConflict(err)
		}
		return s.advanceQuestion(ctx, quiz, now, deadlines)
	case store.StateEnded:
		return ignoreConflict(s.Finalizer.Run(ctx, date, now))
	}
	return nil
}

// advanceQuestion moves the coordinator's current-slot pointer forward once
// the elapsed LIVE time crosses the next slot boundary. It never moves the
// pointer backward and never skips past store.QuestionCount-1.
func (s *Scheduler) advanceQuestion(ctx context.Context, quiz *store.Quiz, now time.Time, deadlines clock.Deadlines) error {
	elapsed := now.Sub(deadlines.LiveAt)
	if elapsed < 0 {
		return nil
	}
	limit := time.Duration(quiz.QuestionTimeLimitSeconds) * time.Second
	if limit <= 0 {
		return nil
	}
	targetSlot := int(elapsed / limit)
	if targetSlot >= store.QuestionCount {
		targetSlot = store.QuestionCount - 1
	}

	currentSlot, ok, err := s.Coord.GetCurrentSlot(ctx, quiz.Date)
	if err != nil {
		return err
	}
	if ok && currentSlot >= targetSlot {
		return nil
	}

	remaining := deadlines.EndAt.Sub(now)
	if remaining <= 0 {
		remaining = limit
	}
	return s.Question.Advance(ctx, quiz.Date, targetSlot, remaining)
}

// ignoreConflict swallows a lost-race CAS as a benign outcome for a polling
// loop: some other path (another replica's tick, an admin action) already
// made the same transition. FSM.Transition wraps the underlying
// *store.ConflictError in *enginerr.Error, so this checks the whole Unwrap
// chain rather than the error's literal top-level type.
func ignoreConflict(err error) error {
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}

// ScheduleDraft is called by the admin endpoint to move a DRAFT quiz into
// SCHEDULED once its question set is finalized by an operator.
func ScheduleDraft(ctx context.Context, f *fsm.FSM, date, actor string, now time.Time) (*store.Quiz, error) {
	return f.Transition(ctx, date, store.StateScheduled, actor, now)
}

// NewDraftQuiz builds a fresh DRAFT Quiz row for date, ready for an admin
// to populate with a question set and schedule.
func NewDraftQuiz(date, classGrade, createdBy string, questionIDs []string, questionTimeLimitSec, totalDurationSec int, now time.Time) *store.Quiz {
	return &store.Quiz{
		Date:                     date,
		QuestionIDs:              questionIDs,
		ClassGrade:               classGrade,
		State:                    store.StateDraft,
		CreatedBy:                createdBy,
		QuestionTimeLimitSeconds: questionTimeLimitSec,
		TotalDurationSeconds:     totalDurationSec,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}
