package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It implements the same invariants as PostgresStore (write-once fields,
// unique keys) so behavioral tests pass against either backend.
type MemoryStore struct {
	mu        sync.Mutex
	quizzes   map[string]*Quiz
	questions map[string]*Question
	attempts  map[string]*Attempt // key: userID+"|"+date
	payments  map[string]*Payment // key: userID+"|"+date
	webhooks  map[string]time.Time
	winners   map[string][]*Winner // key: date
	epochs    map[string]int64
	audit     []*AuditRecord
	credits   map[string]int // key: userID, free-entry credit balance
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quizzes:   make(map[string]*Quiz),
		questions: make(map[string]*Question),
		attempts:  make(map[string]*Attempt),
		payments:  make(map[string]*Payment),
		webhooks:  make(map[string]time.Time),
		winners:   make(map[string][]*Winner),
		epochs:    make(map[string]int64),
		credits:   make(map[string]int),
	}
}

// SeedFreeCredits sets userID's free-entry credit balance, for test setup.
func (s *MemoryStore) SeedFreeCredits(userID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[userID] = n
}

func attemptKey(userID, date string) string { return userID + "|" + date }

// SeedQuestions registers a set of immutable questions, for test setup.
func (s *MemoryStore) SeedQuestions(qs []*Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range qs {
		s.questions[q.ID] = q
	}
}

func (s *MemoryStore) UpsertQuiz(ctx context.Context, q *Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.quizzes[q.Date] = &cp
	return nil
}

func (s *MemoryStore) GetQuiz(ctx context.Context, date string) (*Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[date]
	if !ok {
		return nil, nil
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryStore) CompareAndSwapQuizState(ctx context.Context, date string, fromState, toState QuizState, tsField string, ts time.Time) (*Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quizzes[date]
	if !ok {
		return nil, errors.New("quiz not found")
	}
	if q.State != fromState {
		return nil, &ConflictError{Msg: "quiz not in expected state " + string(fromState) + " (actual: " + string(q.State) + ")"}
	}
	q.State = toState
	q.UpdatedAt = ts
	switch tsField {
	case "locked_at":
		q.LockedAt = &ts
	case "payment_closed_at":
		q.PaymentClosedAt = &ts
	case "live_at":
		q.LiveAt = &ts
	case "ended_at":
		q.EndedAt = &ts
	case "finalized_at":
		q.FinalizedAt = &ts
	case "result_published_at":
		q.ResultPublishedAt = &ts
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryStore) GetQuestions(ctx context.Context, ids []string) ([]*Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Question, 0, len(ids))
	for _, id := range ids {
		q, ok := s.questions[id]
		if !ok {
			return nil, errors.New("question not found: " + id)
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *MemoryStore) GetAttempt(ctx context.Context, userID, date string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey(userID, date)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) InsertAttemptIfAbsent(ctx context.Context, a *Attempt) (*Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey(a.UserID, a.Date)
	if existing, ok := s.attempts[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *a
	s.attempts[key] = &cp
	out := cp
	return &out, true, nil
}

func (s *MemoryStore) SetAnswerIfUnset(ctx context.Context, userID, date string, slot int, chosenOriginalIndex int, answeredAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey(userID, date)]
	if !ok {
		return false, errors.New("attempt not found")
	}
	if a.Answers[slot] != nil {
		return true, nil
	}
	v := chosenOriginalIndex
	a.Answers[slot] = &v
	t := answeredAt
	a.AnsweredAt[slot] = &t
	return false, nil
}

func (s *MemoryStore) StampQuestionStartedAtIfUnset(ctx context.Context, userID, date string, slot int, questionID string, startedAt time.Time) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey(userID, date)]
	if !ok {
		return nil, errors.New("attempt not found")
	}
	if a.QuestionStartedAt[slot] == nil {
		t := startedAt
		a.QuestionStartedAt[slot] = &t
		a.CommittedQuestionID[slot] = questionID
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) MarkAttemptCompleted(ctx context.Context, userID, date string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey(userID, date)]
	if !ok {
		return errors.New("attempt not found")
	}
	if a.CompletedAt == nil {
		t := completedAt
		a.CompletedAt = &t
	}
	return nil
}

func (s *MemoryStore) SetAttemptFinalization(ctx context.Context, userID, date string, score int, counted bool, finalizedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptKey(userID, date)]
	if !ok {
		return errors.New("attempt not found")
	}
	a.Score = score
	a.Counted = counted
	t := finalizedAt
	a.FinalizedAt = &t
	return nil
}

func (s *MemoryStore) ListAttemptsForDate(ctx context.Context, date string) ([]*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Attempt
	for _, a := range s.attempts {
		if a.Date == date {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, userID, date string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[attemptKey(userID, date)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpsertPayment(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[attemptKey(p.UserID, p.Date)] = &cp
	return nil
}

var paymentRank = map[PaymentStatus]int{
	PaymentCreated:  0,
	PaymentVerified: 1,
	PaymentSuccess:  2,
	PaymentLate:     2,
	PaymentFailed:   2,
	PaymentRefunded: 3,
}

func (s *MemoryStore) SetPaymentStatusIfForward(ctx context.Context, userID, date string, status PaymentStatus, capturedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[attemptKey(userID, date)]
	if !ok {
		return false, errors.New("payment not found")
	}
	if status != PaymentRefunded && paymentRank[status] < paymentRank[p.Status] {
		return false, nil
	}
	p.Status = status
	if capturedAt != nil {
		p.CapturedAt = capturedAt
	}
	if status == PaymentRefunded {
		now := time.Now()
		p.RefundedAt = &now
	}
	return true, nil
}

func (s *MemoryStore) ConsumeFreeCredit(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credits[userID] <= 0 {
		return false, nil
	}
	s.credits[userID]--
	return true, nil
}

func (s *MemoryStore) HasProcessedWebhookEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.webhooks[eventID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(exp), nil
}

func (s *MemoryStore) MarkWebhookEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[eventID] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) DeletePartialWinners(ctx context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.winners, date)
	return nil
}

func (s *MemoryStore) InsertWinners(ctx context.Context, winners []*Winner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range winners {
		cp := *w
		s.winners[w.Date] = append(s.winners[w.Date], &cp)
	}
	return nil
}

func (s *MemoryStore) ListWinners(ctx context.Context, date string) ([]*Winner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Winner, len(s.winners[date]))
	copy(out, s.winners[date])
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s *MemoryStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[resourceID]++
	return s.epochs[resourceID], nil
}

func (s *MemoryStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[resourceID], nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, date string) ([]*AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AuditRecord
	for _, r := range s.audit {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out, nil
}

// ConflictError signals a failed compare-and-swap or unique-constraint violation.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }
