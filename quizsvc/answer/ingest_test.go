package answer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/observability"
	"github.com/dailyquiz/quizsvc/store"
)

// fakeCoordinator is a minimal in-memory coordination.Coordinator, local to
// this package's tests, exercising only the current-slot surface the
// Ingestor consults.
type fakeCoordinator struct {
	mu       sync.Mutex
	slot     map[string]int
	haveSlot map[string]bool
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{slot: make(map[string]int), haveSlot: make(map[string]bool)}
}

func (f *fakeCoordinator) AcquireLock(ctx context.Context, key, ownerID string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeCoordinator) RenewLock(ctx context.Context, key, ownerID string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeCoordinator) ReleaseLock(ctx context.Context, key, ownerID string) error { return nil }
func (f *fakeCoordinator) GetLockOwner(ctx context.Context, key string) (string, error) {
	return "", nil
}
func (f *fakeCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeCoordinator) ReleaseLease(ctx context.Context, key, value string) error { return nil }
func (f *fakeCoordinator) IsLeaseOwner(ctx context.Context, key, value string) (bool, error) {
	return false, nil
}
func (f *fakeCoordinator) IncrementEpoch(ctx context.Context, key string) (int64, error) {
	return 1, nil
}
func (f *fakeCoordinator) ScanLocks(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}
func (f *fakeCoordinator) SetCurrentSlot(ctx context.Context, date string, slot int, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slot[date] = slot
	f.haveSlot[date] = true
	return nil
}
func (f *fakeCoordinator) GetCurrentSlot(ctx context.Context, date string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot[date], f.haveSlot[date], nil
}
func (f *fakeCoordinator) StampSlotBroadcastAtIfUnset(ctx context.Context, date string, slot int, at time.Time, ttl time.Duration) (time.Time, error) {
	return at, nil
}
func (f *fakeCoordinator) IncrJoinCounter(ctx context.Context, date string, windowStart time.Time) (int64, error) {
	return 1, nil
}
func (f *fakeCoordinator) Close() error { return nil }

// testQuestions are bound into every test quiz's QuestionIDs, one per slot,
// so attempt.Permutation[slot] == slot keeps the fixtures simple: slot N's
// question is "q-N" with correct option 0.
func testQuestions(n int) []*store.Question {
	qs := make([]*store.Question, n)
	for i := 0; i < n; i++ {
		qs[i] = &store.Question{
			ID:            questionIDFor(i),
			Text:          "question",
			Options:       [4]string{"a", "b", "c", "d"},
			CorrectOption: 0,
		}
	}
	return qs
}

func questionIDFor(slot int) string { return "q-" + string(rune('a'+slot)) }

func liveQuiz() *store.Quiz {
	ids := make([]string, store.QuestionCount)
	for i := range ids {
		ids[i] = questionIDFor(i)
	}
	return &store.Quiz{Date: "2026-07-31", State: store.StateLive, QuestionTimeLimitSeconds: 10, QuestionIDs: ids}
}

// servedAttempt builds an attempt whose identity permutation has already
// been served (QuestionStartedAt/CommittedQuestionID stamped) for slot.
func servedAttempt(slot int, startedAt time.Time) *store.Attempt {
	a := &store.Attempt{UserID: "user-1", Date: "2026-07-31"}
	for i := range a.Permutation {
		a.Permutation[i] = i
	}
	a.QuestionStartedAt[slot] = &startedAt
	a.CommittedQuestionID[slot] = questionIDFor(slot)
	a.OptionPerm[slot] = [4]int{2, 0, 3, 1} // displayed -> original
	return a
}

func newTestIngestor() (*Ingestor, store.Store, *fakeCoordinator) {
	s := store.NewMemoryStore()
	mem := s.(*store.MemoryStore)
	mem.SeedQuestions(testQuestions(store.QuestionCount))
	coord := newFakeCoordinator()
	hooks := observability.New(s, nil)
	return New(s, coord, hooks), s, coord
}

func seedAttemptInStore(t *testing.T, s store.Store, a *store.Attempt) {
	t.Helper()
	if _, _, err := s.InsertAttemptIfAbsent(context.Background(), a); err != nil {
		t.Fatalf("InsertAttemptIfAbsent: %v", err)
	}
}

func TestSubmitRecordsAnswerOnce(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(0, startedAt)
	seedAttemptInStore(t, s, attempt)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 0, time.Minute)

	now := startedAt.Add(2 * time.Second)
	if _, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 1, now); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stored, err := s.GetAttempt(context.Background(), "user-1", "2026-07-31")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if stored.Answers[0] == nil {
		t.Fatal("expected slot 0 to have a recorded answer")
	}
	// displayed index 1 maps through OptionPerm[0] = {2,0,3,1} to original 0.
	if *stored.Answers[0] != 0 {
		t.Errorf("expected original option index 0, got %d", *stored.Answers[0])
	}
}

func TestSubmitReportsIsCorrect(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(0, startedAt)
	seedAttemptInStore(t, s, attempt)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 0, time.Minute)

	now := startedAt.Add(2 * time.Second)
	// displayed index 1 -> original 0, which is the correct option.
	isCorrect, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 1, now)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !isCorrect {
		t.Error("expected isCorrect=true for the correct option")
	}

	attempt2 := servedAttempt(1, startedAt)
	seedAttemptInStore(t, s, attempt2)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 1, time.Minute)
	// displayed index 0 -> original 2 via OptionPerm[1] = {2,0,3,1}, which is wrong.
	isCorrect, err = ing.Submit(context.Background(), quiz, attempt2, questionIDFor(1), 0, now)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if isCorrect {
		t.Error("expected isCorrect=false for a wrong option")
	}
}

func TestSubmitRejectsDoubleAnswer(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(0, startedAt)
	seedAttemptInStore(t, s, attempt)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 0, time.Minute)

	now := startedAt.Add(2 * time.Second)
	if _, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 1, now); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	_, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 2, now.Add(time.Second))
	if err != enginerr.ErrAlreadyAnswered {
		t.Errorf("expected ErrAlreadyAnswered, got %v", err)
	}
}

func TestSubmitRejectsWhenQuizNotLive(t *testing.T) {
	ing, s, _ := newTestIngestor()
	quiz := &store.Quiz{Date: "2026-07-31", State: store.StateEnded}
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(0, startedAt)
	seedAttemptInStore(t, s, attempt)

	_, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 1, startedAt.Add(2*time.Second))
	if err != enginerr.ErrQuizNotLive {
		t.Errorf("expected ErrQuizNotLive, got %v", err)
	}
}

func TestSubmitRejectsQuestionNotInPermutation(t *testing.T) {
	ing, s, _ := newTestIngestor()
	quiz := liveQuiz()
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(0, startedAt)
	seedAttemptInStore(t, s, attempt)

	_, err := ing.Submit(context.Background(), quiz, attempt, "not-a-real-question", 1, startedAt.Add(2*time.Second))
	if err != enginerr.ErrQuestionNotInOrder {
		t.Errorf("expected ErrQuestionNotInOrder, got %v", err)
	}
}

func TestSubmitRejectsMismatchedCommittedQuestionID(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(0, startedAt)
	// Slot 0 was actually served as questionIDFor(0); submitting a different
	// question id that nonetheless sits at a different slot in this user's
	// permutation must not be silently accepted against slot 0's commitment.
	attempt.CommittedQuestionID[0] = questionIDFor(0)
	seedAttemptInStore(t, s, attempt)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 0, time.Minute)

	// Force a resolver collision: tamper the permutation so slot 0 now maps
	// to question 1's id, which will resolve to slot 0 but conflict with the
	// already-committed question id for that slot.
	attempt.Permutation[0] = 1

	_, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(1), 1, startedAt.Add(2*time.Second))
	engErr, ok := enginerr.As(err)
	if !ok || engErr.Code != "question_id_mismatch" {
		t.Errorf("expected question_id_mismatch, got %v", err)
	}
}

func TestSubmitRejectsStaleSlotAfterCoordinatorAdvanced(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(0, startedAt)
	seedAttemptInStore(t, s, attempt)

	// Coordinator has already moved on to slot 1; a late answer for slot 0
	// (resolved from its own question id) must be rejected, not silently
	// scored against whatever slot the coordinator currently points at.
	coord.SetCurrentSlot(context.Background(), quiz.Date, 1, time.Minute)

	_, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 1, startedAt.Add(2*time.Second))
	if err != enginerr.ErrWrongSlot {
		t.Errorf("expected ErrWrongSlot, got %v", err)
	}
}

func TestSubmitRejectsUnservedSlot(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	attempt := &store.Attempt{UserID: "user-1", Date: "2026-07-31"} // slot never served
	for i := range attempt.Permutation {
		attempt.Permutation[i] = i
	}
	seedAttemptInStore(t, s, attempt)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 0, time.Minute)

	_, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 1, time.Now())
	if err == nil {
		t.Fatal("expected Submit to reject a slot that was never served")
	}
	engErr, ok := enginerr.As(err)
	if !ok || engErr.Code != "slot_not_served" {
		t.Errorf("expected slot_not_served, got %v", err)
	}
}

func TestSubmitRejectsExpiredSlot(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz() // 10 second time limit
	startedAt := time.Now().Add(-time.Minute)
	attempt := servedAttempt(0, startedAt)
	seedAttemptInStore(t, s, attempt)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 0, time.Minute)

	_, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 1, time.Now())
	if err == nil {
		t.Fatal("expected Submit to reject an answer submitted after the time limit")
	}
	engErr, ok := enginerr.As(err)
	if !ok || engErr.Code != "slot_expired" {
		t.Errorf("expected slot_expired, got %v", err)
	}
}

func TestSubmitRejectsOutOfRangeOption(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(0, startedAt)
	seedAttemptInStore(t, s, attempt)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 0, time.Minute)

	if _, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(0), 7, startedAt.Add(time.Second)); err == nil {
		t.Error("expected Submit to reject an out-of-range option index")
	}
}

func TestSubmitCompletesAttemptOnFinalSlot(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	lastSlot := store.QuestionCount - 1
	startedAt := time.Now().Add(-time.Second)
	attempt := servedAttempt(lastSlot, startedAt)
	seedAttemptInStore(t, s, attempt)
	coord.SetCurrentSlot(context.Background(), quiz.Date, lastSlot, time.Minute)

	now := startedAt.Add(2 * time.Second)
	if _, err := ing.Submit(context.Background(), quiz, attempt, questionIDFor(lastSlot), 0, now); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stored, err := s.GetAttempt(context.Background(), "user-1", "2026-07-31")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if stored.CompletedAt == nil {
		t.Error("expected answering the final slot to mark the attempt completed")
	}
}

func TestSubmitThrottlesRapidFireAnswers(t *testing.T) {
	ing, s, coord := newTestIngestor()
	quiz := liveQuiz()
	startedAt := time.Now().Add(-time.Second)

	// Three separate slots (each pre-served) submitted back-to-back, in real
	// wall-clock time, by the same user. The limiter's burst size is 2, so
	// the first two calls must succeed and the third — consuming the rate
	// limiter's real-time token bucket, independent of the simulated `now`
	// passed to Submit — must trip it.
	a := servedAttempt(0, startedAt)
	for slot := 1; slot <= 2; slot++ {
		a.QuestionStartedAt[slot] = &startedAt
		a.CommittedQuestionID[slot] = questionIDFor(slot)
		a.OptionPerm[slot] = [4]int{0, 1, 2, 3}
	}
	seedAttemptInStore(t, s, a)

	now := startedAt.Add(2 * time.Second)
	coord.SetCurrentSlot(context.Background(), quiz.Date, 0, time.Minute)
	if _, err := ing.Submit(context.Background(), quiz, a, questionIDFor(0), 0, now); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	coord.SetCurrentSlot(context.Background(), quiz.Date, 1, time.Minute)
	if _, err := ing.Submit(context.Background(), quiz, a, questionIDFor(1), 0, now); err != nil {
		t.Fatalf("second Submit (within burst): %v", err)
	}
	coord.SetCurrentSlot(context.Background(), quiz.Date, 2, time.Minute)
	if _, err := ing.Submit(context.Background(), quiz, a, questionIDFor(2), 0, now); err != enginerr.ErrAnswerThrottled {
		t.Errorf("expected third rapid Submit to be throttled, got %v", err)
	}
}
