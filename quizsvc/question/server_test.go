package question

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/store"
)

// fakeCoordinator is a minimal in-memory coordination.Coordinator, local to
// this package's tests, so CurrentSlot's broadcast-stamping behavior can be
// exercised without a live Redis instance.
type fakeCoordinator struct {
	mu          sync.Mutex
	slot        map[string]int
	haveSlot    map[string]bool
	broadcastAt map[string]time.Time
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		slot:        make(map[string]int),
		haveSlot:    make(map[string]bool),
		broadcastAt: make(map[string]time.Time),
	}
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
	f.mu.Lock()
	defer f.mu.Unlock()
	key := date + "|" + strconv.Itoa(slot)
	if existing, ok := f.broadcastAt[key]; ok {
		return existing, nil
	}
	f.broadcastAt[key] = at
	return at, nil
}
func (f *fakeCoordinator) IncrJoinCounter(ctx context.Context, date string, windowStart time.Time) (int64, error) {
	return 1, nil
}
func (f *fakeCoordinator) Close() error { return nil }

func newTestServer() (*Server, store.Store, *fakeCoordinator) {
	s := store.NewMemoryStore()
	mem := s.(*store.MemoryStore)
	mem.SeedQuestions([]*store.Question{
		{ID: "q0", Text: "first?", Options: [4]string{"a", "b", "c", "d"}, CorrectOption: 0},
		{ID: "q1", Text: "second?", Options: [4]string{"e", "f", "g", "h"}, CorrectOption: 1},
	})
	coord := newFakeCoordinator()
	return New(s, coord), s, coord
}

func testAttempt() *store.Attempt {
	a := &store.Attempt{UserID: "user-1", Date: "2026-07-31"}
	a.Permutation[0] = 0
	a.Permutation[1] = 1
	a.OptionPerm[0] = [4]int{3, 2, 1, 0} // displayed -> original, reversed
	a.OptionPerm[1] = [4]int{0, 1, 2, 3}
	return a
}

func TestCurrentSlotReturnsPermutedOptions(t *testing.T) {
	srv, s, _ := newTestServer()
	quiz := &store.Quiz{
		Date: "2026-07-31", State: store.StateLive,
		QuestionIDs: []string{"q0", "q1"}, QuestionTimeLimitSeconds: 10,
	}
	attempt := testAttempt()
	if _, _, err := s.InsertAttemptIfAbsent(context.Background(), attempt); err != nil {
		t.Fatalf("InsertAttemptIfAbsent: %v", err)
	}

	cs, err := srv.CurrentSlot(context.Background(), quiz, attempt, time.Now())
	if err != nil {
		t.Fatalf("CurrentSlot: %v", err)
	}
	if cs.Slot != 0 || cs.QuestionID != "q0" {
		t.Errorf("unexpected slot: %+v", cs)
	}
	// OptionPerm[0] = {3,2,1,0}: displayed[0]=original[3]="d", displayed[3]=original[0]="a".
	want := [4]string{"d", "c", "b", "a"}
	if cs.Options != want {
		t.Errorf("expected options %v, got %v", want, cs.Options)
	}
}

func TestCurrentSlotRejectsWhenQuizNotLive(t *testing.T) {
	srv, s, _ := newTestServer()
	quiz := &store.Quiz{Date: "2026-07-31", State: store.StateEnded, QuestionIDs: []string{"q0", "q1"}}
	attempt := testAttempt()
	if _, _, err := s.InsertAttemptIfAbsent(context.Background(), attempt); err != nil {
		t.Fatalf("InsertAttemptIfAbsent: %v", err)
	}

	_, err := srv.CurrentSlot(context.Background(), quiz, attempt, time.Now())
	if err != enginerr.ErrQuizNotLive {
		t.Errorf("expected ErrQuizNotLive, got %v", err)
	}
}

func TestCurrentSlotStampsQuestionStartOnceAcrossConcurrentCallers(t *testing.T) {
	srv, s, _ := newTestServer()
	quiz := &store.Quiz{
		Date: "2026-07-31", State: store.StateLive,
		QuestionIDs: []string{"q0", "q1"}, QuestionTimeLimitSeconds: 10,
	}
	attempt := testAttempt()
	if _, _, err := s.InsertAttemptIfAbsent(context.Background(), attempt); err != nil {
		t.Fatalf("InsertAttemptIfAbsent: %v", err)
	}

	first, err := srv.CurrentSlot(context.Background(), quiz, attempt, time.Now())
	if err != nil {
		t.Fatalf("first CurrentSlot: %v", err)
	}
	later := first.BroadcastAt.Add(5 * time.Second)
	second, err := srv.CurrentSlot(context.Background(), quiz, attempt, later)
	if err != nil {
		t.Fatalf("second CurrentSlot: %v", err)
	}
	if !second.BroadcastAt.Equal(first.BroadcastAt) {
		t.Errorf("expected the broadcast instant to be stamped once, got %v then %v", first.BroadcastAt, second.BroadcastAt)
	}

	stored, err := s.GetAttempt(context.Background(), "user-1", "2026-07-31")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if stored.QuestionStartedAt[0] == nil || !stored.QuestionStartedAt[0].Equal(first.BroadcastAt) {
		t.Error("expected QuestionStartedAt[0] to be stamped to the first broadcast instant")
	}
}

func TestAdvanceMovesCoordinatorSlotPointer(t *testing.T) {
	srv, _, coord := newTestServer()
	if err := srv.Advance(context.Background(), "2026-07-31", 3, time.Minute); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	slot, ok, err := coord.GetCurrentSlot(context.Background(), "2026-07-31")
	if err != nil {
		t.Fatalf("GetCurrentSlot: %v", err)
	}
	if !ok || slot != 3 {
		t.Errorf("expected current slot 3, got %d (ok=%v)", slot, ok)
	}
}
