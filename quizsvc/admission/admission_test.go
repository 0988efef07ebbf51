package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dailyquiz/quizsvc/enginerr"
	"github.com/dailyquiz/quizsvc/observability"
	"github.com/dailyquiz/quizsvc/store"
)

// fakeCoordinator is a minimal in-memory coordination.Coordinator for these
// tests — only the join-counter method is exercised meaningfully here.
type fakeCoordinator struct {
	mu      sync.Mutex
	joinCnt map[string]int64
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{joinCnt: make(map[string]int64)}
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
	return nil
}
func (f *fakeCoordinator) GetCurrentSlot(ctx context.Context, date string) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeCoordinator) StampSlotBroadcastAtIfUnset(ctx context.Context, date string, slot int, at time.Time, ttl time.Duration) (time.Time, error) {
	return at, nil
}
func (f *fakeCoordinator) IncrJoinCounter(ctx context.Context, date string, windowStart time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := date + "|" + windowStart.String()
	f.joinCnt[key]++
	return f.joinCnt[key], nil
}
func (f *fakeCoordinator) Close() error { return nil }

func liveQuizForAdmission(date string) *store.Quiz {
	return &store.Quiz{Date: date, State: store.StateLive}
}

func newTestService() (*Service, store.Store) {
	s := store.NewMemoryStore()
	coord := newFakeCoordinator()
	hooks := observability.New(s, nil)
	return New(s, coord, hooks), s
}

func TestJoinCreatesAttemptOnce(t *testing.T) {
	svc, s := newTestService()
	ctx := context.Background()
	date := "2026-07-31"
	if err := s.UpsertQuiz(ctx, liveQuizForAdmission(date)); err != nil {
		t.Fatalf("UpsertQuiz: %v", err)
	}

	elig := EligibilityInput{ProfileComplete: true}
	now := time.Now()

	a1, err := svc.Join(ctx, date, "user-1", "device-abc", "fp-1", "1.2.3.4", elig, now)
	if err != nil {
		t.Fatalf("first Join: %v", err)
	}
	if a1.UserID != "user-1" {
		t.Errorf("unexpected attempt: %+v", a1)
	}

	a2, err := svc.Join(ctx, date, "user-1", "device-abc", "fp-1", "1.2.3.4", elig, now)
	if err != nil {
		t.Fatalf("second Join (idempotent re-join): %v", err)
	}
	if a2.ID != a1.ID {
		t.Error("expected re-join to return the same attempt, got a different one")
	}
}

func TestJoinRejectsMismatchedDevice(t *testing.T) {
	svc, s := newTestService()
	ctx := context.Background()
	date := "2026-07-31"
	if err := s.UpsertQuiz(ctx, liveQuizForAdmission(date)); err != nil {
		t.Fatalf("UpsertQuiz: %v", err)
	}

	elig := EligibilityInput{ProfileComplete: true}
	now := time.Now()

	if _, err := svc.Join(ctx, date, "user-1", "device-abc", "fp-1", "1.2.3.4", elig, now); err != nil {
		t.Fatalf("first Join: %v", err)
	}

	_, err := svc.Join(ctx, date, "user-1", "device-xyz", "fp-1", "1.2.3.4", elig, now)
	if err == nil {
		t.Fatal("expected Join with a different device to be rejected")
	}
	if err != enginerr.ErrDeviceMismatch {
		t.Errorf("expected ErrDeviceMismatch, got %v", err)
	}
}

func TestJoinRejectsUnknownQuiz(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Join(context.Background(), "2026-07-31", "user-1", "device-abc", "fp-1", "1.2.3.4", EligibilityInput{}, time.Now())
	if err != enginerr.ErrQuizNotFound {
		t.Errorf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestJoinStillCreatesAttemptWhenIneligible(t *testing.T) {
	// Admission always creates a durable attempt row so an ineligible
	// join still has a recorded eligibility reason, rather than silently
	// refusing to track the user at all.
	svc, s := newTestService()
	ctx := context.Background()
	date := "2026-07-31"
	if err := s.UpsertQuiz(ctx, liveQuizForAdmission(date)); err != nil {
		t.Fatalf("UpsertQuiz: %v", err)
	}

	elig := EligibilityInput{ProfileComplete: false}
	a, err := svc.Join(ctx, date, "user-1", "device-abc", "fp-1", "1.2.3.4", elig, time.Now())
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if a.Eligibility.Eligible {
		t.Error("expected the attempt to be marked ineligible")
	}
	if a.Eligibility.Reason != store.ReasonPaymentMissing {
		t.Errorf("expected ReasonPaymentMissing (no payment record at all), got %s", a.Eligibility.Reason)
	}
}

func TestDeviceHashIsStableAndNonReversible(t *testing.T) {
	h1 := DeviceHash("device-123", "fp-1", "1.2.3.4")
	h2 := DeviceHash("device-123", "fp-1", "1.2.3.4")
	if h1 != h2 {
		t.Error("DeviceHash should be deterministic for the same input")
	}
	if h1 == "device-123" {
		t.Error("DeviceHash must not return the raw input")
	}
}

func TestDeviceHashDependsOnIP(t *testing.T) {
	h1 := DeviceHash("device-123", "fp-1", "1.2.3.4")
	h2 := DeviceHash("device-123", "fp-1", "5.6.7.8")
	if h1 == h2 {
		t.Error("expected DeviceHash to vary with the IP component")
	}
}

func TestJoinConsumesFreeCreditWhenNoPaymentExists(t *testing.T) {
	svc, s := newTestService()
	ctx := context.Background()
	date := "2026-07-31"
	if err := s.UpsertQuiz(ctx, liveQuizForAdmission(date)); err != nil {
		t.Fatalf("UpsertQuiz: %v", err)
	}
	mem := s.(*store.MemoryStore)
	mem.SeedFreeCredits("user-1", 1)

	elig := EligibilityInput{ProfileComplete: true}
	a, err := svc.Join(ctx, date, "user-1", "device-abc", "fp-1", "1.2.3.4", elig, time.Now())
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !a.Eligibility.Eligible {
		t.Errorf("expected the free credit to grant eligibility, got %+v", a.Eligibility)
	}

	payment, err := s.GetPayment(ctx, "user-1", date)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if payment == nil || payment.Type != store.PaymentTypeFreeCredit || payment.Status != store.PaymentSuccess || payment.AmountPaise != 0 {
		t.Errorf("expected a synthetic zero-amount FREE_CREDIT SUCCESS payment, got %+v", payment)
	}

	consumed, err := mem.ConsumeFreeCredit(ctx, "user-1")
	if err != nil {
		t.Fatalf("ConsumeFreeCredit: %v", err)
	}
	if consumed {
		t.Error("expected the single free credit to already be spent")
	}
}

func TestJoinLeavesPaymentMissingWithoutCreditOrPayment(t *testing.T) {
	svc, s := newTestService()
	ctx := context.Background()
	date := "2026-07-31"
	if err := s.UpsertQuiz(ctx, liveQuizForAdmission(date)); err != nil {
		t.Fatalf("UpsertQuiz: %v", err)
	}

	elig := EligibilityInput{ProfileComplete: true}
	a, err := svc.Join(ctx, date, "user-1", "device-abc", "fp-1", "1.2.3.4", elig, time.Now())
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if a.Eligibility.Eligible || a.Eligibility.Reason != store.ReasonPaymentMissing {
		t.Errorf("expected PAYMENT_MISSING with no credit and no payment, got %+v", a.Eligibility)
	}
}

func TestJoinConcurrentRequestsCollapseToOneAttempt(t *testing.T) {
	svc, s := newTestService()
	ctx := context.Background()
	date := "2026-07-31"
	if err := s.UpsertQuiz(ctx, liveQuizForAdmission(date)); err != nil {
		t.Fatalf("UpsertQuiz: %v", err)
	}

	elig := EligibilityInput{ProfileComplete: true}
	now := time.Now()

	const n = 10
	results := make([]*store.Attempt, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Join(ctx, date, "user-1", "device-abc", "fp-1", "1.2.3.4", elig, now)
		}()
	}
	wg.Wait()

	var firstID string
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Join[%d]: %v", i, errs[i])
		}
		if firstID == "" {
			firstID = results[i].ID
		} else if results[i].ID != firstID {
			t.Errorf("Join[%d] returned a different attempt id than the rest", i)
		}
	}
}
