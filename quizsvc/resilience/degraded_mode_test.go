package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/dailyquiz/quizsvc/enginerr"
)

func TestFailOpenSwallowsErrorAndMarksUnavailable(t *testing.T) {
	d := NewDegradedMode()
	called := false
	d.FailOpen(context.Background(), func(ctx context.Context) error {
		called = true
		return errors.New("redis unreachable")
	})

	if !called {
		t.Fatal("expected op to be invoked")
	}
	if d.IsCoordinatorAvailable() {
		t.Error("expected coordinator to be marked unavailable after a failed op")
	}
}

func TestFailOpenMarksAvailableOnSuccess(t *testing.T) {
	d := NewDegradedMode()
	d.MarkCoordinatorUnavailable()

	d.FailOpen(context.Background(), func(ctx context.Context) error { return nil })

	if !d.IsCoordinatorAvailable() {
		t.Error("expected a successful op to restore availability")
	}
}

func TestFailClosedRejectsWhenAlreadyUnavailable(t *testing.T) {
	d := NewDegradedMode()
	d.MarkCoordinatorUnavailable()

	called := false
	err := d.FailClosed(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	if called {
		t.Error("expected FailClosed to short-circuit without calling op")
	}
	if err != enginerr.ErrFencingLost {
		t.Errorf("expected ErrFencingLost, got %v", err)
	}
}

func TestFailClosedPropagatesOpErrorAndMarksUnavailable(t *testing.T) {
	d := NewDegradedMode()
	opErr := errors.New("lease already held")

	err := d.FailClosed(context.Background(), func(ctx context.Context) error { return opErr })

	if err != opErr {
		t.Errorf("expected the original op error to surface, got %v", err)
	}
	if d.IsCoordinatorAvailable() {
		t.Error("expected coordinator to be marked unavailable after a failed fenced op")
	}
}

func TestFailClosedSucceedsAndMarksAvailable(t *testing.T) {
	d := NewDegradedMode()
	err := d.FailClosed(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("FailClosed: %v", err)
	}
	if !d.IsCoordinatorAvailable() {
		t.Error("expected a successful fenced op to mark the coordinator available")
	}
}

func TestHealthCheckReflectsBothDependencies(t *testing.T) {
	d := NewDegradedMode()
	d.MarkStoreUnavailable()

	health := d.HealthCheck()
	if health["coordinator"] != true {
		t.Error("expected coordinator to still be reported available")
	}
	if health["store"] != false {
		t.Error("expected store to be reported unavailable")
	}
}
