package dispatch

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCircuitBreaker_AllowsUnknownConnection(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{})
	id := uuid.New()
	if !cb.Allow(id) {
		t.Error("an untracked connection should be allowed by default")
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 3, TimeWindow: time.Minute, HalfOpenTimeout: time.Hour})
	id := uuid.New()

	for i := 0; i < 2; i++ {
		cb.RecordFailure(id)
		if !cb.Allow(id) {
			t.Fatalf("breaker should still be closed after %d failures", i+1)
		}
	}

	cb.RecordFailure(id)
	if cb.Allow(id) {
		t.Error("breaker should be open after reaching the error threshold")
	}
	if cb.StateLabel(id) != "open" {
		t.Errorf("expected state label 'open', got %q", cb.StateLabel(id))
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 1, TimeWindow: time.Minute, HalfOpenTimeout: time.Millisecond})
	id := uuid.New()

	cb.RecordFailure(id)
	if cb.Allow(id) {
		t.Fatal("breaker should be open immediately after tripping")
	}

	time.Sleep(5 * time.Millisecond)

	if !cb.Allow(id) {
		t.Fatal("breaker should allow exactly one half-open probe after the timeout")
	}
	if cb.Allow(id) {
		t.Error("a second concurrent probe should be rejected while one is in flight")
	}
}

func TestCircuitBreaker_SuccessResetsState(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 1, TimeWindow: time.Minute, HalfOpenTimeout: time.Millisecond})
	id := uuid.New()

	cb.RecordFailure(id)
	time.Sleep(5 * time.Millisecond)
	if !cb.Allow(id) {
		t.Fatal("expected half-open probe to be allowed")
	}

	cb.RecordSuccess(id)
	if cb.StateLabel(id) != "closed" {
		t.Errorf("expected 'closed' after a recorded success, got %q", cb.StateLabel(id))
	}
	if !cb.Allow(id) {
		t.Error("connection should be fully open for traffic again after success")
	}
}

func TestCircuitBreaker_WindowResetsErrorCount(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 2, TimeWindow: time.Millisecond, HalfOpenTimeout: time.Hour})
	id := uuid.New()

	cb.RecordFailure(id)
	time.Sleep(5 * time.Millisecond)
	// Window has elapsed; this failure should start a fresh window rather
	// than trip the breaker on the second cumulative failure.
	cb.RecordFailure(id)

	if !cb.Allow(id) {
		t.Error("error count should have reset once the rolling window elapsed")
	}
}

func TestCircuitBreaker_IndependentPerConnection(t *testing.T) {
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 1, TimeWindow: time.Minute, HalfOpenTimeout: time.Hour})
	a, b := uuid.New(), uuid.New()

	cb.RecordFailure(a)
	if cb.Allow(a) {
		t.Error("connection a should be tripped")
	}
	if !cb.Allow(b) {
		t.Error("connection b should be unaffected by connection a's failures")
	}
}
