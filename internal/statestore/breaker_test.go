package statestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestBreaker_ClosedPassesCallsThrough(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, RecoveryWindow: time.Minute})
	called := false
	err := b.Do(func() error { called = true; return nil })
	if err != nil || !called {
		t.Fatalf("expected call to run and succeed, err=%v called=%v", err, called)
	}
	if b.State() != "CLOSED" {
		t.Fatalf("State() = %s, want CLOSED", b.State())
	}
}

func TestBreaker_TripsOpenAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, RecoveryWindow: time.Minute})
	tripping := errors.New("connection refused")

	b.Do(func() error { return tripping })
	if b.State() != "CLOSED" {
		t.Fatalf("after 1 failure State() = %s, want CLOSED", b.State())
	}
	b.Do(func() error { return tripping })
	if b.State() != "OPEN" {
		t.Fatalf("after threshold failures State() = %s, want OPEN", b.State())
	}
}

func TestBreaker_OpenFailsFastWithoutCallingFn(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryWindow: time.Minute})
	b.Do(func() error { return errors.New("i/o timeout") })
	if b.State() != "OPEN" {
		t.Fatalf("expected OPEN after one failure with threshold 1, got %s", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run while breaker is open")
	}
}

func TestBreaker_DomainMissNeverTripsBreaker(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryWindow: time.Minute})
	for i := 0; i < 5; i++ {
		b.Do(func() error { return redis.Nil })
	}
	if b.State() != "CLOSED" {
		t.Fatalf("redis.Nil misses must never trip the breaker, got %s", b.State())
	}
}

func TestBreaker_HalfOpenTrialRecoversToClosed(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryWindow: time.Millisecond})
	b.Do(func() error { return errors.New("connection refused") })
	if b.State() != "OPEN" {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	time.Sleep(5 * time.Millisecond)

	err := b.Do(func() error { return nil })
	if err != nil {
		t.Fatalf("trial call should have been admitted and succeeded, got %v", err)
	}
	if b.State() != "CLOSED" {
		t.Fatalf("successful trial should close the breaker, got %s", b.State())
	}
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryWindow: time.Millisecond})
	b.Do(func() error { return errors.New("connection refused") })
	time.Sleep(5 * time.Millisecond)

	err := b.Do(func() error { return errors.New("connection refused") })
	if err == nil {
		t.Fatalf("expected the failing trial call's error to propagate")
	}
	if b.State() != "OPEN" {
		t.Fatalf("a failed trial must reopen the breaker, got %s", b.State())
	}
}

func TestBreaker_DeadlineExceededTripsBreaker(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryWindow: time.Minute})
	b.Do(func() error { return context.DeadlineExceeded })
	if b.State() != "OPEN" {
		t.Fatalf("context.DeadlineExceeded should count as a breaker-tripping error, got %s", b.State())
	}
}

func TestBreaker_DefaultConfigAppliedOnZeroValue(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	if b.cfg.FailureThreshold != DefaultBreakerConfig().FailureThreshold {
		t.Fatalf("zero FailureThreshold should fall back to default, got %d", b.cfg.FailureThreshold)
	}
	if b.cfg.RecoveryWindow != DefaultBreakerConfig().RecoveryWindow {
		t.Fatalf("zero RecoveryWindow should fall back to default, got %v", b.cfg.RecoveryWindow)
	}
}
