package statestore

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// breakerState enumerates the three states of the circuit breaker described
// in original_source/services/python-service/app/services/redis_circuit_breaker.py.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// ErrCircuitOpen is returned (wrapped as state_store_unavailable by callers)
// when the breaker is open and fails fast without touching the transport.
var ErrCircuitOpen = errors.New("statestore: circuit open")

// BreakerConfig tunes trip/recovery behavior. NewBreaker replaces a zero
// field with its DefaultBreakerConfig value.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before tripping open
	RecoveryWindow   time.Duration // how long to stay open before a trial call
}

// DefaultBreakerConfig matches the teacher's conservative defaults for
// external dependency protection.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, RecoveryWindow: 10 * time.Second}
}

// Breaker is the only component allowed to turn a transport exception into
// a domain error (spec.md §9 "Patterns from the source that must be
// re-architected").
type Breaker struct {
	mu               sync.Mutex
	cfg              BreakerConfig
	state            breakerState
	consecutiveFails int
	openedAt         time.Time
	trialInFlight    bool
}

// NewBreaker constructs a breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = DefaultBreakerConfig().RecoveryWindow
	}
	return &Breaker{cfg: cfg, state: stateClosed}
}

// allow reports whether a call may proceed, and if this call is the single
// half-open trial, marks it in-flight so concurrent callers don't all try
// at once.
func (b *Breaker) allow() (ok bool, isTrial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true, false
	case stateOpen:
		if time.Since(b.openedAt) < b.cfg.RecoveryWindow {
			return false, false
		}
		if b.trialInFlight {
			return false, false
		}
		b.state = stateHalfOpen
		b.trialInFlight = true
		return true, true
	case stateHalfOpen:
		if b.trialInFlight {
			return false, false
		}
		b.trialInFlight = true
		return true, true
	default:
		return true, false
	}
}

func (b *Breaker) recordSuccess(isTrial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	if isTrial {
		b.trialInFlight = false
	}
	b.state = stateClosed
}

func (b *Breaker) recordFailure(isTrial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if isTrial {
		b.trialInFlight = false
		b.state = stateOpen
		b.openedAt = time.Now()
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.cfg.FailureThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// Do runs fn if the breaker admits the call, classifying the resulting
// error and updating breaker state. Returns ErrCircuitOpen without calling
// fn when the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	ok, isTrial := b.allow()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	if err == nil || !isBreakerTrippingError(err) {
		b.recordSuccess(isTrial)
		return err
	}
	b.recordFailure(isTrial)
	return err
}

// isBreakerTrippingError classifies transport-kind failures (connection
// refused, pool exhausted, timeout) as breaker-worthy. A domain miss such
// as redis.Nil (key not found) must never trip the breaker.
func isBreakerTrippingError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return true
	case strings.Contains(msg, "pool exhausted") || strings.Contains(msg, "pool timeout"):
		return true
	case strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "timeout"):
		return true
	}
	return false
}

// State exposes the current breaker state label for monitoring (C1 §8
// testable property 6 and internal/monitor).
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "OPEN"
	case stateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}
