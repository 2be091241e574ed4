package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// cbState is the operational state of one connection's circuit breaker.
//
//	cbClosed   — normal operation; the connection is eligible for picking.
//	cbOpen     — the connection is failing; skipped until HalfOpenTimeout passes.
//	cbHalfOpen — recovery probe; exactly one attempt is allowed through.
type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

const (
	defaultCBErrorThreshold  = 5
	defaultCBTimeWindow      = 60 * time.Second
	defaultCBHalfOpenTimeout = 30 * time.Second
)

// CBConfig holds circuit breaker tuning parameters. Zero values fall back to
// the package defaults.
type CBConfig struct {
	ErrorThreshold  int
	TimeWindow      time.Duration
	HalfOpenTimeout time.Duration
}

func (c CBConfig) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return defaultCBErrorThreshold
}

func (c CBConfig) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return defaultCBTimeWindow
}

func (c CBConfig) halfOpenTimeout() time.Duration {
	if c.HalfOpenTimeout > 0 {
		return c.HalfOpenTimeout
	}
	return defaultCBHalfOpenTimeout
}

type connectionCB struct {
	mu            sync.Mutex
	state         cbState
	errorCount    int
	windowStart   time.Time
	openedAt      time.Time
	probeInflight bool
}

// CircuitBreaker tracks independent breaker state per upstream Connection.
// Grounded on the teacher's per-provider breaker (proxy/circuitbreaker.go);
// the key is now a Connection's uuid.UUID instead of a static provider name,
// since failover here walks connections within one Deployment rather than a
// fixed provider fallback order, and breakers are created lazily per ID
// instead of pre-populated from a known provider list.
type CircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[uuid.UUID]*connectionCB
	cfg      CBConfig
}

// NewCircuitBreaker creates a CircuitBreaker from cfg; zero-valued fields
// fall back to the default thresholds.
func NewCircuitBreaker(cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{breakers: make(map[uuid.UUID]*connectionCB), cfg: cfg}
}

func (cb *CircuitBreaker) getOrCreate(id uuid.UUID) *connectionCB {
	cb.mu.RLock()
	c, ok := cb.breakers[id]
	cb.mu.RUnlock()
	if ok {
		return c
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok = cb.breakers[id]; ok {
		return c
	}
	c = &connectionCB{state: cbClosed, windowStart: time.Now()}
	cb.breakers[id] = c
	return c
}

// Allow reports whether connection id should receive the next request.
func (cb *CircuitBreaker) Allow(id uuid.UUID) bool {
	c := cb.getOrCreate(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case cbClosed:
		return true
	case cbOpen:
		if time.Since(c.openedAt) >= cb.cfg.halfOpenTimeout() {
			c.state = cbHalfOpen
			c.probeInflight = true
			return true
		}
		return false
	case cbHalfOpen:
		if c.probeInflight {
			return false
		}
		c.probeInflight = true
		return true
	}
	return true
}

// RecordSuccess resets id's breaker to Closed.
func (cb *CircuitBreaker) RecordSuccess(id uuid.UUID) {
	c := cb.getOrCreate(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cbClosed
	c.errorCount = 0
	c.probeInflight = false
	c.windowStart = time.Now()
}

// RecordFailure increments id's error counter, tripping the breaker open once
// the counter reaches ErrorThreshold within TimeWindow.
func (cb *CircuitBreaker) RecordFailure(id uuid.UUID) {
	c := cb.getOrCreate(id)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.windowStart) > cb.cfg.timeWindow() {
		c.errorCount = 0
		c.windowStart = now
	}
	c.errorCount++
	c.probeInflight = false

	if c.errorCount >= cb.cfg.errorThreshold() {
		c.state = cbOpen
		c.openedAt = now
	}
}

// StateLabel returns "closed", "open", or "half_open" for metrics export.
func (cb *CircuitBreaker) StateLabel(id uuid.UUID) string {
	c := cb.getOrCreate(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
