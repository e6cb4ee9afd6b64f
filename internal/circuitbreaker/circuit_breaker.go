// Package circuitbreaker implements the circuit-breaker pattern for
// downstream tools. Each tool gets its own Breaker, managed by a keyed
// Store shared across operations.
//
// State transitions:
//
//	Closed → Open        when consecutive failures ≥ failure threshold
//	Open   → HalfOpen    after the cooldown elapses
//	HalfOpen → Closed    when consecutive successes ≥ success threshold
//	HalfOpen → Open      on any failure
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the breaker's current state.
type State int

const (
	// StateClosed — normal operation; calls pass through.
	StateClosed State = iota
	// StateOpen — the tool is considered failing; calls are rejected immediately.
	StateOpen
	// StateHalfOpen — the breaker is testing recovery.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards a single downstream tool.
type Breaker struct {
	mu               sync.Mutex
	now              func() time.Time
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openUntil        time.Time
}

// New creates a Breaker. Defaults are applied for zero/negative values:
// failureThreshold=5, successThreshold=2, cooldown=30s.
func New(failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	return NewWithClock(failureThreshold, successThreshold, cooldown, time.Now)
}

// NewWithClock creates a Breaker with an injectable clock for tests.
func NewWithClock(failureThreshold, successThreshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		now:              now,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// Allow reports whether a call may proceed, moving Open → HalfOpen once the
// cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Before(b.openUntil) {
			return false
		}
		b.state = StateHalfOpen
		b.successCount = 0
	}
	return true
}

// RecordSuccess notes a successful downstream call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure notes a failed downstream call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.trip()
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.failureCount = 0
	b.successCount = 0
	b.openUntil = b.now().Add(b.cooldown)
}

// Store maintains per-key Breaker instances sharing the same thresholds.
type Store struct {
	mu               sync.RWMutex
	breakers         map[string]*Breaker
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

// NewStore creates a Store whose per-key breakers share the same settings.
func NewStore(failureThreshold, successThreshold int, cooldown time.Duration) *Store {
	return NewStoreWithClock(failureThreshold, successThreshold, cooldown, time.Now)
}

// NewStoreWithClock creates a Store with an injectable clock for tests.
func NewStoreWithClock(failureThreshold, successThreshold int, cooldown time.Duration, now func() time.Time) *Store {
	return &Store{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              now,
	}
}

// Get returns (and creates if needed) the breaker for key.
func (s *Store) Get(key string) *Breaker {
	// Fast path — breaker already exists.
	s.mu.RLock()
	b, ok := s.breakers[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	// Slow path — create new breaker.
	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock.
	if b, ok = s.breakers[key]; ok {
		return b
	}
	b = NewWithClock(s.failureThreshold, s.successThreshold, s.cooldown, s.now)
	s.breakers[key] = b
	return b
}
