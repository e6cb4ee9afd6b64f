// Package ratewindow implements the shared fixed-window counters behind the
// rate-limit plugin. Windows are process-wide, keyed by scope and window
// length, and expire lazily: an elapsed window is replaced the next time its
// scope is checked, never by a background sweep.
package ratewindow

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rate is a parsed "<count>/<unit>" spec.
type Rate struct {
	Limit  int
	Window time.Duration
}

// Parse parses a rate spec like "10/s", "60/m", or "100/h". The longer unit
// spellings sec/second, min/minute, and hr/hour are accepted too.
func Parse(spec string) (Rate, error) {
	count, unit, ok := strings.Cut(spec, "/")
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: want \"<count>/<unit>\"", spec)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || limit <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q: count must be a positive integer", spec)
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "second":
		return Rate{Limit: limit, Window: time.Second}, nil
	case "m", "min", "minute":
		return Rate{Limit: limit, Window: time.Minute}, nil
	case "h", "hr", "hour":
		return Rate{Limit: limit, Window: time.Hour}, nil
	}
	return Rate{}, fmt.Errorf("unsupported rate unit: %q", unit)
}

// Decision reports the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetIn is the number of seconds until the current window elapses.
	ResetIn int
}

type window struct {
	start int64 // unix seconds
	count int
}

// Store holds fixed-window counters shared by all concurrent operations.
// Allow performs the read-compute-write of a window atomically under one
// mutex; the critical section is a map lookup and two integer updates, so a
// single lock is cheaper here than striping.
type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	windows    map[string]window
	maxEntries int
}

// DefaultMaxEntries caps the number of live windows so scope churn cannot
// grow the store without bound.
const DefaultMaxEntries = 100_000

// NewStore creates a Store using the wall clock.
func NewStore() *Store { return NewStoreWithClock(time.Now) }

// NewStoreWithClock creates a Store with an injectable clock for tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		now:        now,
		windows:    make(map[string]window),
		maxEntries: DefaultMaxEntries,
	}
}

// Allow records one request against scope under rate r and reports whether
// it is admitted. A fresh or elapsed window starts at count 1; otherwise the
// counter increments while below the limit. Under N concurrent callers the
// admitted count never exceeds r.Limit per window.
func (s *Store) Allow(scope string, r Rate) Decision {
	windowSeconds := int64(r.Window / time.Second)
	key := scope + ":" + strconv.FormatInt(windowSeconds, 10)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	wnd, ok := s.windows[key]
	if !ok || now-wnd.start >= windowSeconds {
		if !ok && len(s.windows) >= s.maxEntries {
			s.sweepExpiredLocked(now)
		}
		s.windows[key] = window{start: now, count: 1}
		return Decision{Allowed: true, Remaining: r.Limit - 1, ResetIn: int(windowSeconds)}
	}
	resetIn := int(windowSeconds - (now - wnd.start))
	if wnd.count < r.Limit {
		wnd.count++
		s.windows[key] = wnd
		return Decision{Allowed: true, Remaining: r.Limit - wnd.count, ResetIn: resetIn}
	}
	return Decision{Allowed: false, Remaining: 0, ResetIn: resetIn}
}

// Len returns the number of live windows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// sweepExpiredLocked drops windows whose period has elapsed. Called only
// when the store is at capacity, so the usual lazy-expiry behavior is kept.
func (s *Store) sweepExpiredLocked(now int64) {
	for key, wnd := range s.windows {
		sep := strings.LastIndexByte(key, ':')
		if sep < 0 {
			continue
		}
		windowSeconds, err := strconv.ParseInt(key[sep+1:], 10, 64)
		if err != nil {
			continue
		}
		if now-wnd.start >= windowSeconds {
			delete(s.windows, key)
		}
	}
}
