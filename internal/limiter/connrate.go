// Package limiter implements the per-vhost connection-rate, connection-
// count, and data-rate limiters (spec §4.6).
package limiter

import "sync"

// Clock abstracts the time source so rate limiters are deterministically
// testable (spec §4.6: "Time source is injectable for testability").
type Clock func() int64 // milliseconds

// FixedWindowConnectionRate implements "at most N accepted new connections
// per W-millisecond window". Each call compares now against the window
// start: if >= W ms elapsed, the window resets; then, if counter < N, the
// call is allowed and counter increments.
type FixedWindowConnectionRate struct {
	mu          sync.Mutex
	limit       int
	windowMS    int64
	now         Clock
	windowStart int64
	counter     int
}

func NewFixedWindowConnectionRate(limit int, window int64, now Clock) *FixedWindowConnectionRate {
	if now == nil {
		now = defaultClockMS
	}
	return &FixedWindowConnectionRate{limit: limit, windowMS: window, now: now, windowStart: now()}
}

// AllowNewConnection reports whether a new connection may be accepted right
// now, advancing the window and counter as a side effect.
func (l *FixedWindowConnectionRate) AllowNewConnection() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.now()
	if n-l.windowStart >= l.windowMS {
		l.windowStart = n
		l.counter = 0
	}
	if l.counter < l.limit {
		l.counter++
		return true
	}
	return false
}

// SetLimit mutates N; the next AllowNewConnection call already compares
// against it, within the current window.
func (l *FixedWindowConnectionRate) SetLimit(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = n
}

func defaultClockMS() int64 {
	return nowMillis()
}
