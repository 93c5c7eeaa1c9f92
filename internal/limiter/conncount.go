package limiter

import "sync"

// TotalConnectionLimiter caps the total number of simultaneously open
// connections at M (spec §4.6). It tolerates being installed mid-flight:
// the counter never decrements below zero.
type TotalConnectionLimiter struct {
	mu      sync.Mutex
	limit   int
	counter int
}

func NewTotalConnectionLimiter(limit int) *TotalConnectionLimiter {
	return &TotalConnectionLimiter{limit: limit}
}

// AllowNewConnection reports whether a new connection may be accepted,
// incrementing the counter if so.
func (l *TotalConnectionLimiter) AllowNewConnection() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counter < l.limit {
		l.counter++
		return true
	}
	return false
}

// ConnectionClosed decrements the counter, floored at zero.
func (l *TotalConnectionLimiter) ConnectionClosed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counter > 0 {
		l.counter--
	}
}

func (l *TotalConnectionLimiter) SetLimit(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = n
}

func (l *TotalConnectionLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}
