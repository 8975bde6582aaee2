package alert

import (
	"sync"
	"time"
)

// RateLimiter caps dispatched alerts in a sliding one-minute window. A zero
// or negative limit disables the cap.
type RateLimiter struct {
	limit int
	now   func() time.Time

	mu   sync.Mutex
	sent []time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{limit: perMinute, now: time.Now}
}

// Allow reports whether another alert fits the window and records it when it
// does.
func (r *RateLimiter) Allow() bool {
	if r.limit <= 0 {
		return true
	}
	now := r.now()
	cutoff := now.Add(-time.Minute)

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.sent[:0]
	for _, ts := range r.sent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.sent = kept

	if len(r.sent) >= r.limit {
		return false
	}
	r.sent = append(r.sent, now)
	return true
}
