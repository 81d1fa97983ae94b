package pledge

import (
	"sync"
	"time"
)

// attemptThrottle bounds failed verification attempts per request within a
// sliding window. The arrival code space is only 10^6; without a throttle a
// client could brute-force it.
type attemptThrottle struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	failures map[string][]time.Time
}

func newAttemptThrottle(limit int, window time.Duration, now func() time.Time) *attemptThrottle {
	return &attemptThrottle{
		limit:    limit,
		window:   window,
		now:      now,
		failures: make(map[string][]time.Time),
	}
}

// allow reports whether another verification attempt may proceed for the key.
func (t *attemptThrottle) allow(key string) bool {
	if t.limit <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prune(key)) < t.limit
}

// fail records a failed attempt for the key.
func (t *attemptThrottle) fail(key string) {
	if t.limit <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[key] = append(t.prune(key), t.now())
}

// prune drops entries outside the window. Caller holds the lock.
func (t *attemptThrottle) prune(key string) []time.Time {
	cutoff := t.now().Add(-t.window)
	kept := t.failures[key][:0]
	for _, ts := range t.failures[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(t.failures, key)
		return nil
	}
	t.failures[key] = kept
	return kept
}
