package memory

import (
	"context"
	"sync"
	"time"

	"storefront/pkg/domain/model"
)

// RateLimiter is a single-process sliding window log.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	log    map[string][]time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, now: time.Now, log: make(map[string][]time.Time)}
}

func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

func (l *RateLimiter) Allow(_ context.Context, key string) (model.RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)
	kept := l.log[key][:0]
	for _, at := range l.log[key] {
		if at.After(windowStart) {
			kept = append(kept, at)
		}
	}

	decision := model.RateDecision{Limit: l.limit}
	if len(kept) < l.limit {
		kept = append(kept, now)
		decision.Allowed = true
		decision.Remaining = l.limit - len(kept)
	}
	if len(kept) == 0 {
		delete(l.log, key)
		decision.Reset = now.Add(l.window)
		return decision, nil
	}
	l.log[key] = kept
	decision.Reset = kept[0].Add(l.window)
	return decision, nil
}
