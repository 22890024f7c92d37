package model

import (
	"context"
	"time"
)

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RateLimiter admits at most Limit requests per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
}
