package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"storefront/pkg/domain/model"
)

const (
	DefaultRateLimit  = 10
	DefaultRateWindow = 10 * time.Second
)

// SlidingWindowLimiter keeps one sorted set per key holding the timestamps
// of the requests admitted in the last window.
type SlidingWindowLimiter struct {
	client  redis.Cmdable
	limit   int
	window  time.Duration
	now     func() time.Time
	counter uint64
}

func NewSlidingWindowLimiter(client redis.Cmdable, limit int, window time.Duration) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &SlidingWindowLimiter{client: client, limit: limit, window: window, now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *SlidingWindowLimiter) WithClock(now func() time.Time) *SlidingWindowLimiter {
	l.now = now
	return l
}

// Allow records the request and admits it if the window still has room.
// A rejected request is removed again so it does not hold a slot.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (model.RateDecision, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - l.window.Milliseconds()
	setKey := Namespace + ":ratelimit:" + key
	member := fmt.Sprintf("%d-%d", now.UnixNano(), atomic.AddUint64(&l.counter, 1))

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, setKey, "-inf", strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, setKey, &redis.Z{Score: float64(nowMs), Member: member})
		count = pipe.ZCard(ctx, setKey)
		oldest = pipe.ZRangeWithScores(ctx, setKey, 0, 0)
		pipe.PExpire(ctx, setKey, l.window)
		return nil
	})
	if err != nil {
		return model.RateDecision{}, storageError(err, "rate limit")
	}

	reset := now.Add(l.window)
	if entries := oldest.Val(); len(entries) > 0 {
		reset = time.UnixMilli(int64(entries[0].Score)).Add(l.window)
	}

	admitted := int(count.Val())
	if admitted > l.limit {
		if err := l.client.ZRem(ctx, setKey, member).Err(); err != nil {
			return model.RateDecision{}, storageError(err, "rate limit")
		}
		return model.RateDecision{Allowed: false, Limit: l.limit, Remaining: 0, Reset: reset}, nil
	}
	return model.RateDecision{Allowed: true, Limit: l.limit, Remaining: l.limit - admitted, Reset: reset}, nil
}
