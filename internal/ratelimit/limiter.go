package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of an admission check. A deferred decision is not
// an error: the attempt must be rescheduled to RetryAt, not failed.
type Decision struct {
	Admitted bool
	// RetryAt is the start of the next hour window. Only set when not admitted.
	RetryAt time.Time
}

// Limiter caps delivery attempts per sender per calendar hour. The counter
// backend provides the atomicity; the limiter only does bucket arithmetic.
type Limiter struct {
	counter      Counter
	defaultLimit int
	windowMargin time.Duration
	now          func() time.Time
}

func NewLimiter(counter Counter, defaultLimit int, windowMargin time.Duration) *Limiter {
	return &Limiter{
		counter:      counter,
		defaultLimit: defaultLimit,
		windowMargin: windowMargin,
		now:          time.Now,
	}
}

// Admit records one delivery attempt for the sender in the current hour
// window and reports whether it fits under hourlyLimit. A non-positive
// hourlyLimit falls back to the process-wide default; it is not an
// unlimited sentinel. If the counter store is unreachable the error is
// returned and the caller must treat the attempt as failed, never admit.
func (l *Limiter) Admit(ctx context.Context, senderID string, hourlyLimit int) (Decision, error) {
	limit := hourlyLimit
	if limit <= 0 {
		limit = l.defaultLimit
	}

	window := l.now().Truncate(time.Hour)
	key := fmt.Sprintf("ratelimit:%s:%d", senderID, window.Unix())

	// TTL only takes effect on the first increment of the bucket, so
	// abandoned buckets expire on their own shortly after the hour ends.
	count, _, err := l.counter.IncrementAndGet(ctx, key, time.Hour+l.windowMargin)
	if err != nil {
		return Decision{}, err
	}

	if count > int64(limit) {
		return Decision{Admitted: false, RetryAt: window.Add(time.Hour)}, nil
	}
	return Decision{Admitted: true}, nil
}
