package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Guardrails decides whether a user's message may enter the pipeline.
type Guardrails interface {
	Check(ctx context.Context, userID string) (*GuardrailResult, error)
}

// GuardrailResult is the outcome of a guardrails check.
type GuardrailResult struct {
	Allowed bool
	Warning string
}

// RateLimiter is a per-user token bucket Guardrails.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Guardrails = (*RateLimiter)(nil)

// NewRateLimiter allows perMinute messages per user with the given burst.
func NewRateLimiter(perMinute int, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(max(perMinute, 1))),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) limiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	return lim
}

// Check consumes one token from the user's bucket.
func (l *RateLimiter) Check(ctx context.Context, userID string) (*GuardrailResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.limiter(userID).Allow() {
		return &GuardrailResult{Allowed: true}, nil
	}
	return &GuardrailResult{
		Allowed: false,
		Warning: fmt.Sprintf("user %s exceeded %d messages per burst", userID, l.burst),
	}, nil
}
