package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is what the transport needs from an outbound throttle.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket throttles outbound frames. A nil *TokenBucket never blocks.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket allows perSecond events on average with bursts up to burst.
// perSecond <= 0 disables limiting.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	if tb == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return tb.limiter.Wait(ctx)
}
