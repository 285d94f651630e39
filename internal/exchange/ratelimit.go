// ratelimit.go implements token-bucket rate limiting for the exchange REST API.
//
// The exchange enforces two separate limits on spot accounts: an order rate
// (100 new orders per 10 seconds) and a request-weight budget (1200 weight
// per minute) shared by every other endpoint. The buckets below refill
// continuously rather than in window-sized bursts so a busy loop never slams
// into a hard limit.
//
// Weight is approximated as one token per call. The few heavyweight endpoints
// (account snapshot, open orders across all symbols) run on multi-second
// periods, so the approximation stays far inside the budget.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by API limit category. Each REST call
// waits on the matching bucket before going out.
type RateLimiter struct {
	Order *TokenBucket // POST /api/v3/order — the per-account order rate
	Query *TokenBucket // everything else — the shared request-weight budget
}

// NewRateLimiter creates buckets tuned to the exchange's published limits,
// with the refill rates held slightly under the ceilings for headroom.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order: NewTokenBucket(100, 9),   // 100 orders per 10s window
		Query: NewTokenBucket(1100, 18), // 1200 request weight per minute
	}
}
