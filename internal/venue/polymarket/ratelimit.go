package polymarket

import (
	"context"
	"sync"
	"time"
)

// tokenBucket rate-limits one endpoint category. The venue publishes limits
// per 10-second window; refilling continuously instead of in 10s bursts
// keeps requests clear of the hard limit.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func newTokenBucket(capacity, ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *tokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// rateLimiter groups buckets by endpoint category. Every request waits on
// its category's bucket before touching the wire.
type rateLimiter struct {
	order  *tokenBucket // POST /orders
	cancel *tokenBucket // DELETE /orders, /cancel-all, /cancel-market-orders
	book   *tokenBucket // GET /book, GET /data/order
}

// newRateLimiter sets capacities to the venue's 10-second burst allowance
// and rates to a tenth of it for smooth refill.
func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		order:  newTokenBucket(350, 50), // 3500 per 10s window
		cancel: newTokenBucket(300, 30), // 3000 per 10s window
		book:   newTokenBucket(150, 15), // 1500 per 10s window
	}
}
