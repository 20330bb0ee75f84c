// Package ratelimit implements the weighted, time-refilled token bucket the
// HTTP pipeline admits every request through. Refill is driven by
// golang.org/x/time/rate's monotonic clock (the same library
// sawpanic-cryptorun's middleware uses for venue throttling); weighted debit,
// non-blocking try-consume, and the header-driven authoritative override are
// layered on top, since rate.Limiter alone only exposes Allow/Wait.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Status is a point-in-time snapshot of bucket state.
type Status struct {
	Capacity  int
	Tokens    float64
	RefillPer time.Duration
}

// Bucket is a weighted token bucket: capacity C, refilling at rate R tokens
// every interval I (linear interpolation between calls). Safe for concurrent
// use; concurrent Consume callers are served in arrival order because each
// blocks on the shared limiter's own mutex-protected reservation clock,
// which hands out the earliest-available slot to whichever caller reserves
// first.
type Bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	capacity int
	interval time.Duration
}

// NewBucket builds a bucket with the given capacity that refills at
// refillRate tokens per interval.
func NewBucket(capacity int, refillRate int, interval time.Duration) *Bucket {
	perSecond := float64(refillRate) / interval.Seconds()
	return &Bucket{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), capacity),
		capacity: capacity,
		interval: interval,
	}
}

// Consume blocks until weight tokens are available (refilling as needed) or
// ctx is cancelled, then debits them. Waiting for the bucket itself never
// raises a fault — per the error handling design, throttle wait is
// transparent to the caller.
func (b *Bucket) Consume(ctx context.Context, weight int) error {
	return b.limiter.WaitN(ctx, weight)
}

// TryConsume attempts to debit weight tokens without blocking. It returns
// true only if the debit succeeded (i.e. tokens >= weight at call time).
func (b *Bucket) TryConsume(weight int) bool {
	return b.limiter.AllowN(time.Now(), weight)
}

// UpdateFromHeader overwrites local bucket state with the venue's own usage
// counter: tokens = max(0, capacity - usedWeight). This is the authoritative
// override venues provide via response headers (e.g. Binance's
// X-MBX-USED-WEIGHT); it only ever tightens the bucket, since a header
// reports weight already spent, never weight refunded.
func (b *Bucket) UpdateFromHeader(usedWeight int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	target := math.Max(0, float64(b.capacity-usedWeight))
	current := b.limiter.TokensAt(now)
	if delta := current - target; delta > 0 {
		// Force-debit the gap so future Consume/TryConsume calls see the
		// venue-reported remaining budget instead of our own estimate.
		b.limiter.ReserveN(now, int(math.Round(delta)))
	}
}

// Status returns a snapshot of the bucket's current state.
func (b *Bucket) Status() Status {
	return Status{
		Capacity:  b.capacity,
		Tokens:    b.limiter.TokensAt(time.Now()),
		RefillPer: b.interval,
	}
}
