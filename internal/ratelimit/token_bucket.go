package ratelimit

import (
	"sync"
	"time"
)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket that refills `refill` tokens
// every `per` using a provided Clock.
//
// The implementation uses fixed-point units to avoid float rounding. One token
// is represented as per.Nanoseconds() units, so every elapsed nanosecond adds
// `refill` units. With per=1s this is the usual nano-token representation,
// and slow rates such as 5 tokens per 10 minutes stay exact.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacityTokens int64
	refill         int64
	unitsPerToken  int64

	availableUnits int64
	last           time.Time
}

// NewTokenBucket returns a full bucket. A zero or negative per defaults to one
// second.
func NewTokenBucket(clock Clock, capacityTokens, refill int64, per time.Duration) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if refill < 0 {
		refill = 0
	}
	if per <= 0 {
		per = time.Second
	}

	b := &TokenBucket{
		clock:          clock,
		capacityTokens: capacityTokens,
		refill:         refill,
		unitsPerToken:  per.Nanoseconds(),
		last:           clock.Now(),
	}
	b.availableUnits = b.toUnits(capacityTokens)
	return b
}

// Allow consumes the provided number of tokens if available.
//
// tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	cost := b.toUnits(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.availableUnits < cost {
		return false
	}
	b.availableUnits -= cost
	return true
}

// Full reports whether the bucket has refilled to capacity. Keyed limiters use
// it to drop idle buckets.
func (b *TokenBucket) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.availableUnits >= b.toUnits(b.capacityTokens)
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Avoid refilling and move the reference point.
		b.last = now
		return
	}

	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.refill <= 0 || b.capacityTokens <= 0 {
		return
	}

	capacity := b.toUnits(b.capacityTokens)
	if b.availableUnits >= capacity {
		b.availableUnits = capacity
		return
	}

	// Avoid overflow in elapsed*refill: if there was enough time to fill the
	// bucket, just clamp to capacity.
	need := capacity - b.availableUnits
	maxElapsedToFill := need / b.refill
	if maxElapsedToFill <= 0 || elapsed >= maxElapsedToFill {
		b.availableUnits = capacity
		return
	}

	b.availableUnits += elapsed * b.refill
	if b.availableUnits > capacity {
		b.availableUnits = capacity
	}
}

func (b *TokenBucket) toUnits(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/b.unitsPerToken {
		return maxInt64
	}
	return tokens * b.unitsPerToken
}
