package ratelimit

import (
	"container/list"
	"sync"
	"time"
)

const DefaultMaxKeys = 10000

// KeyedLimiter keeps one TokenBucket per key, e.g. per client IP.
//
// The number of buckets is bounded; when full, the least recently used key is
// evicted. An evicted key starts over with a full bucket, which only ever
// loosens the limit for that key.
type KeyedLimiter struct {
	clock    Clock
	capacity int64
	refill   int64
	per      time.Duration
	maxKeys  int

	mu      sync.Mutex
	buckets map[string]*keyedEntry
	lru     *list.List
}

type keyedEntry struct {
	bucket *TokenBucket
	elem   *list.Element
}

// NewKeyedLimiter allows `limit` events per `window` for every key.
func NewKeyedLimiter(clock Clock, limit int, window time.Duration, maxKeys int) *KeyedLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &KeyedLimiter{
		clock:    clock,
		capacity: int64(limit),
		refill:   int64(limit),
		per:      window,
		maxKeys:  maxKeys,
		buckets:  make(map[string]*keyedEntry),
		lru:      list.New(),
	}
}

// Allow consumes one token from key's bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.bucket(key).Allow(1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Prune drops buckets that have refilled completely. They carry no state that
// a fresh bucket would not.
func (l *KeyedLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, e := range l.buckets {
		if e.bucket.Full() {
			l.lru.Remove(e.elem)
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

func (l *KeyedLimiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.buckets[key]; ok {
		l.lru.MoveToFront(e.elem)
		return e.bucket
	}

	if len(l.buckets) >= l.maxKeys {
		// Evict least-recently used entry (oldest at the back).
		if elem := l.lru.Back(); elem != nil {
			l.lru.Remove(elem)
			delete(l.buckets, elem.Value.(string))
		}
	}

	b := NewTokenBucket(l.clock, l.capacity, l.refill, l.per)
	l.buckets[key] = &keyedEntry{bucket: b, elem: l.lru.PushFront(key)}
	return b
}
