package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles owner mutations per key. A rejected call returns how long
// the caller should wait before retrying.
type Limiter interface {
	Allow(key string) (retryAfter time.Duration, ok bool)
}

// RateLimiter is a token-bucket Limiter with one bucket per key.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter allows roughly perMinute events per key with the given burst.
func NewRateLimiter(perMinute int, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) Allow(key string) (time.Duration, bool) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	reservation := bucket.Reserve()
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return delay, false
	}
	return 0, true
}
