// Package ratelimit throttles anonymous endpoints per client address.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket rate limiter keyed by arbitrary strings. Every
// key gets rate tokens per window, refilled continuously.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    int
	window  time.Duration
	now     func() time.Time
}

// New creates a Limiter that allows requests per window for each key.
func New(requests int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    requests,
		window:  window,
		now:     time.Now,
	}
}

// bucket must be called with l.mu held.
func (l *Limiter) bucket(key string) *rate.Limiter {
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.perSecond(), l.rate)
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) perSecond() rate.Limit {
	return rate.Limit(float64(l.rate) / l.window.Seconds())
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucket(key).AllowN(l.now(), 1)
}

// Status returns the limit, the whole tokens left for key, and when the
// bucket will be full again.
func (l *Limiter) Status(key string) (limit int, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	tokens := l.bucket(key).TokensAt(now)

	remaining = max(int(tokens), 0)
	deficit := float64(l.rate) - tokens
	if deficit <= 0 {
		return l.rate, remaining, now
	}
	return l.rate, remaining, now.Add(time.Duration(deficit / float64(l.perSecond()) * float64(time.Second)))
}

// Sweep drops buckets that have refilled completely. A dropped bucket is
// indistinguishable from a new one, so nothing is forgotten.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dropped := 0
	for key, b := range l.buckets {
		if b.TokensAt(now) >= float64(l.rate) {
			delete(l.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
