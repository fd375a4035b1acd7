package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client
type Limiter struct {
	limiters map[string]*client
	mu       sync.Mutex
	rate     rate.Limit
	perMin   int
	burst    int
	ttl      time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing requestsPerMinute per client with the
// given burst. Buckets idle for longer than ten minutes are forgotten.
func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*client),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		perMin:   requestsPerMinute,
		burst:    burst,
		ttl:      10 * time.Minute,
	}
}

// GetLimiter returns the rate limiter for a specific client
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	c, exists := l.limiters[key]
	if !exists {
		l.evictLocked(now)
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = c
	}
	c.lastSeen = now

	return c.limiter
}

func (l *Limiter) evictLocked(now time.Time) {
	for key, c := range l.limiters {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.limiters, key)
		}
	}
}

// Allow checks if a request is allowed for the given client
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Tokens returns the current number of available tokens for a client
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).Tokens()
}

// Limit is the configured requests per minute
func (l *Limiter) Limit() int {
	return l.perMin
}
