// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for rate limiting implementations.
//
// Keys are either URLs (limited per host) or opaque names such as a job type.
type RateLimiter interface {
	// Wait blocks until a request for the given key can proceed.
	// If the context is cancelled before the rate limit allows, an error is returned.
	Wait(ctx context.Context, key string) error
}

// DomainLimiter provides per-host rate limiting using the token bucket algorithm.
// The video API client keys it by request URL; the worker pool keys it by job type
// to space out job starts.
type DomainLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	perHost  rate.Limit // Requests per second per key
	burst    int        // Burst capacity
}

// NewDomainLimiter creates a new rate limiter with the specified per-key rate
func NewDomainLimiter(requestsPerSecond float64, burst int) *DomainLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2.0
	}
	if burst <= 0 {
		burst = 4
	}

	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHost:  rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// NewIntervalLimiter allows one event per interval with no burst. A zero interval
// yields an unlimited limiter.
func NewIntervalLimiter(interval time.Duration) *DomainLimiter {
	if interval <= 0 {
		return &DomainLimiter{limiters: make(map[string]*rate.Limiter), perHost: rate.Inf, burst: 1}
	}
	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHost:  rate.Every(interval),
		burst:    1,
	}
}

// Wait blocks until the request for the given key can proceed according to rate limits
func (dl *DomainLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	k := normalizeKey(key)
	if k == "" {
		// Invalid key, let it proceed (will fail elsewhere)
		return nil
	}

	return dl.getLimiter(k).Wait(ctx)
}

// getLimiter returns or creates a rate limiter for the given key
func (dl *DomainLimiter) getLimiter(key string) *rate.Limiter {
	dl.mu.RLock()
	limiter, exists := dl.limiters[key]
	dl.mu.RUnlock()

	if exists {
		return limiter
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := dl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(dl.perHost, dl.burst)
	dl.limiters[key] = limiter

	return limiter
}

// normalizeKey maps URLs to their host and leaves other keys unchanged
func normalizeKey(key string) string {
	if u, err := url.Parse(key); err == nil && u.Host != "" {
		return u.Host
	}
	return key
}
