// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/domain/ratelimit"
)

// bucket tracks one rate-limit key. Its capacity and refill rate are bound
// when the bucket is created; later probes with a different config do not
// resize an existing bucket.
type bucket struct {
	tokens     float64
	lastUpdate time.Time
	rate       float64 // tokens per second
	burst      int
	limit      int // requests per minute, reported in results
}

// MemoryRateLimiter implements ratelimit.RateLimiter with per-key token
// buckets. Buckets are created lazily at full burst on first probe.
// Thread-safe for concurrent access. Includes background cleanup of idle
// buckets to prevent unbounded memory growth.
type MemoryRateLimiter struct {
	buckets         map[string]*bucket
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxIdle         time.Duration
}

// NewRateLimiter creates a new in-memory rate limiter with default cleanup
// settings: sweep every 5 minutes, reap buckets idle longer than 10 minutes.
func NewRateLimiter() *MemoryRateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, 10*time.Minute)
}

// NewRateLimiterWithConfig creates a new in-memory rate limiter with custom
// cleanup settings.
// cleanupInterval: how often to sweep for idle buckets.
// maxIdle: how long a bucket may go unprobed before removal. A reaped
// bucket reappears at full burst on its next probe.
func NewRateLimiterWithConfig(cleanupInterval, maxIdle time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		buckets:         make(map[string]*bucket),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
	}
}

// Allow consumes one token from the bucket for key, creating the bucket at
// full burst if it does not exist. The refill is continuous: elapsed time
// since the last probe restores elapsed*rate tokens, capped at burst.
func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, config ratelimit.Config) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	b, exists := r.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     float64(config.BurstSize),
			lastUpdate: now,
			rate:       config.TokensPerSecond(),
			burst:      config.BurstSize,
			limit:      config.RequestsPerMinute,
		}
		r.buckets[key] = b
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens = min(float64(b.burst), b.tokens+elapsed*b.rate)
	b.lastUpdate = now

	resetAt := b.lastUpdate.Add(time.Minute)

	if b.tokens < 1 {
		needed := 1 - b.tokens
		retryAfter := time.Duration(needed / b.rate * float64(time.Second))
		return ratelimit.Result{
			Allowed:    false,
			Limit:      b.limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}, nil
	}

	b.tokens--
	return ratelimit.Result{
		Allowed:   true,
		Limit:     b.limit,
		Remaining: int(b.tokens),
		ResetAt:   resetAt,
	}, nil
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine periodically removes buckets idle longer than maxIdle.
// It stops when ctx is cancelled or Stop() is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes buckets that have not been probed within maxIdle.
// Only called by the background cleanup goroutine.
func (r *MemoryRateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.maxIdle)
	cleaned := 0

	for key, b := range r.buckets {
		if b.lastUpdate.Before(cutoff) {
			delete(r.buckets, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_buckets", cleaned,
			"remaining_buckets", len(r.buckets))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked buckets.
// Useful for testing and monitoring memory usage.
func (r *MemoryRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Compile-time interface verification.
var _ ratelimit.RateLimiter = (*MemoryRateLimiter)(nil)
