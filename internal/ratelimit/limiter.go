// Package ratelimit bounds request rate and in-flight fetch concurrency.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fishingmap/forum-crawler/internal/metrics"
)

// Limiter combines a token bucket over requests-per-second with a fixed
// ceiling on concurrently outstanding fetches. Both primitives queue
// waiters in arrival order; Acquire blocks until both are satisfiable.
type Limiter struct {
	bucket *rate.Limiter
	sem    *semaphore.Weighted
}

// Config holds limiter configuration.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	MaxConcurrency    int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(r, burst),
		sem:    semaphore.NewWeighted(int64(maxConcurrency)),
	}
}

// Acquire blocks until a concurrency slot and a rate token are both held,
// then returns the release func for the slot. The token is consumed; only
// the slot is returned on release.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire concurrency slot: %w", err)
	}
	if err := l.bucket.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(delay)
	}
	return func() { l.sem.Release(1) }, nil
}
