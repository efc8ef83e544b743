package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// RateLimiter provides simple token-bucket rate limiting for upstream
// requests (EDGAR caps clients per user-agent).
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter that allows maxTokens requests
// per refillRate duration.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens > 0 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			// Check again after a short sleep.
		}
	}
}

// refill adds tokens based on elapsed time. Must be called with mu held.
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed >= rl.refillRate {
		periods := int(elapsed / rl.refillRate)
		rl.tokens += periods
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = rl.lastRefill.Add(time.Duration(periods) * rl.refillRate)
	}
}

// InflightLimiter bounds the number of concurrently running operations.
// It is a counting resource, not a lock: holders proceed in parallel up
// to the budget.
type InflightLimiter struct {
	sem *semaphore.Weighted
}

// NewInflightLimiter creates a limiter with the given budget. A budget
// below one is treated as one.
func NewInflightLimiter(budget int) *InflightLimiter {
	if budget < 1 {
		budget = 1
	}
	return &InflightLimiter{sem: semaphore.NewWeighted(int64(budget))}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (l *InflightLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees a slot acquired with Acquire.
func (l *InflightLimiter) Release() {
	l.sem.Release(1)
}
