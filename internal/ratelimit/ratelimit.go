// Package ratelimit spaces calls to each worker by a minimum interval.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per worker id. Buckets have burst 1 so
// consecutive grants are at least MinInterval apart.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      map[string]int
}

// New creates a Limiter from per-worker requests-per-minute budgets. A
// worker with no budget, or a budget of zero, is not delayed.
func New(rpm map[string]int) *Limiter {
	copied := make(map[string]int, len(rpm))
	for k, v := range rpm {
		copied[k] = v
	}
	return &Limiter{limiters: make(map[string]*rate.Limiter), rpm: copied}
}

// MinInterval returns 60s / rpm for the worker, or zero when unlimited.
func MinInterval(rpm int) time.Duration {
	if rpm <= 0 {
		return 0
	}
	return time.Minute / time.Duration(rpm)
}

// Acquire blocks until the worker may be called again. It only fails when
// ctx is done first.
func (l *Limiter) Acquire(ctx context.Context, workerID string) error {
	return l.limiter(workerID).Wait(ctx)
}

// Interval reports the configured minimum interval for a worker.
func (l *Limiter) Interval(workerID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return MinInterval(l.rpm[workerID])
}

func (l *Limiter) limiter(workerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[workerID]; ok {
		return lim
	}
	limit := rate.Inf
	if iv := MinInterval(l.rpm[workerID]); iv > 0 {
		limit = rate.Every(iv)
	}
	lim := rate.NewLimiter(limit, 1)
	l.limiters[workerID] = lim
	return lim
}
