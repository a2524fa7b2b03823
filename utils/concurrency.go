package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool manages a pool of goroutines with rate limiting.
// At most maxWorkers jobs run at once, and job starts are spaced by at
// least rateLimitMs milliseconds.
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
	limiter    *rate.Limiter
	wg         sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	limit := rate.Inf
	if rateLimitMs > 0 {
		limit = rate.Every(time.Duration(rateLimitMs) * time.Millisecond)
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Size returns the configured number of workers.
func (wp *WorkerPool) Size() int {
	return wp.maxWorkers
}

// Submit blocks until a worker slot is free and the rate limiter admits a
// new start, then runs job on its own goroutine. If ctx is done first the
// job is not started and ctx.Err() is returned.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) error {
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := wp.limiter.Wait(ctx); err != nil {
		<-wp.semaphore
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()
		job()
	}()
	return nil
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
