package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that RetryConfig.Do gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction (0..1) of each delay that is randomised.
	Jitter float64
	Logger *Logger
}

// Do executes fn with exponential back-off retry logic. fn receives the
// 1-based attempt number. Do returns the number of attempts made and the
// last error. It stops early on a Permanent error or when ctx is done.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(attempt int) error) (int, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if IsPermanent(lastErr) {
			return attempt, fmt.Errorf("%s failed permanently on attempt %d: %w", operationName, attempt, lastErr)
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt, lastErr)
		}

		if attempt < maxAttempts {
			wait := r.withJitter(delay)
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, maxAttempts, lastErr, wait)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt, lastErr)
			case <-timer.C:
			}
			delay *= 2
			if r.MaxDelay > 0 && delay > r.MaxDelay {
				delay = r.MaxDelay
			}
		}
	}

	return maxAttempts, fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

func (r *RetryConfig) withJitter(d time.Duration) time.Duration {
	if d <= 0 || r.Jitter <= 0 {
		return d
	}
	j := r.Jitter
	if j > 1 {
		j = 1
	}
	// uniform in [d*(1-j), d*(1+j)]
	f := 1 + (rand.Float64()*2-1)*j
	return time.Duration(f * float64(d))
}
