package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter throttles outbound provider calls. A nil *Limiter never blocks.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter creates a rate limiter allowing requestsPerMinute calls with a
// burst of 10% of the per-minute limit.
func NewLimiter(name string, requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
	}
}

// Wait blocks until the rate limiter allows the request
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return &RateLimitError{Name: l.name, Limit: float64(l.limiter.Limit()) * 60.0, Err: err}
	}
	return nil
}

// Allow checks if a request is allowed without blocking
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// RateLimitError wraps rate limit related errors with limiter context.
type RateLimitError struct {
	Name  string
	Limit float64
	Err   error
}

// Error implements error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit error for %s (limit: %.0f req/min): %v", e.Name, e.Limit, e.Err)
}

// Unwrap returns the underlying error.
func (e *RateLimitError) Unwrap() error {
	return e.Err
}
