package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"time"
)

// Retry policy defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 10 * time.Second
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. Delays grow linearly (base × attempt) with a
// random jitter of up to half the base so concurrent workers do not retry in
// lockstep.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	jitter func(limit time.Duration) time.Duration
}

// NewRetryPolicy builds a policy, filling zero values with defaults.
func NewRetryPolicy(maxAttempts int, base, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if base < 0 {
		base = DefaultBackoffBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		jitter:      randomJitter,
	}
}

// WithoutJitter disables the random component; used by tests.
func (p *RetryPolicy) WithoutJitter() *RetryPolicy {
	cp := *p
	cp.jitter = func(time.Duration) time.Duration { return 0 }
	return &cp
}

// ShouldRetry reports whether another attempt should follow attempt number
// attempt (1-based) that failed with err.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait before the attempt following attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay * time.Duration(attempt)
	if p.jitter != nil {
		delay += p.jitter(p.BaseDelay / 2)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// IsTransient classifies an attempt error. Timeouts, transport errors, 408,
// 429 and 5xx are transient; other statuses and caller cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.StatusCode; {
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
			return true
		case code >= 500:
			return true
		default:
			// Other 4xx, 404 included, are permanent and never retried.
			return false
		}
	}
	return true
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
