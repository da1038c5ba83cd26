// Package fetcher provides the resilient, rate-limited fetcher that is the
// crawler's only point of contact with the remote site. It wraps a
// single-attempt crawler.Fetcher with a per-attempt timeout, a politeness
// limiter and a retry policy, and never returns anything but a
// *crawler.FetchError on failure.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
	"github.com/JakeFAU/gamesdb-crawler/internal/metrics"
)

const defaultAttemptTimeout = 15 * time.Second

// Waiter blocks until the caller may issue a request to url.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Resilient behavior.
type Config struct {
	// Timeout bounds every single attempt.
	Timeout time.Duration
	Policy  *crawler.RetryPolicy
	Limiter Waiter
}

// Stats is a snapshot of the fetcher's counters.
type Stats struct {
	Attempts int64
	Retries  int64
	Failures int64
}

// Resilient implements crawler.PageFetcher.
type Resilient struct {
	transport crawler.Fetcher
	timeout   time.Duration
	policy    *crawler.RetryPolicy
	limiter   Waiter
	logger    *zap.Logger
	pause     func(ctx context.Context, d time.Duration) error

	attempts atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
}

// New builds a Resilient fetcher around transport.
func New(transport crawler.Fetcher, cfg Config, logger *zap.Logger) (*Resilient, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	policy := cfg.Policy
	if policy == nil {
		policy = crawler.NewRetryPolicy(0, crawler.DefaultBackoffBase, 0)
	}
	return &Resilient{
		transport: transport,
		timeout:   timeout,
		policy:    policy,
		limiter:   cfg.Limiter,
		logger:    logger,
		pause:     sleepCtx,
	}, nil
}

// Fetch retrieves url, retrying transient failures with backoff.
func (f *Resilient) Fetch(ctx context.Context, url string) (crawler.Payload, error) {
	start := time.Now()
	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return crawler.Payload{}, f.fail(url, attempt-1, lastStatus, errors.Join(err, lastErr))
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, url); err != nil {
				return crawler.Payload{}, f.fail(url, attempt-1, lastStatus, errors.Join(err, lastErr))
			}
		}

		resp, err := f.attempt(ctx, url)
		f.attempts.Add(1)
		if err == nil {
			metrics.ObserveFetchAttempt(url, "success")
			return crawler.Payload{
				URL:        url,
				FinalURL:   resp.URL,
				StatusCode: resp.StatusCode,
				Body:       resp.Body,
				Attempts:   attempt,
				Duration:   time.Since(start),
			}, nil
		}
		metrics.ObserveFetchAttempt(url, "failure")
		lastErr = err
		lastStatus = resp.StatusCode

		if ctx.Err() != nil || !f.policy.ShouldRetry(err, attempt) {
			return crawler.Payload{}, f.fail(url, attempt, lastStatus, err)
		}

		delay := f.policy.Backoff(attempt)
		f.retries.Add(1)
		metrics.ObserveRetry()
		f.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := f.pause(ctx, delay); err != nil {
			return crawler.Payload{}, f.fail(url, attempt, lastStatus, errors.Join(err, lastErr))
		}
	}
}

// Stats returns the current counters.
func (f *Resilient) Stats() Stats {
	return Stats{
		Attempts: f.attempts.Load(),
		Retries:  f.retries.Load(),
		Failures: f.failures.Load(),
	}
}

func (f *Resilient) attempt(ctx context.Context, url string) (crawler.FetchResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.transport.Fetch(attemptCtx, crawler.FetchRequest{URL: url})
	if err != nil {
		return resp, fmt.Errorf("attempt: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &crawler.StatusError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (f *Resilient) fail(url string, attempts, status int, cause error) *crawler.FetchError {
	f.failures.Add(1)
	return &crawler.FetchError{
		URL:        url,
		Attempts:   attempts,
		StatusCode: status,
		Cause:      cause,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
