package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

type countingFetcher struct {
	mu       sync.Mutex
	attempts int
	fails    int
	status   int
	failErr  error
}

func (f *countingFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.fails {
		if f.status != 0 {
			return crawler.FetchResponse{URL: req.URL, StatusCode: f.status}, nil
		}
		if f.failErr != nil {
			return crawler.FetchResponse{}, f.failErr
		}
		return crawler.FetchResponse{}, errors.New("transient error")
	}
	return crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Body:       []byte("success"),
		URL:        req.URL,
	}, nil
}

func (f *countingFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type hangingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *hangingFetcher) Fetch(ctx context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	<-ctx.Done()
	return crawler.FetchResponse{}, ctx.Err()
}

type recordingWaiter struct {
	mu    sync.Mutex
	waits int
	err   error
}

func (w *recordingWaiter) Wait(context.Context, string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits++
	return w.err
}

func newTestFetcher(t *testing.T, transport crawler.Fetcher, maxAttempts int, limiter Waiter) (*Resilient, *[]time.Duration) {
	t.Helper()
	f, err := New(transport, Config{
		Timeout: 50 * time.Millisecond,
		Policy:  crawler.NewRetryPolicy(maxAttempts, 10*time.Millisecond, time.Second).WithoutJitter(),
		Limiter: limiter,
	}, zap.NewNop())
	require.NoError(t, err)
	var delays []time.Duration
	f.pause = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return f, &delays
}

func TestNewRequiresTransport(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
}

func TestFetch_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	for _, k := range []int{0, 1, 3} {
		transport := &countingFetcher{fails: k}
		f, delays := newTestFetcher(t, transport, 4, nil)

		payload, err := f.Fetch(context.Background(), "https://thegamesdb.net/game.php?id=1")
		require.NoError(t, err)
		require.Equal(t, k+1, transport.calls())
		require.Equal(t, k+1, payload.Attempts)
		require.Equal(t, "success", string(payload.Body))
		require.Len(t, *delays, k)
	}
}

func TestFetch_ExhaustsRetryLimit(t *testing.T) {
	t.Parallel()

	transport := &countingFetcher{fails: 10}
	f, delays := newTestFetcher(t, transport, 3, nil)

	_, err := f.Fetch(context.Background(), "https://thegamesdb.net/game.php?id=2")
	require.Error(t, err)

	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, 3, transport.calls())
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *delays)
	require.Equal(t, Stats{Attempts: 3, Retries: 2, Failures: 1}, f.Stats())
}

func TestFetch_RetryLimitBoundary(t *testing.T) {
	t.Parallel()

	// k == limit must fail after exactly limit calls.
	transport := &countingFetcher{fails: 3}
	f, _ := newTestFetcher(t, transport, 3, nil)

	_, err := f.Fetch(context.Background(), "https://thegamesdb.net/game.php?id=3")
	require.Error(t, err)
	require.Equal(t, 3, transport.calls())
}

func TestFetch_ServerErrorsAreRetried(t *testing.T) {
	t.Parallel()

	transport := &countingFetcher{fails: 2, status: http.StatusServiceUnavailable}
	f, _ := newTestFetcher(t, transport, 3, nil)

	payload, err := f.Fetch(context.Background(), "https://thegamesdb.net/game.php?id=4")
	require.NoError(t, err)
	require.Equal(t, 3, payload.Attempts)
}

func TestFetch_NotFoundIsTerminal(t *testing.T) {
	t.Parallel()

	transport := &countingFetcher{fails: 5, status: http.StatusNotFound}
	f, _ := newTestFetcher(t, transport, 3, nil)

	_, err := f.Fetch(context.Background(), "https://thegamesdb.net/game.php?id=404")
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 1, transport.calls())
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestFetch_AttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	transport := &hangingFetcher{}
	f, _ := newTestFetcher(t, transport, 2, nil)

	start := time.Now()
	_, err := f.Fetch(context.Background(), "https://thegamesdb.net/slow")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 2, transport.calls)
	require.Less(t, time.Since(start), time.Second)
}

func TestFetch_ParentCancellationStopsRetries(t *testing.T) {
	t.Parallel()

	transport := &countingFetcher{fails: 10}
	f, _ := newTestFetcher(t, transport, 5, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.pause = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := f.Fetch(ctx, "https://thegamesdb.net/game.php?id=9")
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, transport.calls())
}

func TestFetch_WaitsOnLimiterEveryAttempt(t *testing.T) {
	t.Parallel()

	transport := &countingFetcher{fails: 2}
	waiter := &recordingWaiter{}
	f, _ := newTestFetcher(t, transport, 3, waiter)

	_, err := f.Fetch(context.Background(), "https://thegamesdb.net/game.php?id=5")
	require.NoError(t, err)
	require.Equal(t, 3, waiter.waits)
}

func TestFetch_LimiterErrorIsTerminal(t *testing.T) {
	t.Parallel()

	transport := &countingFetcher{}
	waiter := &recordingWaiter{err: errors.New("limiter closed")}
	f, _ := newTestFetcher(t, transport, 3, waiter)

	_, err := f.Fetch(context.Background(), "https://thegamesdb.net/game.php?id=6")
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 0, fetchErr.Attempts)
	require.Equal(t, 0, transport.calls())
}

func TestSleepCtx(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepCtx(context.Background(), 0))
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
