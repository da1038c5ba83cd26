package pool

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// gauge tracks the number of concurrently running tasks and its peak.
type gauge struct {
	current atomic.Int64
	peak    atomic.Int64
}

func (g *gauge) enter() {
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() {
	g.current.Add(-1)
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestRunNeverExceedsConcurrency(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 3, 8} {
		g := &gauge{}
		results, err := Collect(context.Background(), seq(40), n, func(_ context.Context, i int) int {
			g.enter()
			defer g.leave()
			time.Sleep(time.Duration(i%4) * time.Millisecond)
			return i
		})
		require.NoError(t, err)
		require.Len(t, results, 40)
		require.LessOrEqual(t, g.peak.Load(), int64(n))
		require.GreaterOrEqual(t, g.peak.Load(), int64(1))
	}
}

func TestRunObservesAsItemsComplete(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	firstObserved := make(chan int, 1)
	done := make(chan error, 1)

	go func() {
		done <- Run(context.Background(), []int{1, 2}, 2, func(_ context.Context, i int) int {
			if i == 1 {
				<-release
			}
			return i
		}, func(i int) error {
			if i == 2 {
				firstObserved <- i
			}
			return nil
		})
	}()

	select {
	case got := <-firstObserved:
		require.Equal(t, 2, got)
	case <-time.After(2 * time.Second):
		t.Fatal("fast item was not observed while slow item was running")
	}
	close(release)
	require.NoError(t, <-done)
}

func TestRunIsolatesTaskFailures(t *testing.T) {
	t.Parallel()

	type outcome struct {
		id  int
		err error
	}
	results, err := Collect(context.Background(), seq(10), 3, func(_ context.Context, i int) outcome {
		if i == 3 || i == 7 {
			return outcome{id: i, err: errors.New("item " + strconv.Itoa(i) + " failed")}
		}
		return outcome{id: i}
	})
	require.NoError(t, err)
	require.Len(t, results, 10)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
		}
	}
	require.Equal(t, 2, failed)
}

func TestRunStartsItemsInOrder(t *testing.T) {
	t.Parallel()

	results, err := Collect(context.Background(), seq(20), 1, func(_ context.Context, i int) int { return i })
	require.NoError(t, err)
	require.Equal(t, seq(20), results)
}

func TestRunObserverCallsNeverOverlap(t *testing.T) {
	t.Parallel()

	var inObserver atomic.Int32
	err := Run(context.Background(), seq(50), 8, func(_ context.Context, i int) int { return i }, func(int) error {
		if inObserver.Add(1) != 1 {
			return errors.New("observer overlap")
		}
		time.Sleep(100 * time.Microsecond)
		inObserver.Add(-1)
		return nil
	})
	require.NoError(t, err)
}

func TestRunObserverErrorStopsRemainingWork(t *testing.T) {
	t.Parallel()

	var executed atomic.Int32
	fatal := errors.New("disk full")
	observed := 0
	err := Run(context.Background(), seq(100), 2, func(ctx context.Context, i int) int {
		executed.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond):
		}
		return i
	}, func(int) error {
		observed++
		if observed == 3 {
			return fatal
		}
		return nil
	})
	require.ErrorIs(t, err, fatal)
	require.Less(t, int(executed.Load()), 100)
}

func TestRunParentCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var observed []int
	err := Run(ctx, seq(100), 2, func(ctx context.Context, i int) int {
		if i == 4 {
			cancel()
		}
		return i
	}, func(i int) error {
		mu.Lock()
		observed = append(observed, i)
		mu.Unlock()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotEmpty(t, observed)
	require.Less(t, len(observed), 100)
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	called := false
	err := Run(context.Background(), nil, 0, func(context.Context, int) int { return 0 }, func(int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
}
