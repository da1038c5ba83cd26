// Package pool runs tasks over a slice of items with a fixed concurrency
// bound, reporting each result to an observer as soon as it completes.
package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/gamesdb-crawler/internal/metrics"
)

// Run executes task for every item with at most n tasks in flight. Items
// start in input order and a finished worker immediately picks up the next
// one. observe is called once per completed task, in completion order, always
// from the calling goroutine; observer calls never overlap.
//
// Task failures are part of R and never stop the pool. A non-nil observer
// error cancels the context handed to running tasks, stops new items from
// starting and is returned once in-flight tasks have drained. If ctx ends
// before every item started, Run returns the context error after observing
// whatever was in flight.
func Run[T, R any](
	ctx context.Context,
	items []T,
	n int,
	task func(context.Context, T) R,
	observe func(R) error,
) error {
	if n < 1 {
		n = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(n))
	results := make(chan R, n)
	var (
		wg      sync.WaitGroup
		started int
	)

	go func() {
		defer func() {
			wg.Wait()
			close(results)
		}()
		for _, item := range items {
			if runCtx.Err() != nil {
				return
			}
			if err := sem.Acquire(runCtx, 1); err != nil {
				return
			}
			started++
			wg.Add(1)
			go func(item T) {
				defer wg.Done()
				defer sem.Release(1)
				metrics.IncActiveWorkers()
				defer metrics.DecActiveWorkers()
				results <- task(runCtx, item)
			}(item)
		}
	}()

	var observeErr error
	for r := range results {
		if observeErr != nil || observe == nil {
			continue
		}
		if err := observe(r); err != nil {
			observeErr = err
			cancel()
		}
	}

	// results is closed, so the dispatcher has returned and started is stable.
	if observeErr != nil {
		return observeErr
	}
	if started < len(items) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pool stopped after %d of %d items: %w", started, len(items), err)
		}
	}
	return nil
}

// Collect runs task over items and returns every result in completion order.
func Collect[T, R any](ctx context.Context, items []T, n int, task func(context.Context, T) R) ([]R, error) {
	out := make([]R, 0, len(items))
	err := Run(ctx, items, n, task, func(r R) error {
		out = append(out, r)
		return nil
	})
	return out, err
}
