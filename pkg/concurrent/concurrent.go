package concurrent

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Concurrent runs action for each item on at most workers goroutines
// (unbounded when workers <= 0). It waits for all of them and returns the
// first error encountered.
func Concurrent[T any](items []T, workers int, action func(T) error) error {
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}

	for _, item := range items {
		g.Go(func() error {
			return action(item)
		})
	}

	return g.Wait()
}

// ParallelMute is Concurrent without failing fast: every action runs, errors
// are ignored, and the number of successful actions is returned.
func ParallelMute[T any](items []T, workers int, action func(T) error) int {
	var ok atomic.Int64
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}

	for _, item := range items {
		g.Go(func() error {
			if action(item) == nil {
				ok.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()
	return int(ok.Load())
}
