// README: In-process bounded task queue drained by a worker pool.
package sideeffect

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

var ErrQueueFull = errors.New("side-effect queue full")

type MemoryQueue struct {
	ch chan Task
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan Task, size)}
}

// Enqueue never blocks; a full queue drops the task.
func (q *MemoryQueue) Enqueue(_ context.Context, t Task) error {
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes tasks with the given number of workers until ctx is done.
func (q *MemoryQueue) Run(ctx context.Context, workers int, r *Runner) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case t := <-q.ch:
					_ = r.Process(ctx, t)
				}
			}
		})
	}
	return g.Wait()
}
