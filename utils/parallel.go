// Package utils contains the concurrency helpers shared by the stereocal commands.
package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the default number of workers. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// Job is a unit of work run by a WorkerPool.
type Job func(ctx context.Context) error

// WorkerPool runs jobs on a fixed number of goroutines draining a bounded queue. The first
// failing job cancels the pool's context; jobs still queued after that are dropped.
type WorkerPool struct {
	parent context.Context
	ctx    context.Context
	group  *errgroup.Group
	jobs   chan Job
	once   sync.Once
}

// NewWorkerPool starts workers goroutines, or ParallelFactor of them when workers is not
// positive.
func NewWorkerPool(ctx context.Context, workers int) *WorkerPool {
	if workers <= 0 {
		workers = ParallelFactor
	}
	group, groupCtx := errgroup.WithContext(ctx)
	wp := &WorkerPool{parent: ctx, ctx: groupCtx, group: group, jobs: make(chan Job, workers)}
	for i := 0; i < workers; i++ {
		group.Go(wp.work)
	}
	return wp
}

func (wp *WorkerPool) work() error {
	for job := range wp.jobs {
		if wp.ctx.Err() != nil {
			continue
		}
		if err := runJob(wp.ctx, job); err != nil {
			// keep draining so Submit never blocks on a dead pool
			go func() {
				for range wp.jobs {
				}
			}()
			return err
		}
	}
	return nil
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if thePanic := recover(); thePanic != nil {
			err = fmt.Errorf("got panic running a job: %v", thePanic)
		}
	}()
	return job(ctx)
}

// Submit queues job, blocking while the queue is full. It returns the context error once the
// pool has stopped.
func (wp *WorkerPool) Submit(job Job) error {
	if err := wp.ctx.Err(); err != nil {
		return err
	}
	select {
	case wp.jobs <- job:
		return nil
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// Wait closes the queue, waits for the workers and returns the first job error, or the error of
// the parent context when it was canceled. Submit must not be called after Wait.
func (wp *WorkerPool) Wait() error {
	wp.once.Do(func() {
		close(wp.jobs)
	})
	if err := wp.group.Wait(); err != nil {
		return err
	}
	return wp.parent.Err()
}

// ForEach runs fn for every item on a pool of workers and returns the first error.
func ForEach[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) error) error {
	wp := NewWorkerPool(ctx, workers)
	for _, item := range items {
		item := item
		if err := wp.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			break
		}
	}
	return wp.Wait()
}
