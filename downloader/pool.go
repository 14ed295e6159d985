package downloader

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool capacity used when none is configured.
const DefaultWorkers = 8

// Pool runs submitted jobs with at most size of them executing at once.
// Submit never blocks; jobs queue on the semaphore in their own goroutines.
type Pool struct {
	g   errgroup.Group
	sem *semaphore.Weighted
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit queues job. A non-nil error from job is reported by Wait; it does
// not stop other jobs.
func (p *Pool) Submit(job func() error) {
	p.g.Go(func() error {
		// a background context never fails Acquire
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		return job()
	})
}

// Wait blocks until every submitted job has returned and yields the first
// error any of them returned.
func (p *Pool) Wait() error {
	return p.g.Wait()
}
