// Package worker runs jobs on a bounded pool. Concurrency is per-process
// and deliberately job-grained: one goroutine owns one job end to end, so
// no two workers ever touch the same job row.
package worker

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunFunc processes one job to a terminal state.
type RunFunc func(ctx context.Context, jobID string) error

type Pool struct {
	run   RunFunc
	queue chan string
	log   *zap.Logger
}

// New creates a pool with the given queue depth. Size and depth come from
// configuration; both must be positive.
func New(run RunFunc, queueDepth int) *Pool {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Pool{
		run:   run,
		queue: make(chan string, queueDepth),
		log:   zap.L(),
	}
}

// Submit enqueues a job without blocking. A full queue is backpressure the
// caller must surface, not absorb.
func (p *Pool) Submit(jobID string) error {
	select {
	case p.queue <- jobID:
		return nil
	default:
		return eris.New("worker: queue full")
	}
}

// Start runs workers until ctx is canceled and the queue drains. Job
// failures are logged, not propagated: one bad job must not stop the pool.
func (p *Pool) Start(ctx context.Context, workers int) error {
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
				case jobID := <-p.queue:
					if err := p.run(ctx, jobID); err != nil {
						p.log.Error("job run failed", zap.String("job_id", jobID), zap.Error(err))
					}
				}
			}
		})
	}
	return g.Wait()
}
