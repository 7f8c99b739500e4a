package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/brightsales/webhook-service/internal/domain"
)

// Pool runs a fixed number of goroutines processing claimed retry jobs, so
// a large due backlog cannot fan out into unbounded goroutines.
type Pool struct {
	numWorkers int
	jobs       chan domain.DueDelivery
	process    func(context.Context, domain.DueDelivery)
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a worker pool; process is invoked once per claimed job.
func NewPool(numWorkers int, process func(context.Context, domain.DueDelivery), logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan domain.DueDelivery, numWorkers*2),
		process:    process,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit sends a job to the worker pool.
func (p *Pool) Submit(job domain.DueDelivery) {
	p.jobs <- job
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.process(ctx, job)
		}
	}
}
