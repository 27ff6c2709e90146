package worker

import (
	"context"
	"sync"

	"github.com/martinsuchenak/rackfab/internal/log"
)

// WorkerPool runs jobs on a fixed number of goroutines
type WorkerPool struct {
	maxWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

// Job represents a unit of work
type Job struct {
	ID      string
	Handler func(context.Context) error
	Result  chan error
}

// NewWorkerPool creates a pool bound to ctx. Cancelling ctx stops queued
// jobs from starting; they report the context error instead.
func NewWorkerPool(ctx context.Context, maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		maxWorkers: maxWorkers,
		jobs:       make(chan Job, 100),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the worker pool
func (p *WorkerPool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Debug("Worker pool started", "workers", p.maxWorkers)
}

// Stop waits for queued jobs to finish and shuts the workers down
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		p.cancel()
	})
}

// Submit queues a job, blocking while the queue is full
func (p *WorkerPool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Run submits one job per handler, waits for all of them and returns their
// errors in submission order.
func (p *WorkerPool) Run(ids []string, handlers []func(context.Context) error) []error {
	results := make([]chan error, len(handlers))
	errs := make([]error, len(handlers))

	for i, h := range handlers {
		results[i] = make(chan error, 1)
		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		if err := p.Submit(Job{ID: id, Handler: h, Result: results[i]}); err != nil {
			results[i] <- err
		}
	}
	for i := range results {
		errs[i] = <-results[i]
	}
	return errs
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		var err error
		if err = p.ctx.Err(); err == nil {
			log.Debug("Worker executing job", "worker_id", id, "job_id", job.ID)
			err = job.Handler(p.ctx)
		}
		if job.Result != nil {
			job.Result <- err
		}
	}
}
