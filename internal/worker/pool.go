// Package worker provides the shared concurrency primitives: a bounded
// worker pool for independent jobs (judge passes, batch claims) and a
// per-backend rate limiter for the shared client pool.
package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// Pool executes jobs on a bounded set of workers. Submitted jobs are
// buffered until Wait, which feeds the workers while draining their
// results, so any number of jobs can be submitted without blocking.
// Jobs run under a context derived from the caller's, so cancellation
// reaches every Execute.
type Pool struct {
	workers    int
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	mu      sync.Mutex
	pending []Job
}

// NewPool creates a worker pool with the specified number of workers.
// Workers observe ctx: cancelling it stops job dispatch and is visible
// inside each job's Execute.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	poolCtx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan Job),
		results:    make(chan Result),
		ctx:        poolCtx,
		cancelFunc: cancel,
	}
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := job.Execute(p.ctx)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job for execution. Jobs are not dispatched until
// Wait is called; Submit never blocks.
func (p *Pool) Submit(job Job) {
	p.mu.Lock()
	p.pending = append(p.pending, job)
	p.mu.Unlock()
}

// Wait dispatches all submitted jobs, waits for them to complete and
// returns the results. Cancellation drops undispatched jobs; results
// already produced are still returned.
func (p *Pool) Wait() []Result {
	p.mu.Lock()
	jobs := p.pending
	p.pending = nil
	p.mu.Unlock()

	go func() {
		defer close(p.jobQueue)
		for _, job := range jobs {
			select {
			case p.jobQueue <- job:
			case <-p.ctx.Done():
				return
			}
		}
	}()

	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	var results []Result
	for result := range p.results {
		results = append(results, result)
	}

	return results
}

// Shutdown shuts down the worker pool immediately
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
