package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrQueueFull  = errors.New("processing queue is full")
	ErrPoolClosed = errors.New("processing pool is shut down")
)

// Runner executes one job request.
type Runner interface {
	Run(ctx context.Context, req Request) error
}

// Pool runs requests on a fixed number of workers fed by a bounded queue.
// The job record is the only durable handle on a queued request.
type Pool struct {
	runner  Runner
	workers int
	queue   chan Request

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(runner Runner, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		runner:  runner,
		workers: workers,
		queue:   make(chan Request, queueSize),
	}
}

// Start launches the workers. They exit when the queue is drained after
// Shutdown; ctx is passed to every Run.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for req := range p.queue {
				if err := p.runner.Run(ctx, req); err != nil {
					slog.Warn("Job ended with error.", "worker", worker, "jobId", req.JobID, "error", err)
				}
			}
		}(i)
	}
	slog.Info("Processing pool started.", "workers", p.workers, "queueSize", cap(p.queue))
}

// Submit enqueues req without blocking.
func (p *Pool) Submit(req Request) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued jobs to finish or for
// ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
