// Package worker fetches task snapshots in parallel on a bounded pool.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tuanbt/hivestream/internal/config"
)

// Pool manages a pool of workers fetching snapshots.
type Pool struct {
	workers    []*Worker
	jobChan    chan Job
	resultChan chan *Result
	fetcher    Fetcher
	numWorkers int
	logger     *slog.Logger

	activeCount atomic.Int32
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// NewPool creates a new worker pool.
func NewPool(cfg *config.Config, fetcher Fetcher, logger *slog.Logger) *Pool {
	return &Pool{
		jobChan:    make(chan Job, cfg.NumWorkers*4), // Buffer for a page of task ids
		resultChan: make(chan *Result, cfg.NumWorkers*4),
		fetcher:    fetcher,
		numWorkers: cfg.NumWorkers,
		logger:     logger,
	}
}

// Start launches all workers in the pool.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("starting worker pool", "num_workers", p.numWorkers)

	for i := 1; i <= p.numWorkers; i++ {
		worker := New(i, p.fetcher, p.jobChan, p.resultChan, p.logger)
		p.workers = append(p.workers, worker)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			p.activeCount.Add(1)
			defer p.activeCount.Add(-1)

			if err := w.Start(ctx); err != nil {
				if ctx.Err() == nil {
					p.logger.Error("worker exited with error", "worker_id", w.ID, "error", err)
				}
			}
		}(worker)
	}

	return nil
}

// Stop closes the job queue, waits for in-flight fetches and closes Results.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.logger.Info("stopping worker pool")

	// Close job channel to signal workers to stop
	close(p.jobChan)

	p.wg.Wait()

	// Close result channel after all workers are done
	close(p.resultChan)

	p.logger.Info("worker pool stopped")
}

// Submit queues a fetch without blocking.
// Returns false if the queue is full.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobChan <- job:
		p.logger.Debug("fetch queued", "task_id", job.TaskID)
		return true
	default:
		p.logger.Warn("job queue full, fetch dropped", "task_id", job.TaskID)
		return false
	}
}

// Results returns the channel for receiving fetch results.
func (p *Pool) Results() <-chan *Result {
	return p.resultChan
}

// ActiveWorkers returns the number of currently active workers.
func (p *Pool) ActiveWorkers() int {
	return int(p.activeCount.Load())
}
