package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tuanbt/hivestream/internal/task"
)

// Fetcher loads one task snapshot. *client.Client satisfies it.
type Fetcher interface {
	GetTask(ctx context.Context, id int64) (task.Snapshot, error)
}

// Job asks for the snapshot of one task.
type Job struct {
	TaskID int64
}

// Result is the outcome of one Job.
type Result struct {
	TaskID   int64
	Snapshot task.Snapshot
	Err      error
	Duration time.Duration
}

// Worker pulls jobs until the queue closes or the context ends.
type Worker struct {
	ID      int
	fetcher Fetcher
	jobs    <-chan Job
	results chan<- *Result
	logger  *slog.Logger
}

// New creates a worker.
func New(id int, fetcher Fetcher, jobs <-chan Job, results chan<- *Result, logger *slog.Logger) *Worker {
	return &Worker{
		ID:      id,
		fetcher: fetcher,
		jobs:    jobs,
		results: results,
		logger:  logger.With("worker_id", id),
	}
}

// Start runs the worker loop. It returns ctx.Err() when cancelled and nil
// when the job queue is closed.
func (w *Worker) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-w.jobs:
			if !ok {
				return nil
			}
			res := w.fetch(ctx, job)
			select {
			case w.results <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *Worker) fetch(ctx context.Context, job Job) *Result {
	start := time.Now()
	snap, err := w.fetcher.GetTask(ctx, job.TaskID)
	res := &Result{
		TaskID:   job.TaskID,
		Snapshot: snap,
		Err:      err,
		Duration: time.Since(start),
	}
	if err != nil {
		w.logger.Warn("snapshot fetch failed", "task_id", job.TaskID, "error", err)
	} else {
		w.logger.Debug("snapshot fetched", "task_id", job.TaskID, "duration_ms", res.Duration.Milliseconds())
	}
	return res
}
