// ============================================================================
// deadlock-sim Worker - Simulation Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Runs simulation jobs, each Worker in an independent goroutine
//
// How it works:
//   1. Receive job from taskCh (blocking wait)
//   2. Run the simulation under a per-job timeout context
//   3. Send result to resultCh
//   4. Repeat until taskCh is closed
//
// Timeout Control:
//   - Each job gets its own context derived from the pool context
//   - The scheduler checks ctx.Err() once per cycle, so a runaway trace
//     stops with context.DeadlineExceeded
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

// Worker represents a work execution unit
type Worker struct {
	id       int             // Worker unique identifier, used for logging
	ctx      context.Context // Parent of every job context
	run      RunFunc         // Runs one simulation
	taskCh   <-chan Job      // Job channel (read-only)
	resultCh chan<- Result   // Result channel (write-only)
	logger   *slog.Logger
}

// newWorker creates a new Worker instance
func newWorker(ctx context.Context, id int, run RunFunc, taskCh <-chan Job, resultCh chan<- Result) *Worker {
	return &Worker{
		id:       id,
		ctx:      ctx,
		run:      run,
		taskCh:   taskCh,
		resultCh: resultCh,
		logger:   slog.Default().With("component", "worker", "worker_id", id),
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for job := range w.taskCh {
		start := time.Now()

		ctx, cancel := w.jobContext(job)
		run, err := w.execute(ctx, job)
		cancel()

		result := Result{
			JobID:    job.ID,
			Index:    job.Index,
			Run:      run,
			Err:      err,
			Duration: time.Since(start),
		}
		if err != nil {
			w.logger.Warn("Job failed", "job", job.ID, "error", err)
		} else {
			w.logger.Debug("Job finished", "job", job.ID, "duration", result.Duration)
		}

		// resultCh is sized by the caller; every result must be delivered
		w.resultCh <- result
	}
}

func (w *Worker) jobContext(job Job) (context.Context, context.CancelFunc) {
	if job.Timeout > 0 {
		return context.WithTimeout(w.ctx, job.Timeout)
	}
	return context.WithCancel(w.ctx)
}

// execute runs one job and converts a panic into an error
func (w *Worker) execute(ctx context.Context, job Job) (res *types.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.run(ctx, job)
}
