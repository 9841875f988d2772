// Package worker runs generation jobs on an elastic goroutine pool, rotating
// fairly between sessions.
package worker

import (
	"context"
	"errors"
)

// ErrDispatcherBusy is returned when the job queue is full.
var ErrDispatcherBusy = errors.New("dispatcher busy")

// ErrDispatcherStopped is returned for jobs submitted after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// ErrJobCanceled is returned for queued jobs dropped by Cancel.
var ErrJobCanceled = errors.New("job canceled")

type jobType int

const (
	jobRun jobType = iota
	jobStop
)

// Job is one unit of work owned by a session.
type Job struct {
	typ  jobType
	key  string
	ctx  context.Context
	run  func(ctx context.Context)
	done chan error
	// finish is called once the job has run or been skipped
	finish func()
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

// Start parks the worker in the idle list and serves jobs until it is told to
// stop or the pool closes.
func (w *Worker) Start() {
	go func() {
		if !w.pool.Release(w.jobChannel) {
			return
		}
		for job := range w.jobChannel {
			if job.typ == jobStop {
				return
			}
			// skip jobs whose caller already gave up
			err := job.ctx.Err()
			if err == nil {
				job.run(job.ctx)
			}
			if job.finish != nil {
				job.finish()
			}
			job.done <- err
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}
