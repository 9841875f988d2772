package worker

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"modalhub/internal/logging"
)

// Config sizes a Dispatcher.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type sessionQueue struct {
	jobs []Job
}

// Dispatcher hands jobs to the worker pool one session at a time, so a session
// with many pending jobs cannot starve the others. At most one job per session
// runs at any moment.
type Dispatcher struct {
	pool      *jobChannelPool
	queueSize int
	logger    *logging.Logger
	notify    chan struct{}

	mu        sync.Mutex
	pending   int
	queues    map[string]*sessionQueue // pending jobs per session
	ready     *list.List               // LRU queue of session keys
	positions map[string]*list.Element
	running   map[string]struct{}

	quit     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg Config, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		queueSize: queueSize,
		logger:    logger.Named("dispatcher"),
		notify:    make(chan struct{}, 1),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		running:   make(map[string]struct{}),
		quit:      make(chan struct{}),
	}
	d.pool.warmUp()
	go d.run()
	return d
}

// Submit queues fn under key and waits for it to finish. It fails fast with
// ErrDispatcherBusy when the queue is full; fn is skipped if ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, key string, fn func(ctx context.Context)) error {
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	job := Job{typ: jobRun, key: key, ctx: ctx, run: fn, done: make(chan error, 1)}
	if !d.enqueueJob(job) {
		return ErrDispatcherBusy
	}
	select {
	case d.notify <- struct{}{}:
	default:
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return ErrDispatcherStopped
	}
}

// Cancel drops the jobs still queued for key.
func (d *Dispatcher) Cancel(key string) {
	d.mu.Lock()
	q := d.queues[key]
	if q != nil {
		d.pending -= len(q.jobs)
		delete(d.queues, key)
	}
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
	d.mu.Unlock()

	if q == nil {
		return
	}
	for _, job := range q.jobs {
		job.done <- ErrJobCanceled
	}
}

// Stop shuts the pool down. Jobs still waiting return ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

// Workers reports how many pool workers are alive.
func (d *Dispatcher) Workers() int {
	return d.pool.size()
}

// Pending reports how many jobs wait in the session queues.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Dispatcher) run() {
	for {
		job, ok := d.next()
		if !ok {
			select {
			case <-d.notify:
			case <-d.quit:
				return
			}
			continue
		}
		ch, ok := d.pool.acquire()
		if !ok {
			return
		}
		d.logger.Debug(logging.WithSessionID(job.ctx, job.key), "job assigned", zap.Int("workers", d.pool.size()))
		key := job.key
		job.finish = func() { d.finish(key) }
		ch <- job
	}
}

func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	delete(d.running, key)
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) enqueueJob(job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending >= d.queueSize {
		return false
	}
	d.pending++
	q := d.queues[job.key]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.key] = q
	}
	q.jobs = append(q.jobs, job)
	if _, ok := d.positions[job.key]; !ok {
		d.positions[job.key] = d.ready.PushBack(job.key)
	}
	return true
}

// next pops one job of the least recently served session that has nothing in
// flight, and moves that session to the back.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for elem := d.ready.Front(); elem != nil; elem = elem.Next() {
		key := elem.Value.(string)
		if _, busy := d.running[key]; busy {
			continue
		}
		q := d.queues[key]
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		d.pending--
		d.running[key] = struct{}{}
		if len(q.jobs) == 0 {
			delete(d.queues, key)
			d.ready.Remove(elem)
			delete(d.positions, key)
		} else {
			d.ready.MoveToBack(elem)
		}
		return job, true
	}
	return Job{}, false
}
