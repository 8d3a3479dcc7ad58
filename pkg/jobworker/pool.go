// Package jobworker provides the bounded worker pool that processes
// claimed delivery jobs in parallel within a poll tick.
package jobworker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DeliveryJob is one claimed job handed to the pool. Claimed jobs are
// independent, so any idle worker may take any job.
type DeliveryJob struct {
	JobID   string
	Handler func(ctx context.Context) error
}

// PoolStats contains live metrics for the pool.
type PoolStats struct {
	NumWorkers      int   `json:"num_workers"`
	QueueSize       int   `json:"queue_size"`
	QueueDepth      int   `json:"queue_depth"`
	ActiveWorkers   int   `json:"active_workers"`
	TotalDispatched int64 `json:"total_dispatched"`
	TotalProcessed  int64 `json:"total_processed"`
	TotalDropped    int64 `json:"total_dropped"`
	TotalErrors     int64 `json:"total_errors"`
}

// Pool runs delivery handlers on a fixed set of workers fed by one shared
// queue. Dispatch never blocks the poller: when the queue is full the job is
// dropped here and picked up again on a later tick once its claim goes stale.
type Pool struct {
	numWorkers int
	queue      chan DeliveryJob
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32

	activeWorkers   int32
	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
	startTime       time.Time
}

// NewPool creates a delivery worker pool.
func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queue:      make(chan DeliveryJob, queueSize),
		startTime:  time.Now(),
	}
}

// Start launches all workers. They exit when ctx is cancelled or the queue
// is closed by Stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	logrus.Infof("[JOB_WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, cap(p.queue))
}

// TryDispatch enqueues a job without blocking, reporting whether it fit.
func (p *Pool) TryDispatch(job DeliveryJob) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}
	atomic.AddInt64(&p.totalDispatched, 1)

	sent := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.queue <- job:
			return true
		default:
			return false
		}
	}()
	if sent {
		return true
	}

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[JOB_WORKER_POOL] Queue full (or stopped), dropping job %s", job.JobID)
	return false
}

// Stop drains the queue and waits for in-flight handlers to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		close(p.queue)
		logrus.Info("[JOB_WORKER_POOL] Stopping workers...")
		p.wg.Wait()
		logrus.Info("[JOB_WORKER_POOL] All workers stopped")
	})
}

// GetStats returns a snapshot of pool metrics.
func (p *Pool) GetStats() PoolStats {
	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       cap(p.queue),
		QueueDepth:      len(p.queue),
		ActiveWorkers:   int(atomic.LoadInt32(&p.activeWorkers)),
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logrus.Debugf("[JOB_WORKER_POOL] Worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			logrus.Debugf("[JOB_WORKER_POOL] Worker %d cancelled", id)
			return
		case job, ok := <-p.queue:
			if !ok {
				logrus.Debugf("[JOB_WORKER_POOL] Worker %d shutting down", id)
				return
			}
			p.process(ctx, id, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, id int, job DeliveryJob) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer func() {
		atomic.AddInt32(&p.activeWorkers, -1)
		atomic.AddInt64(&p.totalProcessed, 1)
		if r := recover(); r != nil {
			atomic.AddInt64(&p.totalErrors, 1)
			logrus.Errorf("[JOB_WORKER_POOL] Worker %d panic on job %s: %v", id, job.JobID, r)
		}
	}()

	if err := job.Handler(ctx); err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
		logrus.WithError(err).Debugf("[JOB_WORKER_POOL] Worker %d job %s finished with error", id, job.JobID)
	}
}
