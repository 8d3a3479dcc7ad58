package application

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voxsend/vox-relay/audit"
	"github.com/voxsend/vox-relay/core/config"
	"github.com/voxsend/vox-relay/pkg/jobworker"
	"github.com/voxsend/vox-relay/scheduler/domain"
)

// Poller is the engine entry point: it claims due jobs on a fixed interval
// and hands each one to the worker pool for dispatch. Any number of poller
// instances may run concurrently against the same store; the claim operation
// is the only coordination between them.
type Poller struct {
	repo       domain.IJobRepository
	dispatcher *Dispatcher
	controller *LifecycleController
	pool       *jobworker.Pool
	sink       audit.Sink
	cfg        config.SchedulerConfig
	serverID   string
}

func NewPoller(
	repo domain.IJobRepository,
	dispatcher *Dispatcher,
	controller *LifecycleController,
	pool *jobworker.Pool,
	sink audit.Sink,
	cfg config.SchedulerConfig,
	serverID string,
) *Poller {
	if sink == nil {
		sink = audit.LogSink{}
	}
	return &Poller{
		repo:       repo,
		dispatcher: dispatcher,
		controller: controller,
		pool:       pool,
		sink:       sink,
		cfg:        cfg,
		serverID:   serverID,
	}
}

// StartLoop launches the background poll loop and the stale-claim sweeper.
func (p *Poller) StartLoop(ctx context.Context) {
	p.pool.Start(ctx)
	logrus.Infof("[SCHEDULER] Poller %s started, interval %s, batch %d", p.serverID, p.cfg.PollInterval, p.cfg.BatchSize)
	go p.runLoop(ctx)
}

func (p *Poller) runLoop(ctx context.Context) {
	// One immediate pass so jobs due in the past are picked up right after a
	// restart instead of waiting out a full interval.
	p.Tick(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	sweepInterval := p.cfg.VisibilityTimeout
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}
	sweeper := time.NewTicker(sweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[SCHEDULER] Poller stopping")
			p.pool.Stop()
			return
		case <-sweeper.C:
			p.Sweep(ctx)
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick claims one batch and dispatches every claimed job. A tick with zero
// eligible jobs is a no-op. One job's failure never prevents the others in
// the batch from being processed.
func (p *Poller) Tick(ctx context.Context) {
	now := time.Now().UTC()
	claimed, err := p.repo.ClaimBatch(ctx, p.cfg.BatchSize, now, p.serverID)
	if err != nil {
		// Store unavailable: nothing was transitioned, simply retry on the
		// next interval.
		logrus.WithError(err).Error("[SCHEDULER] Claim failed, will retry next tick")
		return
	}
	if len(claimed) == 0 {
		return
	}

	logrus.Infof("[SCHEDULER] Claimed %d job(s)", len(claimed))
	for _, job := range claimed {
		job := job
		// The claim is a transition like any other; without this event a
		// job that goes stale mid-flight would have no trace of ever
		// being picked up.
		p.sink.Emit(ctx, audit.Event{
			JobID:      job.ID,
			OwnerID:    job.OwnerID,
			FromStatus: domain.JobStatusScheduled,
			ToStatus:   domain.JobStatusInProgress,
			Attempts:   job.Attempts,
			ClaimedBy:  p.serverID,
			At:         now,
		})
		p.pool.TryDispatch(jobworker.DeliveryJob{
			JobID: job.ID,
			Handler: func(ctx context.Context) error {
				return p.processJob(ctx, job)
			},
		})
		// A job dropped by a full queue stays in_progress and is reclaimed
		// by the sweeper once its claim goes stale.
	}
}

func (p *Poller) processJob(ctx context.Context, job *domain.ScheduledJob) error {
	result := p.dispatcher.Dispatch(ctx, job)
	updated, err := p.controller.ApplyResult(ctx, job, result)
	if err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Failed committing result for job %s", job.ID)
		return err
	}

	logrus.Infof("[SCHEDULER] Job %s -> %s (attempt %d/%d)", updated.ID, updated.Status, updated.Attempts, updated.MaxAttempts)
	return nil
}

// Sweep reclaims jobs stuck in_progress past the visibility timeout.
func (p *Poller) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.cfg.VisibilityTimeout)
	stale, err := p.repo.ListStaleInProgress(ctx, cutoff)
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] Stale-claim sweep failed")
		return
	}

	for _, job := range stale {
		if _, err := p.controller.ReclaimExpired(ctx, job); err != nil {
			if err == domain.ErrJobConflict {
				continue // another sweeper won the race
			}
			logrus.WithError(err).Errorf("[SCHEDULER] Failed reclaiming job %s", job.ID)
		}
	}
}
