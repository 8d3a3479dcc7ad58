package application

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voxsend/vox-relay/audit"
	"github.com/voxsend/vox-relay/scheduler/domain"
)

// LifecycleController owns every post-dispatch state transition. A job
// arrives here exclusively owned (in_progress, claimed by this worker), so
// the commit is a single guarded row update.
type LifecycleController struct {
	repo        domain.IJobRepository
	sink        audit.Sink
	backoffBase time.Duration
}

func NewLifecycleController(repo domain.IJobRepository, sink audit.Sink, backoffBase time.Duration) *LifecycleController {
	if sink == nil {
		sink = audit.LogSink{}
	}
	return &LifecycleController{repo: repo, sink: sink, backoffBase: backoffBase}
}

// ApplyResult commits the outcome of one dispatch:
//   - any channel succeeded            -> delivered (terminal)
//   - all failures permanent           -> failed (terminal, retries are pointless)
//   - retry budget exhausted           -> failed (terminal)
//   - otherwise                        -> scheduled again, with backoff
func (c *LifecycleController) ApplyResult(ctx context.Context, job *domain.ScheduledJob, result DispatchResult) (*domain.ScheduledJob, error) {
	now := time.Now().UTC()
	from := job.Status

	job.Attempts++
	job.LastAttemptAt = &now
	job.ClaimedAt = nil
	job.ClaimedBy = ""

	switch {
	case result.AnySucceeded:
		job.Status = domain.JobStatusDelivered
		job.DeliveredAt = &now
		job.LastError = ""
	case result.AllPermanent():
		job.Status = domain.JobStatusFailed
		job.LastError = result.CombinedError()
	case job.Attempts >= job.MaxAttempts:
		job.Status = domain.JobStatusFailed
		job.LastError = result.CombinedError()
	default:
		job.Status = domain.JobStatusScheduled
		job.LastError = result.CombinedError()
		job.NextAttemptAt = now.Add(c.backoffDelay(job.Attempts))
	}

	if err := c.repo.UpdateGuarded(ctx, job, domain.JobStatusInProgress); err != nil {
		return nil, err
	}

	c.emit(ctx, job, from, job.Status)
	return job, nil
}

// ReclaimExpired handles a job whose claim went stale (worker died between
// claim and commit). The expiry counts as one failed attempt. The guarded
// update makes concurrent sweepers resolve to a single winner.
func (c *LifecycleController) ReclaimExpired(ctx context.Context, job *domain.ScheduledJob) (*domain.ScheduledJob, error) {
	now := time.Now().UTC()
	from := job.Status

	job.Attempts++
	job.LastAttemptAt = &now
	job.LastError = "claim expired: worker did not commit a final transition"
	job.ClaimedAt = nil
	job.ClaimedBy = ""

	if job.Attempts >= job.MaxAttempts {
		job.Status = domain.JobStatusFailed
	} else {
		job.Status = domain.JobStatusScheduled
		job.NextAttemptAt = now.Add(c.backoffDelay(job.Attempts))
	}

	if err := c.repo.UpdateGuarded(ctx, job, domain.JobStatusInProgress); err != nil {
		return nil, err
	}

	logrus.Warnf("[SCHEDULER] Reclaimed stale job %s (attempt %d/%d)", job.ID, job.Attempts, job.MaxAttempts)
	c.emit(ctx, job, from, job.Status)
	return job, nil
}

// backoffDelay grows the retry delay as base*2^(attempts-1). A zero base
// keeps the job eligible on the very next poll tick.
func (c *LifecycleController) backoffDelay(attempts int) time.Duration {
	if c.backoffBase <= 0 {
		return 0
	}
	delay := c.backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

func (c *LifecycleController) emit(ctx context.Context, job *domain.ScheduledJob, from, to domain.JobStatus) {
	c.sink.Emit(ctx, audit.Event{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		FromStatus: from,
		ToStatus:   to,
		Attempts:   job.Attempts,
		Error:      job.LastError,
		At:         time.Now().UTC(),
	})
}
