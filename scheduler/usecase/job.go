package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/voxsend/vox-relay/audit"
	pkgError "github.com/voxsend/vox-relay/pkg/error"
	"github.com/voxsend/vox-relay/scheduler/domain"
	"github.com/voxsend/vox-relay/validations"
)

// CreateJobRequest is the user-facing delivery request.
type CreateJobRequest struct {
	OwnerID      string           `json:"owner_id"`
	ContentRef   string           `json:"content_ref"`
	Recipient    domain.Recipient `json:"recipient"`
	Channels     []domain.Channel `json:"channels"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

// UpdateJobRequest mutates a job that has not started processing. Nil
// fields are left untouched.
type UpdateJobRequest struct {
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	Channels     []domain.Channel  `json:"channels,omitempty"`
	Status       *domain.JobStatus `json:"status,omitempty"` // scheduled <-> paused only
}

// JobUsecase is the CRUD surface over the job store consumed by the REST
// layer; the engine itself only goes through the repository.
type JobUsecase struct {
	repo        domain.IJobRepository
	sink        audit.Sink
	maxAttempts int
}

func NewJobUsecase(repo domain.IJobRepository, sink audit.Sink, maxAttempts int) *JobUsecase {
	if sink == nil {
		sink = audit.LogSink{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &JobUsecase{repo: repo, sink: sink, maxAttempts: maxAttempts}
}

// CreateJob validates and persists a new delivery job in status scheduled.
// scheduledFor may be in the past; such a job is claimed on the next tick.
func (uc *JobUsecase) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.ScheduledJob, error) {
	if err := validations.ValidateCreateJob(ctx, req.OwnerID, req.ContentRef, req.Recipient, req.Channels); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scheduledFor := req.ScheduledFor.UTC()
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	job := &domain.ScheduledJob{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		ContentRef:    req.ContentRef,
		Recipient:     req.Recipient,
		Channels:      req.Channels,
		ScheduledFor:  scheduledFor,
		NextAttemptAt: scheduledFor,
		Status:        domain.JobStatusScheduled,
		MaxAttempts:   uc.maxAttempts,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := uc.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	logrus.Infof("[JOBS] Created job %s for owner %s, due %s", job.ID, job.OwnerID, job.ScheduledFor)
	return job, nil
}

func (uc *JobUsecase) GetJob(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	job, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, pkgError.NotFoundError("job not found: " + id)
		}
		return nil, err
	}
	return job, nil
}

func (uc *JobUsecase) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.ScheduledJob, error) {
	return uc.repo.List(ctx, filter)
}

// UpdateJob is allowed only while the job is scheduled or paused. Anything
// later is a conflict: the engine may already be processing it.
func (uc *JobUsecase) UpdateJob(ctx context.Context, id string, req UpdateJobRequest) (*domain.ScheduledJob, error) {
	job, err := uc.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusScheduled && job.Status != domain.JobStatusPaused {
		return nil, pkgError.ConflictError("job can no longer be updated in status " + string(job.Status))
	}

	from := job.Status

	if req.ScheduledFor != nil {
		job.ScheduledFor = req.ScheduledFor.UTC()
		job.NextAttemptAt = job.ScheduledFor
	}
	if len(req.Channels) > 0 {
		if err := validations.ValidateRecipientForChannels(ctx, job.Recipient, req.Channels); err != nil {
			return nil, err
		}
		job.Channels = req.Channels
	}
	if req.Status != nil {
		switch *req.Status {
		case domain.JobStatusScheduled, domain.JobStatusPaused:
			if !domain.CanTransition(job.Status, *req.Status) && job.Status != *req.Status {
				return nil, pkgError.ConflictError("cannot move job from " + string(job.Status) + " to " + string(*req.Status))
			}
			job.Status = *req.Status
		default:
			return nil, pkgError.ValidationError("status may only be set to scheduled or paused")
		}
	}

	if err := uc.repo.UpdateGuarded(ctx, job, domain.JobStatusScheduled, domain.JobStatusPaused); err != nil {
		return nil, uc.mapConflict(err)
	}

	if from != job.Status {
		uc.emit(ctx, job, from, job.Status)
	}
	return job, nil
}

// PauseJob takes a scheduled job out of the claimable set.
func (uc *JobUsecase) PauseJob(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	return uc.userTransition(ctx, id, domain.JobStatusPaused, domain.JobStatusScheduled)
}

// ResumeJob returns a paused job to the claimable set.
func (uc *JobUsecase) ResumeJob(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	return uc.userTransition(ctx, id, domain.JobStatusScheduled, domain.JobStatusPaused)
}

// CancelJob is accepted only while the job is scheduled or paused. A job
// already claimed, delivered or failed is rejected with a conflict. The
// current status is re-checked atomically by the guarded update, so a cancel
// racing a claim never silently wins.
func (uc *JobUsecase) CancelJob(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	return uc.userTransition(ctx, id, domain.JobStatusCancelled, domain.JobStatusScheduled, domain.JobStatusPaused)
}

func (uc *JobUsecase) userTransition(ctx context.Context, id string, to domain.JobStatus, allowedFrom ...domain.JobStatus) (*domain.ScheduledJob, error) {
	job, err := uc.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, s := range allowedFrom {
		if job.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, pkgError.ConflictError("job in status " + string(job.Status) + " cannot move to " + string(to))
	}

	from := job.Status
	job.Status = to
	if err := uc.repo.UpdateGuarded(ctx, job, allowedFrom...); err != nil {
		return nil, uc.mapConflict(err)
	}

	uc.emit(ctx, job, from, to)
	logrus.Infof("[JOBS] Job %s: %s -> %s", job.ID, from, to)
	return job, nil
}

func (uc *JobUsecase) mapConflict(err error) error {
	if errors.Is(err, domain.ErrJobConflict) {
		return pkgError.ConflictError("job was modified concurrently, reload and retry")
	}
	if errors.Is(err, domain.ErrJobNotFound) {
		return pkgError.NotFoundError("job not found")
	}
	return err
}

func (uc *JobUsecase) emit(ctx context.Context, job *domain.ScheduledJob, from, to domain.JobStatus) {
	uc.sink.Emit(ctx, audit.Event{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		FromStatus: from,
		ToStatus:   to,
		Attempts:   job.Attempts,
		Error:      job.LastError,
		At:         time.Now().UTC(),
	})
}
