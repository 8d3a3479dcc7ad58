package domain

import (
	"context"
	"time"
)

// JobFilter narrows ListJobs results. Zero values mean "no filter".
type JobFilter struct {
	OwnerID string
	Status  JobStatus
	Limit   int
	Offset  int
}

// IJobRepository is the durable job store. It is the only shared mutable
// resource in the engine; ClaimBatch is the single coordination primitive.
type IJobRepository interface {
	Init(ctx context.Context) error

	Create(ctx context.Context, job *ScheduledJob) error
	GetByID(ctx context.Context, id string) (*ScheduledJob, error)
	List(ctx context.Context, filter JobFilter) ([]*ScheduledJob, error)

	// UpdateGuarded persists the job only while its stored status is one of
	// allowedFrom, in a single atomic statement. Returns ErrJobConflict when
	// another actor moved the job first.
	UpdateGuarded(ctx context.Context, job *ScheduledJob, allowedFrom ...JobStatus) error

	// ClaimBatch atomically selects up to limit eligible jobs (earliest due
	// first, ties by id) and marks them in_progress for claimedBy. Rows locked
	// by a concurrent claimer are skipped, never waited on. An empty result is
	// not an error.
	ClaimBatch(ctx context.Context, limit int, now time.Time, claimedBy string) ([]*ScheduledJob, error)

	// ListStaleInProgress returns jobs claimed before cutoff whose worker
	// presumably died without committing a final transition.
	ListStaleInProgress(ctx context.Context, cutoff time.Time) ([]*ScheduledJob, error)
}
