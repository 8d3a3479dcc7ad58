package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/voxsend/vox-relay/scheduler/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Model ---

type jobModel struct {
	ID                 string         `gorm:"primaryKey;column:id"`
	OwnerID            string         `gorm:"column:owner_id;not null;index"`
	ContentRef         string         `gorm:"column:content_ref;not null"`
	RecipientContactID sql.NullString `gorm:"column:recipient_contact_id"`
	RecipientEmail     sql.NullString `gorm:"column:recipient_email"`
	RecipientPhone     sql.NullString `gorm:"column:recipient_phone"`
	Channels           string         `gorm:"column:channels;not null"` // CSV: "email,sms"
	ScheduledFor       time.Time      `gorm:"column:scheduled_for;not null;index"`
	NextAttemptAt      time.Time      `gorm:"column:next_attempt_at;not null;index"`
	Status             string         `gorm:"column:status;default:'scheduled';index"`
	Attempts           int            `gorm:"column:attempts;default:0"`
	MaxAttempts        int            `gorm:"column:max_attempts;not null"`
	LastAttemptAt      *time.Time     `gorm:"column:last_attempt_at"`
	DeliveredAt        *time.Time     `gorm:"column:delivered_at"`
	LastError          sql.NullString `gorm:"column:last_error"`
	ClaimedAt          *time.Time     `gorm:"column:claimed_at;index"`
	ClaimedBy          sql.NullString `gorm:"column:claimed_by"`
	Metadata           sql.NullString `gorm:"column:metadata"` // JSON
	CreatedAt          time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;not null"`
}

func (jobModel) TableName() string { return "scheduled_jobs" }

func toModel(j *domain.ScheduledJob) *jobModel {
	m := &jobModel{
		ID:            j.ID,
		OwnerID:       j.OwnerID,
		ContentRef:    j.ContentRef,
		Channels:      joinChannels(j.Channels),
		ScheduledFor:  j.ScheduledFor.UTC(),
		NextAttemptAt: j.NextAttemptAt.UTC(),
		Status:        string(j.Status),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		LastAttemptAt: j.LastAttemptAt,
		DeliveredAt:   j.DeliveredAt,
		ClaimedAt:     j.ClaimedAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	m.RecipientContactID = nullString(j.Recipient.ContactID)
	m.RecipientEmail = nullString(j.Recipient.Email)
	m.RecipientPhone = nullString(j.Recipient.Phone)
	m.LastError = nullString(j.LastError)
	m.ClaimedBy = nullString(j.ClaimedBy)
	if len(j.Metadata) > 0 {
		if raw, err := json.Marshal(j.Metadata); err == nil {
			m.Metadata = sql.NullString{String: string(raw), Valid: true}
		}
	}
	return m
}

func toDomain(m *jobModel) *domain.ScheduledJob {
	j := &domain.ScheduledJob{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		ContentRef: m.ContentRef,
		Recipient: domain.Recipient{
			ContactID: m.RecipientContactID.String,
			Email:     m.RecipientEmail.String,
			Phone:     m.RecipientPhone.String,
		},
		Channels:      splitChannels(m.Channels),
		ScheduledFor:  m.ScheduledFor,
		NextAttemptAt: m.NextAttemptAt,
		Status:        domain.JobStatus(m.Status),
		Attempts:      m.Attempts,
		MaxAttempts:   m.MaxAttempts,
		LastAttemptAt: m.LastAttemptAt,
		DeliveredAt:   m.DeliveredAt,
		LastError:     m.LastError.String,
		ClaimedAt:     m.ClaimedAt,
		ClaimedBy:     m.ClaimedBy.String,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.Metadata.Valid && m.Metadata.String != "" {
		_ = json.Unmarshal([]byte(m.Metadata.String), &j.Metadata)
	}
	return j
}

func joinChannels(channels []domain.Channel) string {
	parts := make([]string, 0, len(channels))
	for _, ch := range channels {
		parts = append(parts, string(ch))
	}
	return strings.Join(parts, ",")
}

func splitChannels(raw string) []domain.Channel {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	channels := make([]domain.Channel, 0, len(parts))
	for _, p := range parts {
		channels = append(channels, domain.Channel(strings.TrimSpace(p)))
	}
	return channels
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// --- Repository Implementation ---

type JobGormRepository struct {
	db *gorm.DB
}

func NewJobGormRepository(db *gorm.DB) *JobGormRepository {
	return &JobGormRepository{db: db}
}

func (r *JobGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&jobModel{})
}

func (r *JobGormRepository) Create(ctx context.Context, job *domain.ScheduledJob) error {
	return r.db.WithContext(ctx).Create(toModel(job)).Error
}

func (r *JobGormRepository) GetByID(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	var m jobModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return toDomain(&m), nil
}

func (r *JobGormRepository) List(ctx context.Context, filter domain.JobFilter) ([]*domain.ScheduledJob, error) {
	q := r.db.WithContext(ctx).Model(&jobModel{})
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []jobModel
	if err := q.Order("scheduled_for ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	jobs := make([]*domain.ScheduledJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, toDomain(&models[i]))
	}
	return jobs, nil
}

// UpdateGuarded writes the full row only while the stored status is one of
// allowedFrom. The status predicate makes every caller race-safe: a Cancel
// racing with a claim, or two sweepers reclaiming the same stale job, resolves
// to exactly one winner.
func (r *JobGormRepository) UpdateGuarded(ctx context.Context, job *domain.ScheduledJob, allowedFrom ...domain.JobStatus) error {
	if len(allowedFrom) == 0 {
		return domain.ErrInvalidTransition
	}
	from := make([]string, 0, len(allowedFrom))
	for _, s := range allowedFrom {
		from = append(from, string(s))
	}

	job.UpdatedAt = time.Now().UTC()
	m := toModel(job)

	res := r.db.WithContext(ctx).
		Model(&jobModel{}).
		Where("id = ? AND status IN ?", job.ID, from).
		Select("*").
		Omit("id", "created_at").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish "gone" from "moved".
		var count int64
		if err := r.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrJobNotFound
		}
		return domain.ErrJobConflict
	}
	return nil
}

// ClaimBatch selects due scheduled jobs and flips them to in_progress in one
// transaction. On Postgres the select takes row locks with SKIP LOCKED so
// concurrent pollers pass over each other's candidates instead of blocking.
// On SQLite the single-connection pool serializes claimers, and the guarded
// UPDATE keeps the operation correct regardless.
func (r *JobGormRepository) ClaimBatch(ctx context.Context, limit int, now time.Time, claimedBy string) ([]*domain.ScheduledJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()

	var claimed []*domain.ScheduledJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&jobModel{}).
			Where("status = ?", string(domain.JobStatusScheduled)).
			Where("scheduled_for <= ?", now).
			Where("next_attempt_at <= ?", now).
			Where("attempts < max_attempts").
			Order("scheduled_for ASC, id ASC").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []jobModel
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		ids := make([]string, 0, len(candidates))
		for i := range candidates {
			ids = append(ids, candidates[i].ID)
		}

		res := tx.Model(&jobModel{}).
			Where("id IN ? AND status = ?", ids, string(domain.JobStatusScheduled)).
			Updates(map[string]any{
				"status":     string(domain.JobStatusInProgress),
				"claimed_at": now,
				"claimed_by": claimedBy,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}

		for i := range candidates {
			job := toDomain(&candidates[i])
			job.Status = domain.JobStatusInProgress
			job.ClaimedAt = &now
			job.ClaimedBy = claimedBy
			job.UpdatedAt = now
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *JobGormRepository) ListStaleInProgress(ctx context.Context, cutoff time.Time) ([]*domain.ScheduledJob, error) {
	var models []jobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", string(domain.JobStatusInProgress), cutoff.UTC()).
		Order("claimed_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	jobs := make([]*domain.ScheduledJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, toDomain(&models[i]))
	}
	return jobs, nil
}
