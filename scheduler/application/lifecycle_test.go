package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxsend/vox-relay/channels"
	"github.com/voxsend/vox-relay/scheduler/domain"
	"github.com/voxsend/vox-relay/scheduler/repository"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// --- test doubles ---

type stubResolver struct {
	url string
	err error
}

func (s stubResolver) ResolveURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return s.url, s.err
}

type stubSender struct {
	err   error
	calls int
	last  channels.Message
}

func (s *stubSender) Send(_ context.Context, msg channels.Message) error {
	s.calls++
	s.last = msg
	return s.err
}

func setupRepo(t *testing.T) domain.IJobRepository {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := repository.NewJobGormRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func seedJob(t *testing.T, repo domain.IJobRepository, channelSet ...domain.Channel) *domain.ScheduledJob {
	now := time.Now().UTC()
	job := &domain.ScheduledJob{
		ID:         "job-" + time.Now().Format("150405.000000000"),
		OwnerID:    "owner-1",
		ContentRef: "voice-notes/hello.ogg",
		Recipient: domain.Recipient{
			Email: "dest@example.com",
			Phone: "+15550002222",
		},
		Channels:      channelSet,
		ScheduledFor:  now.Add(-time.Minute),
		NextAttemptAt: now.Add(-time.Minute),
		Status:        domain.JobStatusScheduled,
		MaxAttempts:   3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func newDispatcher(resolver stubResolver, senders map[domain.Channel]channels.Sender) *Dispatcher {
	limiters := map[domain.Channel]*rate.Limiter{
		domain.ChannelEmail: rate.NewLimiter(rate.Inf, 1),
		domain.ChannelSMS:   rate.NewLimiter(rate.Inf, 1),
	}
	return NewDispatcher(resolver, senders, limiters, time.Hour, 5*time.Second)
}

// --- dispatcher ---

func TestDispatch_SingleChannelSuccess(t *testing.T) {
	email := &stubSender{}
	d := newDispatcher(
		stubResolver{url: "https://cdn.example.com/signed/hello.ogg"},
		map[domain.Channel]channels.Sender{domain.ChannelEmail: email},
	)

	job := &domain.ScheduledJob{
		Recipient: domain.Recipient{Email: "dest@example.com"},
		Channels:  []domain.Channel{domain.ChannelEmail},
	}

	result := d.Dispatch(context.Background(), job)

	assert.True(t, result.AnySucceeded)
	assert.NoError(t, result.PerChannel[domain.ChannelEmail])
	assert.Equal(t, 1, email.calls)
	assert.Equal(t, "https://cdn.example.com/signed/hello.ogg", email.last.ArtifactURL)
	assert.Equal(t, "dest@example.com", email.last.Destination)
}

func TestDispatch_BothChannelsAttemptedDespiteFailure(t *testing.T) {
	email := &stubSender{err: errors.New("smtp unavailable")}
	sms := &stubSender{}
	d := newDispatcher(
		stubResolver{url: "https://cdn.example.com/x"},
		map[domain.Channel]channels.Sender{
			domain.ChannelEmail: email,
			domain.ChannelSMS:   sms,
		},
	)

	job := &domain.ScheduledJob{
		Recipient: domain.Recipient{Email: "dest@example.com", Phone: "+15550002222"},
		Channels:  []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
	}

	result := d.Dispatch(context.Background(), job)

	assert.True(t, result.AnySucceeded, "sms success must count even when email fails")
	assert.Error(t, result.PerChannel[domain.ChannelEmail])
	assert.NoError(t, result.PerChannel[domain.ChannelSMS])
	assert.Equal(t, 1, email.calls)
	assert.Equal(t, 1, sms.calls)
}

func TestDispatch_MissingDestinationIsPermanent(t *testing.T) {
	d := newDispatcher(
		stubResolver{url: "https://cdn.example.com/x"},
		map[domain.Channel]channels.Sender{domain.ChannelSMS: &stubSender{}},
	)

	job := &domain.ScheduledJob{
		Recipient: domain.Recipient{Email: "dest@example.com"}, // no phone
		Channels:  []domain.Channel{domain.ChannelSMS},
	}

	result := d.Dispatch(context.Background(), job)

	assert.False(t, result.AnySucceeded)
	assert.True(t, channels.IsPermanent(result.PerChannel[domain.ChannelSMS]))
	assert.True(t, result.AllPermanent())
}

func TestDispatch_CombinedErrorFollowsChannelOrder(t *testing.T) {
	d := newDispatcher(
		stubResolver{url: "https://cdn.example.com/x"},
		map[domain.Channel]channels.Sender{
			domain.ChannelEmail: &stubSender{err: errors.New("smtp unavailable")},
			domain.ChannelSMS:   &stubSender{err: errors.New("gateway timeout")},
		},
	)

	job := &domain.ScheduledJob{
		Recipient: domain.Recipient{Email: "dest@example.com", Phone: "+15550002222"},
		Channels:  []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
	}

	result := d.Dispatch(context.Background(), job)
	want := "email: smtp unavailable; sms: gateway timeout"
	assert.Equal(t, want, result.CombinedError())
	assert.Equal(t, want, result.CombinedError(), "diagnostics must be stable across calls")
}

func TestDispatch_ResolverFailureIsTransient(t *testing.T) {
	email := &stubSender{}
	d := newDispatcher(
		stubResolver{err: errors.New("presign failed")},
		map[domain.Channel]channels.Sender{domain.ChannelEmail: email},
	)

	job := &domain.ScheduledJob{
		Recipient: domain.Recipient{Email: "dest@example.com"},
		Channels:  []domain.Channel{domain.ChannelEmail},
	}

	result := d.Dispatch(context.Background(), job)

	assert.False(t, result.AnySucceeded)
	assert.Error(t, result.PerChannel[domain.ChannelEmail])
	assert.False(t, result.AllPermanent(), "a broken resolver must stay retryable")
	assert.Equal(t, 0, email.calls, "no send without a valid link")
}

// --- lifecycle controller ---

func TestLifecycle_SuccessfulDelivery(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	seeded := seedJob(t, repo, domain.ChannelEmail)

	email := &stubSender{}
	d := newDispatcher(
		stubResolver{url: "https://cdn.example.com/x"},
		map[domain.Channel]channels.Sender{domain.ChannelEmail: email},
	)
	controller := NewLifecycleController(repo, nil, 0)

	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC(), "worker-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	result := d.Dispatch(ctx, claimed[0])
	_, err = controller.ApplyResult(ctx, claimed[0], result)
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDelivered, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.DeliveredAt)
	assert.Empty(t, stored.LastError)
	assert.Nil(t, stored.ClaimedAt)
}

func TestLifecycle_TransientFailuresExhaustRetryBudget(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	seeded := seedJob(t, repo, domain.ChannelSMS)

	sms := &stubSender{err: errors.New("gateway timeout")}
	d := newDispatcher(
		stubResolver{url: "https://cdn.example.com/x"},
		map[domain.Channel]channels.Sender{domain.ChannelSMS: sms},
	)
	// Zero backoff: job is due again immediately after each failure.
	controller := NewLifecycleController(repo, nil, 0)

	wantStatus := []domain.JobStatus{
		domain.JobStatusScheduled,
		domain.JobStatusScheduled,
		domain.JobStatusFailed,
	}
	for tick, want := range wantStatus {
		claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC(), "worker-a")
		require.NoError(t, err)
		require.Len(t, claimed, 1, "tick %d must claim the job again", tick+1)

		result := d.Dispatch(ctx, claimed[0])
		_, err = controller.ApplyResult(ctx, claimed[0], result)
		require.NoError(t, err)

		stored, err := repo.GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, want, stored.Status, "after tick %d", tick+1)
		assert.Equal(t, tick+1, stored.Attempts)
		assert.Contains(t, stored.LastError, "gateway timeout")
	}

	// Exhausted job never comes back.
	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC(), "worker-a")
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestLifecycle_PermanentFailureSkipsRetries(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	seeded := seedJob(t, repo, domain.ChannelEmail)

	email := &stubSender{err: channels.Permanent(errors.New("recipient address rejected"))}
	d := newDispatcher(
		stubResolver{url: "https://cdn.example.com/x"},
		map[domain.Channel]channels.Sender{domain.ChannelEmail: email},
	)
	controller := NewLifecycleController(repo, nil, time.Minute)

	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC(), "worker-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = controller.ApplyResult(ctx, claimed[0], d.Dispatch(ctx, claimed[0]))
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts, "permanent failures must not burn the retry budget")
}

func TestLifecycle_BackoffDelaysNextAttempt(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	seeded := seedJob(t, repo, domain.ChannelEmail)

	email := &stubSender{err: errors.New("temporarily unavailable")}
	d := newDispatcher(
		stubResolver{url: "https://cdn.example.com/x"},
		map[domain.Channel]channels.Sender{domain.ChannelEmail: email},
	)
	controller := NewLifecycleController(repo, nil, time.Minute)

	before := time.Now().UTC()
	claimed, err := repo.ClaimBatch(ctx, 10, before, "worker-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = controller.ApplyResult(ctx, claimed[0], d.Dispatch(ctx, claimed[0]))
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, stored.Status)
	assert.False(t, stored.NextAttemptAt.Before(before.Add(time.Minute)),
		"first retry must wait at least the base backoff")

	// Not claimable until the backoff elapses.
	claimed, err = repo.ClaimBatch(ctx, 10, time.Now().UTC(), "worker-a")
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestLifecycle_ReclaimExpiredClaim(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	seeded := seedJob(t, repo, domain.ChannelEmail)
	controller := NewLifecycleController(repo, nil, 0)

	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC(), "worker-dead")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	reclaimed, err := controller.ReclaimExpired(ctx, claimed[0])
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, reclaimed.Status)
	assert.Equal(t, 1, reclaimed.Attempts, "an expired claim costs one attempt")

	stored, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, stored.Status)
	assert.Nil(t, stored.ClaimedAt)
	assert.Contains(t, stored.LastError, "claim expired")

	// A second sweeper working from the same snapshot loses the race.
	_, err = controller.ReclaimExpired(ctx, claimed[0])
	assert.ErrorIs(t, err, domain.ErrJobConflict)
}
