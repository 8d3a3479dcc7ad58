package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxsend/vox-relay/audit"
	"github.com/voxsend/vox-relay/channels"
	"github.com/voxsend/vox-relay/core/config"
	"github.com/voxsend/vox-relay/pkg/jobworker"
	"github.com/voxsend/vox-relay/scheduler/domain"
)

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(_ context.Context, event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) snapshot() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func newTestPoller(t *testing.T, repo domain.IJobRepository, senders map[domain.Channel]channels.Sender, sink audit.Sink, visibilityTimeout time.Duration) (*Poller, *jobworker.Pool) {
	cfg := config.SchedulerConfig{
		PollInterval:      time.Minute,
		BatchSize:         10,
		MaxAttempts:       3,
		VisibilityTimeout: visibilityTimeout,
		SendTimeout:       5 * time.Second,
	}
	d := newDispatcher(stubResolver{url: "https://cdn.example.com/x"}, senders)
	controller := NewLifecycleController(repo, sink, 0)
	pool := jobworker.NewPool(2, 10)
	return NewPoller(repo, d, controller, pool, sink, cfg, "poller-test"), pool
}

func waitForStatus(t *testing.T, repo domain.IJobRepository, id string, want domain.JobStatus) *domain.ScheduledJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := repo.GetByID(context.Background(), id)
	t.Fatalf("job %s never reached %s, last status %s", id, want, job.Status)
	return nil
}

func TestTick_DeliversDueJob(t *testing.T) {
	repo := setupRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seeded := seedJob(t, repo, domain.ChannelEmail)
	email := &stubSender{}
	poller, pool := newTestPoller(t, repo, map[domain.Channel]channels.Sender{domain.ChannelEmail: email}, nil, 10*time.Minute)

	pool.Start(ctx)
	defer pool.Stop()

	poller.Tick(ctx)

	delivered := waitForStatus(t, repo, seeded.ID, domain.JobStatusDelivered)
	assert.Equal(t, 1, delivered.Attempts)
	assert.Equal(t, 1, email.calls)
}

func TestTick_AuditsClaimTransition(t *testing.T) {
	repo := setupRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seeded := seedJob(t, repo, domain.ChannelEmail)
	sink := &recordingSink{}
	poller, pool := newTestPoller(t, repo, map[domain.Channel]channels.Sender{domain.ChannelEmail: &stubSender{}}, sink, 10*time.Minute)

	pool.Start(ctx)
	defer pool.Stop()

	poller.Tick(ctx)
	waitForStatus(t, repo, seeded.ID, domain.JobStatusDelivered)

	// The final event is emitted just after the row commit; give the
	// worker goroutine a moment to get there.
	var events []audit.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events = sink.snapshot(); len(events) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, events, 2, "claim and final commit must each leave an audit event")

	claim := events[0]
	assert.Equal(t, seeded.ID, claim.JobID)
	assert.Equal(t, domain.JobStatusScheduled, claim.FromStatus)
	assert.Equal(t, domain.JobStatusInProgress, claim.ToStatus)
	assert.Equal(t, "poller-test", claim.ClaimedBy)

	final := events[1]
	assert.Equal(t, domain.JobStatusInProgress, final.FromStatus)
	assert.Equal(t, domain.JobStatusDelivered, final.ToStatus)
	assert.Equal(t, 1, final.Attempts)
}

func TestTick_NoEligibleJobsIsANoOp(t *testing.T) {
	repo := setupRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	email := &stubSender{}
	poller, pool := newTestPoller(t, repo, map[domain.Channel]channels.Sender{domain.ChannelEmail: email}, nil, 10*time.Minute)
	pool.Start(ctx)
	defer pool.Stop()

	poller.Tick(ctx)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, email.calls)
}

func TestSweep_ReclaimsStaleClaims(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	seeded := seedJob(t, repo, domain.ChannelEmail)
	poller, _ := newTestPoller(t, repo, map[domain.Channel]channels.Sender{domain.ChannelEmail: &stubSender{}}, nil, time.Millisecond)

	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC(), "worker-dead")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	time.Sleep(5 * time.Millisecond) // let the claim age past the visibility timeout
	poller.Sweep(ctx)

	stored, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusScheduled, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Empty(t, stored.ClaimedBy)
}
