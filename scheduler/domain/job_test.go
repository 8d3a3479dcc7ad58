package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]JobStatus{
		{JobStatusScheduled, JobStatusInProgress},
		{JobStatusScheduled, JobStatusPaused},
		{JobStatusScheduled, JobStatusCancelled},
		{JobStatusPaused, JobStatusScheduled},
		{JobStatusPaused, JobStatusCancelled},
		{JobStatusInProgress, JobStatusDelivered},
		{JobStatusInProgress, JobStatusScheduled},
		{JobStatusInProgress, JobStatusFailed},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s should be allowed", tr[0], tr[1])
	}

	denied := [][2]JobStatus{
		{JobStatusInProgress, JobStatusCancelled},
		{JobStatusInProgress, JobStatusPaused},
		{JobStatusPaused, JobStatusInProgress},
		{JobStatusDelivered, JobStatusScheduled},
		{JobStatusFailed, JobStatusScheduled},
		{JobStatusCancelled, JobStatusScheduled},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s should be denied", tr[0], tr[1])
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, JobStatusDelivered.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, JobStatusScheduled.IsTerminal())
	assert.False(t, JobStatusPaused.IsTerminal())
	assert.False(t, JobStatusInProgress.IsTerminal())
}

func TestEligibleAt(t *testing.T) {
	now := time.Now().UTC()
	base := ScheduledJob{
		Status:        JobStatusScheduled,
		ScheduledFor:  now.Add(-time.Minute),
		NextAttemptAt: now.Add(-time.Minute),
		MaxAttempts:   3,
	}

	assert.True(t, base.EligibleAt(now))

	future := base
	future.ScheduledFor = now.Add(time.Hour)
	future.NextAttemptAt = future.ScheduledFor
	assert.False(t, future.EligibleAt(now))

	backedOff := base
	backedOff.NextAttemptAt = now.Add(time.Minute)
	assert.False(t, backedOff.EligibleAt(now), "backoff holds a due job back")

	exhausted := base
	exhausted.Attempts = 3
	assert.False(t, exhausted.EligibleAt(now))

	paused := base
	paused.Status = JobStatusPaused
	assert.False(t, paused.EligibleAt(now))
}

func TestDestinationFor(t *testing.T) {
	j := ScheduledJob{Recipient: Recipient{Email: "a@b.c", Phone: "+1555"}}
	assert.Equal(t, "a@b.c", j.DestinationFor(ChannelEmail))
	assert.Equal(t, "+1555", j.DestinationFor(ChannelSMS))
	assert.Equal(t, "", j.DestinationFor(Channel("pigeon")))
}
