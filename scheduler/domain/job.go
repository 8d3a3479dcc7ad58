package domain

import (
	"time"
)

type JobStatus string

const (
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusPaused     JobStatus = "paused"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusDelivered  JobStatus = "delivered"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDelivered || s == JobStatusFailed || s == JobStatusCancelled
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Recipient is either a stored contact reference or raw destinations.
// At least one destination matching the requested channels must be present.
type Recipient struct {
	ContactID string `json:"contact_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// ScheduledJob is one delivery request: deliver ContentRef to Recipient
// over Channels once ScheduledFor has passed.
type ScheduledJob struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	ContentRef    string         `json:"content_ref"`
	Recipient     Recipient      `json:"recipient"`
	Channels      []Channel      `json:"channels"`
	ScheduledFor  time.Time      `json:"scheduled_for"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	Status        JobStatus      `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	ClaimedBy     string         `json:"claimed_by,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasChannel reports whether ch is in the job's requested channel set.
func (j *ScheduledJob) HasChannel(ch Channel) bool {
	for _, c := range j.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// DestinationFor returns the recipient destination for a channel, or ""
// when the recipient carries no matching destination.
func (j *ScheduledJob) DestinationFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return j.Recipient.Email
	case ChannelSMS:
		return j.Recipient.Phone
	}
	return ""
}

// EligibleAt reports whether the job may be claimed at the given instant.
func (j *ScheduledJob) EligibleAt(now time.Time) bool {
	if j.Status != JobStatusScheduled {
		return false
	}
	if j.Attempts >= j.MaxAttempts {
		return false
	}
	if now.Before(j.ScheduledFor) {
		return false
	}
	return !now.Before(j.NextAttemptAt)
}

var allowedTransitions = map[JobStatus]map[JobStatus]struct{}{
	JobStatusScheduled: {
		JobStatusInProgress: {},
		JobStatusPaused:     {},
		JobStatusCancelled:  {},
	},
	JobStatusPaused: {
		JobStatusScheduled: {},
		JobStatusCancelled: {},
	},
	JobStatusInProgress: {
		JobStatusDelivered: {},
		JobStatusScheduled: {},
		JobStatusFailed:    {},
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, allowed := next[to]
	return allowed
}
