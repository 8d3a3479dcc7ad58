// Package audit receives delivery lifecycle events. Sinks are
// fire-and-forget: a sink failure must never block or fail a transition.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voxsend/vox-relay/scheduler/domain"
)

// Event records one job status transition.
type Event struct {
	JobID      string           `json:"job_id"`
	OwnerID    string           `json:"owner_id"`
	FromStatus domain.JobStatus `json:"from_status"`
	ToStatus   domain.JobStatus `json:"to_status"`
	Attempts   int              `json:"attempts"`
	ClaimedBy  string           `json:"claimed_by,omitempty"`
	Error      string           `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}

// Sink consumes lifecycle events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// LogSink writes every event to the structured log. It is the default sink
// and the only delivery history kept when no webhook is configured.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, event Event) {
	entry := logrus.WithFields(logrus.Fields{
		"job_id":   event.JobID,
		"owner_id": event.OwnerID,
		"from":     event.FromStatus,
		"to":       event.ToStatus,
		"attempts": event.Attempts,
	})
	if event.ClaimedBy != "" {
		entry = entry.WithField("claimed_by", event.ClaimedBy)
	}
	if event.Error != "" {
		entry = entry.WithField("error", event.Error)
	}
	entry.Info("[AUDIT] Job transition")
}

// MultiSink fans out to several sinks.
type MultiSink []Sink

func (s MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range s {
		sink.Emit(ctx, event)
	}
}
