package application

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voxsend/vox-relay/artifacts"
	"github.com/voxsend/vox-relay/channels"
	"github.com/voxsend/vox-relay/scheduler/domain"
	"golang.org/x/time/rate"
)

// DispatchResult is the outcome of one delivery attempt across the job's
// requested channels. Channels preserves the job's channel order so
// diagnostics stay stable across attempts.
type DispatchResult struct {
	AnySucceeded bool
	Channels     []domain.Channel
	PerChannel   map[domain.Channel]error
}

// AllPermanent reports whether every channel failed with an error that can
// never succeed on retry. Such jobs go straight to failed.
func (r DispatchResult) AllPermanent() bool {
	if r.AnySucceeded || len(r.PerChannel) == 0 {
		return false
	}
	for _, err := range r.PerChannel {
		if err == nil || !channels.IsPermanent(err) {
			return false
		}
	}
	return true
}

// CombinedError flattens per-channel failures into one diagnostic string,
// in the job's channel order.
func (r DispatchResult) CombinedError() string {
	out := ""
	for _, ch := range r.Channels {
		err := r.PerChannel[ch]
		if err == nil {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += fmt.Sprintf("%s: %v", ch, err)
	}
	return out
}

// Dispatcher attempts delivery for a claimed job: resolve the artifact URL,
// then try every requested channel. It never mutates job state; committing
// the outcome belongs to the lifecycle controller, which keeps a dispatch
// safe to re-attempt.
type Dispatcher struct {
	resolver    artifacts.Resolver
	senders     map[domain.Channel]channels.Sender
	limiters    map[domain.Channel]*rate.Limiter
	linkTTL     time.Duration
	sendTimeout time.Duration
}

func NewDispatcher(
	resolver artifacts.Resolver,
	senders map[domain.Channel]channels.Sender,
	limiters map[domain.Channel]*rate.Limiter,
	linkTTL time.Duration,
	sendTimeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		resolver:    resolver,
		senders:     senders,
		limiters:    limiters,
		linkTTL:     linkTTL,
		sendTimeout: sendTimeout,
	}
}

// Dispatch runs one delivery pass. Every requested channel with a resolvable
// destination is attempted even if an earlier one failed; "both" means try
// both. anySucceeded is true when at least one channel delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.ScheduledJob) DispatchResult {
	result := DispatchResult{
		Channels:   job.Channels,
		PerChannel: make(map[domain.Channel]error, len(job.Channels)),
	}

	url, err := d.resolver.ResolveURL(ctx, job.ContentRef, d.linkTTL)
	if err != nil {
		// No valid URL means no partial attempt on any channel.
		logrus.WithError(err).Errorf("[DISPATCH] Artifact resolution failed for job %s", job.ID)
		for _, ch := range job.Channels {
			result.PerChannel[ch] = fmt.Errorf("artifact resolution failed: %w", err)
		}
		return result
	}

	subject, body := messageContent(job)

	for _, ch := range job.Channels {
		destination := job.DestinationFor(ch)
		if destination == "" {
			// Requested channel without a matching destination is a data
			// error, not a provider hiccup.
			result.PerChannel[ch] = channels.Permanent(fmt.Errorf("no %s destination on recipient", ch))
			continue
		}

		sender, ok := d.senders[ch]
		if !ok {
			result.PerChannel[ch] = channels.Permanent(fmt.Errorf("no sender configured for channel %s", ch))
			continue
		}

		result.PerChannel[ch] = d.sendOne(ctx, ch, sender, channels.Message{
			Destination: destination,
			Subject:     subject,
			Body:        body,
			ArtifactURL: url,
		})
		if result.PerChannel[ch] == nil {
			result.AnySucceeded = true
		}
	}

	return result
}

func (d *Dispatcher) sendOne(ctx context.Context, ch domain.Channel, sender channels.Sender, msg channels.Message) error {
	if limiter, ok := d.limiters[ch]; ok && limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := sender.Send(sendCtx, msg)
	if err != nil {
		logrus.WithError(err).Warnf("[DISPATCH] Channel %s failed for %s", ch, msg.Destination)
	}
	return err
}

func messageContent(job *domain.ScheduledJob) (subject, body string) {
	subject = "You have a new voice message"
	body = "Someone sent you a message."
	if v, ok := job.Metadata["subject"].(string); ok && v != "" {
		subject = v
	}
	if v, ok := job.Metadata["message"].(string); ok && v != "" {
		body = v
	}
	return subject, body
}
