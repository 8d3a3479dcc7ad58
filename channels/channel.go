package channels

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// Message is one outbound delivery over a single channel.
type Message struct {
	Destination string // email address or phone number
	Subject     string // used by email only
	Body        string
	ArtifactURL string // time-limited listen link
}

// Sender attempts one delivery over one channel. Implementations must bound
// the attempt with the context deadline.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// PermanentError marks a failure that can never succeed on retry, e.g. a
// provider rejecting the destination address. The lifecycle controller moves
// such jobs straight to failed instead of burning the retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// breakerSender wraps a Sender with a circuit breaker so a dead provider
// fails fast instead of costing a full send timeout per job.
type breakerSender struct {
	inner Sender
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker returns s guarded by a named circuit breaker. Breaker-open
// errors are transient: the job retries once the provider recovers.
func WithBreaker(name string, s Sender) Sender {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Permanent rejections are the caller's problem, not provider
			// health; they must not trip the breaker.
			return err == nil || IsPermanent(err)
		},
	})
	return &breakerSender{inner: s, cb: cb}
}

func (b *breakerSender) Send(ctx context.Context, msg Message) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Send(ctx, msg)
	})
	return err
}
