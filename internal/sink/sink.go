// Package sink defines the downstream boundary of the pipeline and the error
// classification the retry logic depends on.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

// Ack is a successful delivery acknowledgement.
type Ack struct {
	// Delivered is the number of events the sink accepted. It always equals
	// the batch length on success; partial acceptance is a send error.
	Delivered int
}

// Sink delivers compressed event batches downstream. Send must respect ctx
// and return within its deadline.
type Sink interface {
	Send(ctx context.Context, batch *event.Batch) (Ack, error)
}

// SinkError carries the retryability classification for a failed send.
// Errors that are not a SinkError are treated as retryable transient faults.
type SinkError struct {
	Err       error
	Status    int
	Retryable bool
}

func (e *SinkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sink error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("sink error: %v", e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps a transient send failure.
func NewRetryable(err error) *SinkError {
	return &SinkError{Err: err, Retryable: true}
}

// NewPermanent wraps a failure that retrying cannot fix, such as a rejected
// payload or an authorization error.
func NewPermanent(err error) *SinkError {
	return &SinkError{Err: err, Retryable: false}
}

// NewStatus classifies a failure by its transport status code: 429 and 5xx
// are retryable, other 4xx are permanent.
func NewStatus(status int, err error) *SinkError {
	retryable := status == 429 || status >= 500
	return &SinkError{Err: err, Status: status, Retryable: retryable}
}

// IsRetryable reports whether a failed send should be retried. Unknown error
// types default to retryable so transient network faults are not
// dead-lettered prematurely.
func IsRetryable(err error) bool {
	var se *SinkError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}
