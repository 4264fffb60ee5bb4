package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notelock/notelock/internal/storage"
)

// ErrTransient marks a failure worth retrying: network errors,
// timeouts, remote overload. Wrap with fmt.Errorf("...: %w", ErrTransient)
// or return it via TransientError.
var ErrTransient = errors.New("transient sync error")

// TransientError wraps an underlying retryable failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return ErrTransient }

// RejectedError is a permanent validation rejection from the remote.
// Operations failing this way are not retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "operation rejected: " + e.Reason }

// Transport is the remote store abstraction. Push must be durable on
// a nil return; Pull returns records changed since the watermark in
// ascending UpdatedAt order. The authentication token is attached by
// the transport's constructor, not managed here.
type Transport interface {
	Push(ctx context.Context, op storage.Operation) error
	Pull(ctx context.Context, since time.Time) ([]storage.Record, error)
}
