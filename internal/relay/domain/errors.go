package domain

import "errors"

var (
	// ErrAlreadyClaimed is returned when a claim loses the rename race
	// because another poller took the file first
	ErrAlreadyClaimed = errors.New("job already claimed")

	// ErrMalformedJob is returned when a job file cannot be decoded; a
	// corrupt record cannot be safely replayed
	ErrMalformedJob = errors.New("malformed job record")
)

// RetryableError wraps failures that should send the job back to the
// incoming directory for a later poll cycle
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
