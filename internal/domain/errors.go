package domain

import (
	"context"
	"errors"
	"fmt"
)

// Retryable transfer failures. These are absorbed by the fetcher until its
// retry budget is spent.
var (
	// ErrNegotiation indicates the expected size could not be determined
	ErrNegotiation = errors.New("size negotiation failed")

	// ErrRangeUnsupported indicates a ranged request was not answered with 206
	ErrRangeUnsupported = errors.New("server did not honor range request")

	// ErrStreamInterrupted indicates the body ended or failed before the expected size
	ErrStreamInterrupted = errors.New("stream interrupted")
)

// Terminal transfer failures.
var (
	// ErrSizeMismatch indicates the verified file length differs from the server reported size
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrFilesystem indicates the destination could not be opened, written or stat-ed
	ErrFilesystem = errors.New("filesystem error")

	// ErrRetriesExhausted wraps the last retryable error once the retry ceiling is hit
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ErrJobNotFound is returned by the store and queue for unknown job IDs
var ErrJobNotFound = errors.New("job not found")

// ErrInvalidBVID is returned for anything that is not a BV id
var ErrInvalidBVID = errors.New("invalid BV id")

// IsRetryable reports whether err is a transient transfer failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrFilesystem) || errors.Is(err, ErrSizeMismatch) || errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	return errors.Is(err, ErrNegotiation) ||
		errors.Is(err, ErrRangeUnsupported) ||
		errors.Is(err, ErrStreamInterrupted)
}

// TransferError carries enough detail about a failed stream to diagnose it
// without re-running at a higher log level.
type TransferError struct {
	Kind         StreamKind
	URL          string
	BytesWritten int64
	ExpectedSize int64
	Attempts     uint
	Err          error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s transfer failed after %d attempt(s) (%d/%d bytes, url=%s): %v",
		e.Kind, e.Attempts, e.BytesWritten, e.ExpectedSize, e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
