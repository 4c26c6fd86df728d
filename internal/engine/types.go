package engine

import (
	"time"

	"github.com/datallboy/gobili/internal/backoff"
	"github.com/datallboy/gobili/internal/domain"
)

const (
	defaultChunkSize        = 4 * 1024 * 1024
	defaultStreamRetryPause = time.Second
)

// FetchOptions tunes a Fetcher. Zero values fall back to the defaults above.
type FetchOptions struct {
	// RetryLimit bounds the retries of one request. Negotiation failures,
	// rejected ranges and mid-stream interruptions all draw from it.
	RetryLimit uint

	Backoff backoff.Policy

	// StreamRetryPause is added before re-entering a transfer that was
	// interrupted mid-body.
	StreamRetryPause time.Duration

	ChunkSize int

	// ReadTimeout aborts a response body that stays silent this long.
	ReadTimeout time.Duration
}

// Observer receives progress from fetches running on other goroutines.
// Implementations must be safe for concurrent use.
type Observer interface {
	PhaseChanged(kind domain.StreamKind, phase domain.TransferPhase)
	Progress(kind domain.StreamKind, written, expected int64)
}

type nopObserver struct{}

func (nopObserver) PhaseChanged(domain.StreamKind, domain.TransferPhase) {}
func (nopObserver) Progress(domain.StreamKind, int64, int64)             {}

// transferState belongs to the single goroutine running a fetch.
type transferState struct {
	expectedSize int64 // -1 until negotiated
	bytesWritten int64
	attempt      uint
	phase        domain.TransferPhase
	checkedDisk  bool
}

func (s *transferState) negotiated() bool { return s.expectedSize >= 0 }
