package domain

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// StreamKind names one of the two independently encoded media tracks.
type StreamKind string

const (
	StreamVideo StreamKind = "video"
	StreamAudio StreamKind = "audio"
)

// TransferPhase is the per-fetch state machine:
// NotStarted -> SizeNegotiated -> Transferring -> Completed | Failed
type TransferPhase string

const (
	PhaseNotStarted     TransferPhase = "not_started"
	PhaseSizeNegotiated TransferPhase = "size_negotiated"
	PhaseTransferring   TransferPhase = "transferring"
	PhaseCompleted      TransferPhase = "completed"
	PhaseFailed         TransferPhase = "failed"
)

// Terminal reports whether no further transitions are possible.
func (p TransferPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// TransferRequest describes one stream to fetch. It is not modified after creation.
type TransferRequest struct {
	Kind   StreamKind
	URL    string
	Path   string
	Label  string
	Header http.Header
}

// TransferResult is produced exactly once per TransferRequest.
type TransferResult struct {
	Kind  StreamKind    `json:"kind"`
	URL   string        `json:"url,omitempty"`
	Path  string        `json:"path"`
	Size  int64         `json:"size"`
	Phase TransferPhase `json:"phase"`
	Err   error         `json:"-"`
}

// Completed reports whether the destination passed the post-transfer size check.
func (r TransferResult) Completed() bool {
	return r.Phase == PhaseCompleted && r.Err == nil
}

// ErrorString is a nil-safe rendering of Err for persistence and JSON.
func (r TransferResult) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// TransferReport maps each requested stream to its outcome.
type TransferReport struct {
	Results map[StreamKind]TransferResult
}

func NewTransferReport() *TransferReport {
	return &TransferReport{Results: make(map[StreamKind]TransferResult)}
}

// Paths returns the local files of every completed stream.
func (r *TransferReport) Paths() map[StreamKind]string {
	paths := make(map[StreamKind]string, len(r.Results))
	for kind, res := range r.Results {
		if res.Completed() {
			paths[kind] = res.Path
		}
	}
	return paths
}

// Failed returns the failed results ordered by stream kind.
func (r *TransferReport) Failed() []TransferResult {
	var failed []TransferResult
	for _, res := range r.Results {
		if !res.Completed() {
			failed = append(failed, res)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Kind < failed[j].Kind })
	return failed
}

// Err joins every stream failure, or returns nil when all streams completed.
func (r *TransferReport) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("ended in phase %s", res.Phase)
		}
		errs = append(errs, fmt.Errorf("%s: %w", res.Kind, err))
	}
	return errors.Join(errs...)
}

// Sorted returns all results ordered by stream kind.
func (r *TransferReport) Sorted() []TransferResult {
	out := make([]TransferResult, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
