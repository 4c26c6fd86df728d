package domain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusProcessing  JobStatus = "processing" // Muxing with ffmpeg
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// Finished reports whether the job reached a terminal status.
func (s JobStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobMode selects which streams a job downloads.
type JobMode string

const (
	ModeBoth      JobMode = "both"
	ModeVideoOnly JobMode = "video"
	ModeAudioOnly JobMode = "audio"
	ModeInfoOnly  JobMode = "info"
)

func ParseJobMode(s string) (JobMode, error) {
	switch JobMode(s) {
	case "", ModeBoth:
		return ModeBoth, nil
	case ModeVideoOnly, ModeAudioOnly, ModeInfoOnly:
		return JobMode(s), nil
	default:
		return "", fmt.Errorf("unknown job mode %q", s)
	}
}

// Kinds returns the streams a job in this mode must download.
func (m JobMode) Kinds() []StreamKind {
	switch m {
	case ModeVideoOnly:
		return []StreamKind{StreamVideo}
	case ModeAudioOnly:
		return []StreamKind{StreamAudio}
	case ModeInfoOnly:
		return nil
	default:
		return []StreamKind{StreamVideo, StreamAudio}
	}
}

// Job represents one video from metadata lookup to muxed output.
// Once a job is visible to other goroutines, fields copied by Snapshot must
// only be changed through Update.
type Job struct {
	mu sync.RWMutex

	ID     string
	BVID   string
	Mode   JobMode
	Status JobStatus

	Title      string
	OutDir     string
	OutputPath string

	// Prepared by the processor
	WorkDir string
	Paths   map[StreamKind]string

	Transfers []TransferResult

	// Updated by transfer goroutines while the job is read by the API
	BytesWritten atomic.Uint64
	TotalBytes   atomic.Uint64

	CreatedAt time.Time
	StartedAt time.Time
	Error     string

	CancelFunc context.CancelFunc
}

// JobSnapshot is an immutable copy of a Job safe to hand to other goroutines.
type JobSnapshot struct {
	ID           string           `json:"id"`
	BVID         string           `json:"bvid"`
	Mode         JobMode          `json:"mode"`
	Status       JobStatus        `json:"status"`
	Title        string           `json:"title,omitempty"`
	OutputPath   string           `json:"output_path,omitempty"`
	BytesWritten uint64           `json:"bytes_written"`
	TotalBytes   uint64           `json:"total_bytes"`
	Transfers    []TransferResult `json:"transfers,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Error        string           `json:"error,omitempty"`
}

// Update runs fn with the job locked against concurrent snapshots.
func (j *Job) Update(fn func(j *Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(j)
}

func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	transfers := make([]TransferResult, len(j.Transfers))
	copy(transfers, j.Transfers)

	return JobSnapshot{
		ID:           j.ID,
		BVID:         j.BVID,
		Mode:         j.Mode,
		Status:       j.Status,
		Title:        j.Title,
		OutputPath:   j.OutputPath,
		BytesWritten: j.BytesWritten.Load(),
		TotalBytes:   j.TotalBytes.Load(),
		Transfers:    transfers,
		CreatedAt:    j.CreatedAt,
		Error:        j.Error,
	}
}
