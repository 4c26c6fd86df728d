package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datallboy/gobili/internal/domain"
)

func TestTracker_AggregatesStreams(t *testing.T) {
	job := &domain.Job{}
	tr := NewTracker(job)

	tr.PhaseChanged(domain.StreamVideo, domain.PhaseTransferring)
	tr.PhaseChanged(domain.StreamAudio, domain.PhaseSizeNegotiated)
	tr.Progress(domain.StreamVideo, 300, 1000)
	tr.Progress(domain.StreamAudio, 50, 200)
	tr.Progress(domain.StreamVideo, 600, 1000)

	assert.Equal(t, uint64(650), job.BytesWritten.Load())
	assert.Equal(t, uint64(1200), job.TotalBytes.Load())
	assert.Equal(t, "audio=size_negotiated video=transferring", tr.Phases())
}

func TestRenderCLIProgress(t *testing.T) {
	job := &domain.Job{StartedAt: time.Now().Add(-2 * time.Second)}
	job.BytesWritten.Store(500_000)
	job.TotalBytes.Store(1_000_000)

	var out bytes.Buffer
	renderCLIProgress(&out, job, 100_000, false)

	line := out.String()
	assert.Contains(t, line, " 50.0%")
	assert.Contains(t, line, "100 kB/s")
	assert.Contains(t, line, "ETA: 5s")
	assert.Contains(t, line, "500 kB / 1.0 MB")
}

func TestRenderCLIProgress_NothingKnownYet(t *testing.T) {
	var out bytes.Buffer
	renderCLIProgress(&out, &domain.Job{}, 0, false)
	assert.Empty(t, out.String())
}
