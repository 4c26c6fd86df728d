package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/datallboy/gobili/internal/domain"
)

// Tracker folds per-stream progress into the job counters read by the CLI
// renderer and the API.
type Tracker struct {
	mu       sync.Mutex
	job      *domain.Job
	written  map[domain.StreamKind]int64
	expected map[domain.StreamKind]int64
	phases   map[domain.StreamKind]domain.TransferPhase
}

func NewTracker(job *domain.Job) *Tracker {
	return &Tracker{
		job:      job,
		written:  make(map[domain.StreamKind]int64),
		expected: make(map[domain.StreamKind]int64),
		phases:   make(map[domain.StreamKind]domain.TransferPhase),
	}
}

func (t *Tracker) PhaseChanged(kind domain.StreamKind, phase domain.TransferPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases[kind] = phase
}

func (t *Tracker) Progress(kind domain.StreamKind, written, expected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.written[kind] = written
	t.expected[kind] = expected

	var sumWritten, sumExpected int64
	for k, w := range t.written {
		sumWritten += w
		sumExpected += t.expected[k]
	}
	t.job.BytesWritten.Store(uint64(sumWritten))
	t.job.TotalBytes.Store(uint64(sumExpected))
}

// Phases returns a "video=transferring audio=completed" style summary.
func (t *Tracker) Phases() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(t.phases))
	for kind, phase := range t.phases {
		parts = append(parts, fmt.Sprintf("%s=%s", kind, phase))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// StartCLIProgress redraws the progress line every second until ctx is done.
func StartCLIProgress(ctx context.Context, out io.Writer, job *domain.Job) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastBytes uint64

	for {
		select {
		case <-ticker.C:
			current := job.BytesWritten.Load()
			var delta uint64
			if current > lastBytes {
				delta = current - lastBytes
			}
			lastBytes = current

			renderCLIProgress(out, job, delta, false)
		case <-ctx.Done():
			renderCLIProgress(out, job, 0, true)
			fmt.Fprintln(out)
			return
		}
	}
}

// renderCLIProgress prints one carriage-returned status line. bytesPerTick is
// the amount moved since the previous one-second tick.
func renderCLIProgress(out io.Writer, job *domain.Job, bytesPerTick uint64, final bool) {
	current := job.BytesWritten.Load()
	total := job.TotalBytes.Load()
	if total == 0 {
		return
	}

	elapsed := time.Since(job.StartedAt)
	percent := float64(current) / float64(total) * 100
	if percent > 100 {
		percent = 100
	}

	speed := humanize.Bytes(bytesPerTick) + "/s"
	etaStr := "calc..."

	if final {
		seconds := elapsed.Seconds()
		if seconds < 0.1 {
			seconds = 0.1
		}
		speed = humanize.Bytes(uint64(float64(current)/seconds)) + "/s"
		etaStr = elapsed.Truncate(time.Second).String()
	} else if bytesPerTick > 0 && total > current {
		etaSeconds := (total - current) / bytesPerTick
		etaStr = (time.Duration(etaSeconds) * time.Second).String()
	}

	const barWidth = 20
	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	timeLabel := "ETA"
	if final {
		timeLabel = "Time"
	}

	fmt.Fprintf(out, "\r[%s] %5.1f%% | %10s | %s: %-7s | %s / %s      ",
		bar, percent, speed, timeLabel, etaStr, humanize.Bytes(current), humanize.Bytes(total))
}
