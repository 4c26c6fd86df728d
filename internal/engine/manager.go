package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/datallboy/gobili/internal/app"
	"github.com/datallboy/gobili/internal/domain"
	"github.com/datallboy/gobili/internal/infra/logger"
)

const cancelledMessage = "Cancelled by user"

type QueueManager struct {
	mu         sync.RWMutex
	downloader app.Downloader
	processor  app.Processor
	queue      []*domain.Job
	activeItem *domain.Job
	store      app.Store
	log        *logger.Logger

	newJobChan chan struct{}
}

// Initializes a QueueManager
// Takes app.Context and loadExisting bool as parameters
// if loadExisting is true, will load unfinished jobs from the database
// if loadExisting is false, will skip the database lookup (for CLI mode)
func NewQueueManager(app *app.Context, loadExisting bool) *QueueManager {
	var active []*domain.Job

	if loadExisting {
		var err error
		// Only get "active" jobs (not completed / failed)
		active, err = app.Store.GetActiveJobs(context.Background())
		if err != nil {
			app.Logger.Error("Could not load unfinished jobs: %v", err)
			active = make([]*domain.Job, 0)
		}
		for _, job := range active {
			// Partial streams are still on disk, the download resumes from them
			job.Status = domain.StatusPending
		}
		if len(active) > 0 {
			app.Logger.Info("Resuming %d unfinished job(s)", len(active))
		}
	}

	return &QueueManager{
		downloader: app.Downloader,
		processor:  app.Processor,
		queue:      active,
		store:      app.Store,
		log:        app.Logger,
		newJobChan: make(chan struct{}, 1),
	}
}

// Add creates a new domain.Job and notifies the processor loop
func (m *QueueManager) Add(bvid string, mode domain.JobMode, outDir string) (*domain.Job, error) {
	if err := domain.ValidateBVID(bvid); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = domain.ModeBoth
	}

	job := &domain.Job{
		ID:        ksuid.New().String(),
		BVID:      bvid,
		Mode:      mode,
		Status:    domain.StatusPending,
		OutDir:    outDir,
		CreatedAt: time.Now().UTC(),
	}

	// Save to database
	if err := m.store.SaveJob(context.Background(), job); err != nil {
		return nil, fmt.Errorf("failed to save job to database: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, job)
	m.mu.Unlock()

	// Signal the Start() loop that there is work to do
	select {
	case m.newJobChan <- struct{}{}:
	default:
		// Signal already pending, no need to block
	}

	return job, nil
}

// Start processes queued jobs one at a time until ctx is cancelled.
func (m *QueueManager) Start(ctx context.Context) {
	for {
		var next *domain.Job

		m.mu.RLock()
		for _, job := range m.queue {
			if job.Status == domain.StatusPending {
				next = job
				break
			}
		}
		m.mu.RUnlock()

		if next == nil {
			select {
			case <-m.newJobChan:
				continue
			case <-ctx.Done():
				return
			}
		}

		_ = m.Process(ctx, next)
	}
}

// Process runs one job to a terminal status: download, mux, cleanup.
func (m *QueueManager) Process(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	if job.Status.Finished() {
		// Cancelled while it was waiting to be picked up
		m.mu.Unlock()
		return fmt.Errorf("job %s already %s", job.ID, job.Status)
	}
	m.activeItem = job
	jobCtx, cancel := context.WithCancel(ctx)
	job.CancelFunc = cancel
	m.mu.Unlock()
	defer cancel()

	m.updateStatus(job, domain.StatusDownloading)
	jobErr := m.downloader.Download(jobCtx, job)

	if jobErr == nil && !isCancelled(jobCtx) && job.Mode != domain.ModeInfoOnly {
		m.updateStatus(job, domain.StatusProcessing)
		jobErr = m.processor.Mux(jobCtx, job)

		if jobErr == nil {
			if err := m.processor.Cleanup(job); err != nil {
				m.log.Warn("Failed to clean up temporary files for %s: %v", job.BVID, err)
			}
		}
	}

	if jobErr == nil && isCancelled(jobCtx) {
		jobErr = jobCtx.Err()
	}

	m.finalizeJob(job, jobErr)
	return jobErr
}

// GetActiveItem allows the UI to see what's currently running
func (m *QueueManager) GetActiveItem() (domain.JobSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeItem == nil {
		return domain.JobSnapshot{}, false
	}
	return m.activeItem.Snapshot(), true
}

// GetItem searches the queue for a specific ID, falling back to the database
// for jobs that already left the live queue.
func (m *QueueManager) GetItem(ctx context.Context, id string) (domain.JobSnapshot, bool) {
	m.mu.RLock()
	for _, job := range m.queue {
		if job.ID == id {
			snap := job.Snapshot()
			m.mu.RUnlock()
			return snap, true
		}
	}
	m.mu.RUnlock()

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			m.log.Warn("Lookup of job %s failed: %v", id, err)
		}
		return domain.JobSnapshot{}, false
	}
	return job.Snapshot(), true
}

// GetAllItems returns snapshots of the live queue.
func (m *QueueManager) GetAllItems() []domain.JobSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]domain.JobSnapshot, 0, len(m.queue))
	for _, job := range m.queue {
		items = append(items, job.Snapshot())
	}
	return items
}

// Cancel stops a running job or drops a pending one. It reports whether a
// live job with that ID was found.
func (m *QueueManager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.queue {
		if job.ID != id {
			continue
		}

		// 1. If it's already finished, don't bother
		if job.Status.Finished() {
			return false
		}

		// 2. Running jobs stop through their context and finalize themselves
		if job.CancelFunc != nil {
			job.CancelFunc()
			return true
		}

		// 3. Never started: finalize here
		job.Update(func(j *domain.Job) {
			j.Status = domain.StatusFailed
			j.Error = cancelledMessage
		})
		if err := m.store.SaveJob(context.Background(), job); err != nil {
			m.log.Error("Failed to persist cancellation of %s: %v", job.ID, err)
		}
		m.removeFromLiveQueue(job.ID)
		return true
	}
	return false
}

// updateStatus changes the status and saves to DB immediately
func (m *QueueManager) updateStatus(job *domain.Job, status domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Update(func(j *domain.Job) { j.Status = status })
	if err := m.store.SaveJob(context.Background(), job); err != nil {
		m.log.Warn("Failed to persist status of %s: %v", job.ID, err)
	}
}

func (m *QueueManager) finalizeJob(job *domain.Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, message := domain.StatusCompleted, ""
	if err != nil {
		status, message = domain.StatusFailed, err.Error()
		if errors.Is(err, context.Canceled) {
			message = cancelledMessage
		}
	}
	job.Update(func(j *domain.Job) {
		j.Status = status
		j.Error = message
		j.CancelFunc = nil
	})

	if err != nil {
		m.log.Error("Job %s (%s) failed: %s", job.ID, job.BVID, message)
	} else {
		job.BytesWritten.Store(job.TotalBytes.Load())
		if job.OutputPath != "" && job.Mode != domain.ModeInfoOnly {
			m.log.Info("Download completed! File saved as: %s", job.OutputPath)
		}
	}

	// Persist the final outcome
	if err := m.store.SaveJob(context.Background(), job); err != nil {
		m.log.Error("Failed to persist outcome of %s: %v", job.ID, err)
	}

	m.activeItem = nil
	m.removeFromLiveQueue(job.ID)
}

// removeFromLiveQueue keeps the active slice small by removing finished items
func (m *QueueManager) removeFromLiveQueue(id string) {
	for i, job := range m.queue {
		if job.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}

// isCancelled is a small utility to check context state
func isCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
