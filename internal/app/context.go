package app

import (
	"context"

	"github.com/datallboy/gobili/internal/domain"
	"github.com/datallboy/gobili/internal/infra/config"
	"github.com/datallboy/gobili/internal/infra/logger"
)

type Store interface {
	SaveJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	GetActiveJobs(ctx context.Context) ([]*domain.Job, error)
	SaveTransfers(ctx context.Context, jobID string, results []domain.TransferResult) error
	UpsertVideo(ctx context.Context, v *domain.Video) error
	GetVideo(ctx context.Context, bvid string) (*domain.Video, error)
	Close() error
}

type Processor interface {
	// This allows the engine to lay out files and mux without importing processor
	Prepare(job *domain.Job, video *domain.Video) error
	Mux(ctx context.Context, job *domain.Job) error
	Cleanup(job *domain.Job) error
}

type Downloader interface {
	Download(ctx context.Context, job *domain.Job) error
}

// Context hold the core environment and shared resources for gobili.
// It acts as the "Single Source of Truth" for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	// High-level interfaces for services to use
	Store      Store
	Processor  Processor
	Downloader Downloader
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}

// Close releases the shared resources.
func (c *Context) Close() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Logger.Warn("closing store: %v", err)
		}
	}
	c.Logger.Close()
}
