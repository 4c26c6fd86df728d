package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/gobili/internal/app"
	"github.com/datallboy/gobili/internal/domain"
)

const defaultHistoryLimit = 50

// JobQueue is the part of the queue manager the API drives.
type JobQueue interface {
	Add(bvid string, mode domain.JobMode, outDir string) (*domain.Job, error)
	GetActiveItem() (domain.JobSnapshot, bool)
	GetItem(ctx context.Context, id string) (domain.JobSnapshot, bool)
	GetAllItems() []domain.JobSnapshot
	Cancel(id string) bool
}

type JobsController struct {
	App   *app.Context
	Queue JobQueue
}

// Create queues a download. The job runs in the background; poll
// GET /api/jobs/:id for its progress.
func (ctrl *JobsController) Create(c *echo.Context) error {
	var req CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request body")
	}

	mode, err := domain.ParseJobMode(req.Mode)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	job, err := ctrl.Queue.Add(req.BVID, mode, req.OutDir)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidBVID) {
			return jsonError(c, http.StatusBadRequest, err.Error())
		}
		ctrl.App.Logger.Error("Failed to queue %s: %v", req.BVID, err)
		return jsonError(c, http.StatusInternalServerError, "Failed to queue job")
	}

	return c.JSON(http.StatusAccepted, job.Snapshot())
}

// List returns the running job, the live queue and recent history.
func (ctrl *JobsController) List(c *echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return jsonError(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	resp := JobListResponse{
		Queue:   ctrl.Queue.GetAllItems(),
		History: make([]domain.JobSnapshot, 0),
	}
	if active, ok := ctrl.Queue.GetActiveItem(); ok {
		resp.Active = &active
	}

	live := make(map[string]bool, len(resp.Queue))
	for _, item := range resp.Queue {
		live[item.ID] = true
	}

	jobs, err := ctrl.App.Store.ListJobs(c.Request().Context(), limit)
	if err != nil {
		ctrl.App.Logger.Error("Failed to list jobs: %v", err)
		return jsonError(c, http.StatusInternalServerError, "Failed to list jobs")
	}
	for _, job := range jobs {
		if live[job.ID] {
			continue
		}
		resp.History = append(resp.History, job.Snapshot())
	}

	return c.JSON(http.StatusOK, resp)
}

func (ctrl *JobsController) Get(c *echo.Context) error {
	id := c.Param("id")

	snap, ok := ctrl.Queue.GetItem(c.Request().Context(), id)
	if !ok {
		return jsonError(c, http.StatusNotFound, "Job not found")
	}
	return c.JSON(http.StatusOK, snap)
}

// Cancel stops a running job or drops a pending one.
func (ctrl *JobsController) Cancel(c *echo.Context) error {
	id := c.Param("id")

	if !ctrl.Queue.Cancel(id) {
		if _, ok := ctrl.Queue.GetItem(c.Request().Context(), id); ok {
			return jsonError(c, http.StatusConflict, "Job already finished")
		}
		return jsonError(c, http.StatusNotFound, "Job not found")
	}
	return c.JSON(http.StatusOK, CancelResponse{ID: id, Cancelled: true})
}

// Video returns the stored metadata for a BV id.
func (ctrl *JobsController) Video(c *echo.Context) error {
	bvid := c.Param("bvid")

	video, err := ctrl.App.Store.GetVideo(c.Request().Context(), bvid)
	if err != nil {
		ctrl.App.Logger.Error("Failed to load video %s: %v", bvid, err)
		return jsonError(c, http.StatusInternalServerError, "Failed to load video")
	}
	if video == nil {
		return jsonError(c, http.StatusNotFound, "Video not found")
	}
	return c.JSON(http.StatusOK, video)
}
