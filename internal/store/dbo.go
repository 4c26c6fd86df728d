package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/datallboy/gobili/internal/domain"
)

// videoDBO maps to the videos table
type videoDBO struct {
	BVID        string `db:"bvid"`
	CID         int64  `db:"cid"`
	Title       string `db:"title"`
	Description string `db:"description"`
	Owner       string `db:"owner"`
	Duration    int64  `db:"duration"`
	UpdatedAt   int64  `db:"updated_at"`
}

// Mapper: DBO to Domain Video
func (v *videoDBO) ToDomain() *domain.Video {
	return &domain.Video{
		BVID:        v.BVID,
		CID:         v.CID,
		Title:       v.Title,
		Description: v.Description,
		Owner:       v.Owner,
		Duration:    v.Duration,
		UpdatedAt:   time.UnixMilli(v.UpdatedAt).UTC(),
	}
}

// Mapper: Domain Video to DBO
func (v *videoDBO) FromDomain(vid *domain.Video) {
	v.BVID = vid.BVID
	v.CID = vid.CID
	v.Title = vid.Title
	v.Description = vid.Description
	v.Owner = vid.Owner
	v.Duration = vid.Duration

	if vid.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UnixMilli()
	} else {
		v.UpdatedAt = vid.UpdatedAt.UnixMilli()
	}
}

// jobDBO maps to the jobs table
type jobDBO struct {
	ID           string         `db:"id"`
	BVID         string         `db:"bvid"`
	Mode         string         `db:"mode"`
	Status       string         `db:"status"`
	Title        string         `db:"title"`
	OutDir       string         `db:"out_dir"`
	OutputPath   string         `db:"output_path"`
	Error        sql.NullString `db:"error"`
	BytesWritten int64          `db:"bytes_written"`
	TotalBytes   int64          `db:"total_bytes"`
	CreatedAt    int64          `db:"created_at"`
}

// Mapper: DBO to Domain Job
func (j *jobDBO) ToDomain() *domain.Job {
	job := &domain.Job{
		ID:         j.ID,
		BVID:       j.BVID,
		Mode:       domain.JobMode(j.Mode),
		Status:     domain.JobStatus(j.Status),
		Title:      j.Title,
		OutDir:     j.OutDir,
		OutputPath: j.OutputPath,
		Error:      j.Error.String,
		CreatedAt:  time.UnixMilli(j.CreatedAt).UTC(),
	}
	job.BytesWritten.Store(uint64(j.BytesWritten))
	job.TotalBytes.Store(uint64(j.TotalBytes))
	return job
}

// Mapper: Domain Job to DBO
func (j *jobDBO) FromDomain(job *domain.Job) {
	j.ID = job.ID
	j.BVID = job.BVID
	j.Mode = string(job.Mode)
	j.Status = string(job.Status)
	j.Title = job.Title
	j.OutDir = job.OutDir
	j.OutputPath = job.OutputPath
	j.Error = sql.NullString{String: job.Error, Valid: job.Error != ""}
	j.BytesWritten = int64(job.BytesWritten.Load())
	j.TotalBytes = int64(job.TotalBytes.Load())

	if job.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UnixMilli()
	} else {
		j.CreatedAt = job.CreatedAt.UnixMilli()
	}
}

// transferDBO maps to the transfers table
type transferDBO struct {
	JobID string         `db:"job_id"`
	Kind  string         `db:"kind"`
	URL   string         `db:"url"`
	Path  string         `db:"path"`
	Size  int64          `db:"size"`
	Phase string         `db:"phase"`
	Error sql.NullString `db:"error"`
}

// Mapper: DBO to Domain TransferResult. The original error type does not
// survive the round trip, only its message.
func (t *transferDBO) ToDomain() domain.TransferResult {
	res := domain.TransferResult{
		Kind:  domain.StreamKind(t.Kind),
		URL:   t.URL,
		Path:  t.Path,
		Size:  t.Size,
		Phase: domain.TransferPhase(t.Phase),
	}
	if t.Error.Valid && t.Error.String != "" {
		res.Err = errors.New(t.Error.String)
	}
	return res
}

// Mapper: Domain TransferResult to DBO
func (t *transferDBO) FromDomain(jobID string, res domain.TransferResult) {
	t.JobID = jobID
	t.Kind = string(res.Kind)
	t.URL = res.URL
	t.Path = res.Path
	t.Size = res.Size
	t.Phase = string(res.Phase)
	msg := res.ErrorString()
	t.Error = sql.NullString{String: msg, Valid: msg != ""}
}
