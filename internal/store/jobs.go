package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datallboy/gobili/internal/domain"
)

const jobColumns = `id, bvid, mode, status, title, out_dir, output_path, error, bytes_written, total_bytes, created_at`

// SaveJob inserts the job or overwrites its mutable columns.
func (s *PersistentStore) SaveJob(ctx context.Context, job *domain.Job) error {
	var dbo jobDBO
	dbo.FromDomain(job)

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			title = excluded.title,
			out_dir = excluded.out_dir,
			output_path = excluded.output_path,
			error = excluded.error,
			bytes_written = excluded.bytes_written,
			total_bytes = excluded.total_bytes`),
		dbo.ID, dbo.BVID, dbo.Mode, dbo.Status, dbo.Title, dbo.OutDir, dbo.OutputPath,
		dbo.Error, dbo.BytesWritten, dbo.TotalBytes, dbo.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the job with its transfers, or domain.ErrJobNotFound.
func (s *PersistentStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ? LIMIT 1`), id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	job.Transfers, err = s.getTransfers(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns the most recent jobs first. KSUIDs sort chronologically.
func (s *PersistentStore) ListJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT ?`, limit)
}

// GetActiveJobs returns unfinished jobs oldest first, for resuming after a restart.
func (s *PersistentStore) GetActiveJobs(ctx context.Context) ([]*domain.Job, error) {
	jobs, err := s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status NOT IN ('completed', 'failed')
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active jobs: %w", err)
	}
	return jobs, nil
}

func (s *PersistentStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*domain.Job, error) {
	var dbo jobDBO
	err := sc.Scan(
		&dbo.ID, &dbo.BVID, &dbo.Mode, &dbo.Status, &dbo.Title, &dbo.OutDir, &dbo.OutputPath,
		&dbo.Error, &dbo.BytesWritten, &dbo.TotalBytes, &dbo.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return dbo.ToDomain(), nil
}

// SaveTransfers records the outcome of every stream of a job.
func (s *PersistentStore) SaveTransfers(ctx context.Context, jobID string, results []domain.TransferResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO transfers (job_id, kind, url, path, size, phase, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, kind) DO UPDATE SET
			url = excluded.url,
			path = excluded.path,
			size = excluded.size,
			phase = excluded.phase,
			error = excluded.error`)

	// Reuse a single DBO instance for efficiency
	var dbo transferDBO
	for _, res := range results {
		dbo.FromDomain(jobID, res)
		if _, err := tx.ExecContext(ctx, query,
			dbo.JobID, dbo.Kind, dbo.URL, dbo.Path, dbo.Size, dbo.Phase, dbo.Error,
		); err != nil {
			return fmt.Errorf("failed to save %s transfer for %s: %w", res.Kind, jobID, err)
		}
	}

	return tx.Commit()
}

func (s *PersistentStore) getTransfers(ctx context.Context, jobID string) ([]domain.TransferResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT job_id, kind, url, path, size, phase, error
		FROM transfers
		WHERE job_id = ?
		ORDER BY kind ASC`), jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.TransferResult
	for rows.Next() {
		var dbo transferDBO
		if err := rows.Scan(&dbo.JobID, &dbo.Kind, &dbo.URL, &dbo.Path, &dbo.Size, &dbo.Phase, &dbo.Error); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, dbo.ToDomain())
	}
	return out, rows.Err()
}
