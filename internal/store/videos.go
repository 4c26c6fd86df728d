package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datallboy/gobili/internal/domain"
)

// UpsertVideo records the latest metadata seen for a BV id.
func (s *PersistentStore) UpsertVideo(ctx context.Context, v *domain.Video) error {
	var dbo videoDBO
	dbo.FromDomain(v)

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO videos (bvid, cid, title, description, owner, duration, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bvid) DO UPDATE SET
			cid = excluded.cid,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE videos.title END,
			description = excluded.description,
			owner = CASE WHEN excluded.owner != '' THEN excluded.owner ELSE videos.owner END,
			duration = excluded.duration,
			updated_at = excluded.updated_at`),
		dbo.BVID, dbo.CID, dbo.Title, dbo.Description, dbo.Owner, dbo.Duration, dbo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert video %s: %w", v.BVID, err)
	}
	return nil
}

// GetVideo returns nil, nil when the video has never been seen.
func (s *PersistentStore) GetVideo(ctx context.Context, bvid string) (*domain.Video, error) {
	var dbo videoDBO
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT bvid, cid, title, description, owner, duration, updated_at
		FROM videos WHERE bvid = ? LIMIT 1`), bvid).Scan(
		&dbo.BVID, &dbo.CID, &dbo.Title, &dbo.Description, &dbo.Owner, &dbo.Duration, &dbo.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return dbo.ToDomain(), nil
}
