package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/gobili/internal/domain"
	"github.com/datallboy/gobili/internal/infra/config"
)

func newTestStore(t *testing.T) *PersistentStore {
	t.Helper()
	s, err := NewPersistentStore(config.StoreConfig{
		Driver:     DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "data", "gobili.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(bvid string, status domain.JobStatus) *domain.Job {
	return &domain.Job{
		ID:        ksuid.New().String(),
		BVID:      bvid,
		Mode:      domain.ModeBoth,
		Status:    status,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestJobs_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newJob("BV1xx411c7mD", domain.StatusPending)
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = domain.StatusFailed
	job.Title = "字幕君交流场所"
	job.OutputPath = "/out/碧诗/字幕君交流场所.mp4"
	job.Error = "video: retries exhausted"
	job.BytesWritten.Store(1234)
	job.TotalBytes.Store(5678)
	require.NoError(t, s.SaveJob(ctx, job))

	require.NoError(t, s.SaveTransfers(ctx, job.ID, []domain.TransferResult{
		{Kind: domain.StreamVideo, URL: "https://cdn/v", Path: "/tmp/video.m4s", Size: 1000, Phase: domain.PhaseFailed, Err: errors.New("retries exhausted")},
		{Kind: domain.StreamAudio, URL: "https://cdn/a", Path: "/tmp/audio.m4s", Size: 234, Phase: domain.PhaseCompleted},
	}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.BVID, got.BVID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, job.Title, got.Title)
	assert.Equal(t, job.OutputPath, got.OutputPath)
	assert.Equal(t, job.Error, got.Error)
	assert.Equal(t, uint64(1234), got.BytesWritten.Load())
	assert.Equal(t, uint64(5678), got.TotalBytes.Load())
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

	require.Len(t, got.Transfers, 2)
	assert.Equal(t, domain.StreamAudio, got.Transfers[0].Kind)
	assert.True(t, got.Transfers[0].Completed())
	assert.Equal(t, domain.StreamVideo, got.Transfers[1].Kind)
	assert.EqualError(t, got.Transfers[1].Err, "retries exhausted")
}

func TestJobs_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobs_TransfersUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newJob("BV1", domain.StatusDownloading)
	require.NoError(t, s.SaveJob(ctx, job))

	require.NoError(t, s.SaveTransfers(ctx, job.ID, []domain.TransferResult{
		{Kind: domain.StreamVideo, Path: "/v", Phase: domain.PhaseFailed, Err: errors.New("x")},
	}))
	require.NoError(t, s.SaveTransfers(ctx, job.ID, []domain.TransferResult{
		{Kind: domain.StreamVideo, Path: "/v", Size: 10, Phase: domain.PhaseCompleted},
	}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Transfers, 1)
	assert.True(t, got.Transfers[0].Completed())
	assert.Equal(t, int64(10), got.Transfers[0].Size)
}

func TestJobs_ListAndActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	statuses := []domain.JobStatus{domain.StatusCompleted, domain.StatusPending, domain.StatusFailed, domain.StatusDownloading}
	base := time.Now().Add(-time.Hour)
	var ids []string
	for i, st := range statuses {
		// KSUIDs only order by the second
		id, err := ksuid.NewRandomWithTime(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, err)

		job := newJob("BV1", st)
		job.ID = id.String()
		require.NoError(t, s.SaveJob(ctx, job))
		ids = append(ids, job.ID)
	}

	all, err := s.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID, "newest first")

	limited, err := s.ListJobs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	active, err := s.GetActiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ids[1], active[0].ID)
	assert.Equal(t, ids[3], active[1].ID)
}

func TestVideos_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetVideo(ctx, "BV1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.UpsertVideo(ctx, &domain.Video{BVID: "BV1", CID: 1, Title: "first", Owner: "up"}))
	require.NoError(t, s.UpsertVideo(ctx, &domain.Video{BVID: "BV1", CID: 2, Title: "", Owner: "", Duration: 60}))

	v, err = s.GetVideo(ctx, "BV1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(2), v.CID)
	assert.Equal(t, "first", v.Title, "empty titles do not overwrite known ones")
	assert.Equal(t, "up", v.Owner)
	assert.Equal(t, int64(60), v.Duration)
	assert.False(t, v.UpdatedAt.IsZero())
}

func TestRebind(t *testing.T) {
	pg := &PersistentStore{driver: DriverPgx}
	assert.Equal(t, "SELECT * FROM jobs WHERE id = $1 AND status = $2", pg.rebind("SELECT * FROM jobs WHERE id = ? AND status = ?"))

	lite := &PersistentStore{driver: DriverSQLite}
	assert.Equal(t, "WHERE id = ?", lite.rebind("WHERE id = ?"))
}

func TestNewPersistentStore_UnknownDriver(t *testing.T) {
	_, err := NewPersistentStore(config.StoreConfig{Driver: "mysql"})
	assert.Error(t, err)
}
