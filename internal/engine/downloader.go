package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/datallboy/gobili/internal/app"
	"github.com/datallboy/gobili/internal/bilibili"
	"github.com/datallboy/gobili/internal/cache"
	"github.com/datallboy/gobili/internal/domain"
)

// MetadataSource resolves a BV id into metadata and stream URLs.
type MetadataSource interface {
	GetVideoInfo(ctx context.Context, bvid string) (*bilibili.VideoInfo, error)
	GetStreamInfo(ctx context.Context, bvid string, cid int64) (*bilibili.StreamInfo, error)
	StreamHeaders(bvid string) http.Header
}

// Metadata is everything known about a video before any stream is fetched.
type Metadata struct {
	Info    *bilibili.VideoInfo
	Streams *bilibili.StreamInfo
}

// Downloader is the concrete implementation of the download engine.
type Downloader struct {
	ctx      *app.Context
	api      MetadataSource
	fetcher  *Fetcher
	fs       afero.Fs
	progress io.Writer
}

func NewDownloader(ctx *app.Context, api MetadataSource, fetcher *Fetcher, fs afero.Fs) *Downloader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Downloader{
		ctx:     ctx,
		api:     api,
		fetcher: fetcher,
		fs:      fs,
	}
}

// WithProgress makes Download draw a progress line on w while streams transfer.
func (d *Downloader) WithProgress(w io.Writer) *Downloader {
	d.progress = w
	return d
}

// FetchMetadata looks up the video and its stream manifest.
func (d *Downloader) FetchMetadata(ctx context.Context, bvid string) (*Metadata, error) {
	info, err := d.api.GetVideoInfo(ctx, bvid)
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}

	streams, err := d.api.GetStreamInfo(ctx, bvid, info.CID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	return &Metadata{Info: info, Streams: streams}, nil
}

// Download resolves the job's video, fetches the streams its mode asks for and
// records the outcome of each. Any failed stream fails the job, which keeps
// a partial download from ever being muxed.
func (d *Downloader) Download(ctx context.Context, job *domain.Job) error {
	log := d.ctx.Logger
	cfg := d.ctx.Config.Download

	if job.OutDir == "" {
		job.Update(func(j *domain.Job) { j.OutDir = cfg.OutDir })
	}
	if err := d.fs.MkdirAll(job.OutDir, 0755); err != nil {
		return fmt.Errorf("failed to create out_dir: %w", err)
	}

	meta, err := d.FetchMetadata(ctx, job.BVID)
	if err != nil {
		return err
	}
	video := meta.Info.ToDomain()

	if err := d.ctx.Store.UpsertVideo(ctx, video); err != nil {
		log.Warn("Could not record metadata for %s: %v", job.BVID, err)
	}

	log.Info("Title: %s", video.Title)
	log.Info("Uploader: %s", video.Owner)
	log.Info("Duration: %s", time.Duration(video.Duration)*time.Second)
	log.Debug("Description: %s", video.Description)

	for _, q := range meta.Streams.AcceptedQualities() {
		log.Info("Accepted Quality: %d - %s", q.ID, q.Description)
	}

	if cfg.SaveInfo || job.Mode == domain.ModeInfoOnly {
		d.saveMetadata(job.OutDir, meta)
	}

	if job.Mode == domain.ModeInfoOnly {
		job.Update(func(j *domain.Job) { j.Title = video.Title })
		log.Info("Only info requested, skipping download")
		return nil
	}

	if err := d.ctx.Processor.Prepare(job, video); err != nil {
		return fmt.Errorf("failed to prepare %s: %w", job.BVID, err)
	}

	reqs, err := d.buildRequests(job, meta)
	if err != nil {
		return err
	}

	tracker := NewTracker(job)
	job.BytesWritten.Store(0)
	job.StartedAt = time.Now()

	log.Info("Starting download of %d stream(s) for: %s", len(reqs), video.Title)

	report, err := d.transfer(ctx, job, tracker, reqs)
	if err != nil {
		return err
	}

	log.Debug("Stream phases for %s: %s", job.BVID, tracker.Phases())

	job.Update(func(j *domain.Job) { j.Transfers = report.Sorted() })
	if err := d.ctx.Store.SaveTransfers(ctx, job.ID, job.Transfers); err != nil {
		log.Warn("Could not record transfers for %s: %v", job.ID, err)
	}

	if err := report.Err(); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	log.Info("Downloaded %s in %s (%s)", video.Title,
		time.Since(job.StartedAt).Truncate(time.Second), humanize.Bytes(job.BytesWritten.Load()))
	return nil
}

func (d *Downloader) transfer(ctx context.Context, job *domain.Job, tracker *Tracker, reqs []domain.TransferRequest) (*domain.TransferReport, error) {
	if d.progress != nil {
		progressCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			StartCLIProgress(progressCtx, d.progress, job)
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	coordinator := NewCoordinator(d.fetcher.WithObserver(tracker), d.ctx.Logger)
	return coordinator.Run(ctx, reqs)
}

// buildRequests picks the best offered stream for every kind the job wants.
func (d *Downloader) buildRequests(job *domain.Job, meta *Metadata) ([]domain.TransferRequest, error) {
	header := d.api.StreamHeaders(job.BVID)

	var reqs []domain.TransferRequest
	for _, kind := range job.Mode.Kinds() {
		var (
			stream bilibili.Stream
			ok     bool
		)
		if kind == domain.StreamVideo {
			stream, ok = meta.Streams.BestVideo()
		} else {
			stream, ok = meta.Streams.BestAudio()
		}
		if !ok {
			return nil, fmt.Errorf("no %s stream offered for %s", kind, job.BVID)
		}

		if kind == domain.StreamVideo {
			d.ctx.Logger.Info("Quality of the video to be downloaded: %s", meta.Streams.QualityName(stream.ID))
		}

		reqs = append(reqs, domain.TransferRequest{
			Kind:   kind,
			URL:    stream.BaseURL,
			Path:   job.Paths[kind],
			Label:  fmt.Sprintf("%s %s", job.BVID, kind),
			Header: header,
		})
	}
	return reqs, nil
}

func (d *Downloader) saveMetadata(dir string, meta *Metadata) {
	c := cache.NewFileCache(d.fs, dir)
	if err := c.PutJSON(cache.VideoInfoKey, meta.Info); err != nil {
		d.ctx.Logger.Warn("Could not save %s: %v", cache.VideoInfoKey, err)
	}
	if err := c.PutJSON(cache.VideoStreamInfoKey, meta.Streams); err != nil {
		d.ctx.Logger.Warn("Could not save %s: %v", cache.VideoStreamInfoKey, err)
	}
}
