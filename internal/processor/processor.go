// Package processor lays out a job on disk, hands the finished streams to
// ffmpeg and tidies up afterwards.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/datallboy/gobili/internal/domain"
	"github.com/datallboy/gobili/internal/infra/config"
	"github.com/datallboy/gobili/internal/infra/logger"
)

type Processor struct {
	cfg   config.DownloadConfig
	muxer Muxer
	fs    afero.Fs
	log   *logger.Logger
}

// New builds a Processor. fs must be the filesystem the streams are
// downloaded into; nil means the OS filesystem.
func New(cfg config.DownloadConfig, muxer Muxer, fs afero.Fs, log *logger.Logger) *Processor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Processor{cfg: cfg, muxer: muxer, fs: fs, log: log}
}

// Prepare decides every path of the job: the per-uploader output directory,
// the final file name and the temp files the streams download into. Temp
// files are keyed by BV id so an interrupted job resumes into the same files.
func (p *Processor) Prepare(job *domain.Job, video *domain.Video) error {
	outDir := job.OutDir
	if outDir == "" {
		outDir = p.cfg.OutDir
	}

	dirName := sanitizeFileName(video.Owner)
	if dirName == "" {
		dirName = "unknown"
	}
	fileName := sanitizeFileName(video.Title)
	if fileName == "" {
		fileName = job.BVID
	}

	switch job.Mode {
	case domain.ModeVideoOnly:
		fileName += "_video_only"
	case domain.ModeAudioOnly:
		fileName += "_audio_only"
	}

	workDir := filepath.Join(p.cfg.TempDir, sanitizeFileName(job.BVID))
	outputPath := filepath.Join(outDir, dirName, fileName+p.cfg.OutputExt)

	paths := make(map[domain.StreamKind]string)
	for _, kind := range job.Mode.Kinds() {
		ext := p.cfg.VideoExt
		if kind == domain.StreamAudio {
			ext = p.cfg.AudioExt
		}
		paths[kind] = filepath.Join(workDir, string(kind)+ext)
	}

	job.Update(func(j *domain.Job) {
		j.Title = video.Title
		j.OutDir = outDir
		j.OutputPath = outputPath
		j.WorkDir = workDir
		j.Paths = paths
	})

	if job.Mode == domain.ModeInfoOnly {
		return nil
	}

	for _, dir := range []string{job.WorkDir, filepath.Dir(job.OutputPath)} {
		if err := p.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Mux writes the output file from the downloaded streams. ffmpeg writes into
// the work dir first so a half-written file never appears in the library.
func (p *Processor) Mux(ctx context.Context, job *domain.Job) error {
	if _, err := p.fs.Stat(job.OutputPath); err == nil {
		p.log.Info("Skipping mux: %s already exists", job.OutputPath)
		return nil
	}

	var inputs []string
	for _, kind := range job.Mode.Kinds() {
		path, ok := job.Paths[kind]
		if !ok {
			return fmt.Errorf("no %s file prepared for %s", kind, job.BVID)
		}
		if _, err := p.fs.Stat(path); err != nil {
			return fmt.Errorf("%s input missing: %w", kind, err)
		}
		inputs = append(inputs, path)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to mux for %s", job.BVID)
	}

	tmp := filepath.Join(job.WorkDir, "muxed"+p.cfg.OutputExt)
	_ = p.fs.Remove(tmp)

	p.log.Info("Merging %d stream(s) into: %s", len(inputs), job.OutputPath)
	if err := p.muxer.Mux(ctx, inputs, tmp); err != nil {
		_ = p.fs.Remove(tmp)
		return fmt.Errorf("failed to merge streams: %w", err)
	}

	if err := moveFile(p.fs, tmp, job.OutputPath); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(job.OutputPath), err)
	}
	return nil
}

// Cleanup removes the temp streams unless keep_temp is set.
func (p *Processor) Cleanup(job *domain.Job) error {
	if p.cfg.KeepTemp || job.WorkDir == "" {
		return nil
	}

	var errs []error
	for kind, path := range job.Paths {
		if err := p.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s file: %w", kind, err))
			continue
		}
		p.log.Debug("Cleaned up temporary %s file: %s", kind, path)
	}

	// Only succeeds once the dir is empty, which is what we want
	if err := p.fs.Remove(job.WorkDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.log.Debug("Leaving work dir %s in place: %v", job.WorkDir, err)
	}

	return errors.Join(errs...)
}
