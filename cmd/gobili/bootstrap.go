package main

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/datallboy/gobili/internal/app"
	"github.com/datallboy/gobili/internal/backoff"
	"github.com/datallboy/gobili/internal/bilibili"
	"github.com/datallboy/gobili/internal/engine"
	"github.com/datallboy/gobili/internal/infra/config"
	"github.com/datallboy/gobili/internal/infra/logger"
	"github.com/datallboy/gobili/internal/platform"
	"github.com/datallboy/gobili/internal/processor"
	"github.com/datallboy/gobili/internal/store"
)

// services is everything a command needs, wired from one config.
type services struct {
	app        *app.Context
	api        *bilibili.Client
	downloader *engine.Downloader
}

// bootstrap loads the config and builds the shared services. ffmpeg is only
// required by commands that mux.
func bootstrap(needFFmpeg bool) (*services, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(logger.Options{
		Path:          cfg.Log.Path,
		Level:         logger.ParseLevel(cfg.Log.Level),
		IncludeStdout: cfg.Log.IncludeStdout,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxBackups:    cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	appCtx := app.NewContext(cfg, log)

	var muxer processor.Muxer
	if needFFmpeg {
		if err := platform.ValidateDependencies(cfg.FFmpeg.Binary); err != nil {
			log.Close()
			return nil, err
		}
		ff, err := processor.NewCLIFFmpeg(cfg.FFmpeg.Binary)
		if err != nil {
			log.Close()
			return nil, err
		}
		muxer = ff
	}

	db, err := store.NewPersistentStore(cfg.Store)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	fs := afero.NewOsFs()

	appCtx.Store = db
	appCtx.Processor = processor.New(cfg.Download, muxer, fs, log)

	api := bilibili.New(cfg.Bilibili, log)

	fetcher := engine.NewFetcher(
		engine.NewStreamClient(cfg.Download.ConnectTimeout),
		engine.NewFileWriter(fs),
		log,
		engine.FetchOptions{
			RetryLimit:       cfg.Download.RetryLimit,
			Backoff:          backoff.New(cfg.Download.BaseDelay),
			StreamRetryPause: cfg.Download.StreamRetryPause,
			ChunkSize:        cfg.Download.ChunkSize,
			ReadTimeout:      cfg.Download.ReadTimeout,
		},
	)

	dl := engine.NewDownloader(appCtx, api, fetcher, fs)
	appCtx.Downloader = dl

	return &services{app: appCtx, api: api, downloader: dl}, nil
}
