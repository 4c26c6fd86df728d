package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datallboy/gobili/internal/domain"
	"github.com/datallboy/gobili/internal/engine"
)

func newDownloadCmd() *cobra.Command {
	var (
		outDir    string
		onlyInfo  bool
		onlyVideo bool
		onlyAudio bool
	)

	cmd := &cobra.Command{
		Use:   "download <bvid>",
		Short: "Download a video by its BV id",
		Long: `Download the best video and audio streams of a Bilibili video and merge
them into one file. Re-running the same command resumes an interrupted
download from the partial files left on disk.`,
		Example: `  gobili download BV1xx411c7mD
  gobili download BV1xx411c7mD --only-audio --output ./music`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := domain.ModeBoth
			switch {
			case onlyInfo:
				mode = domain.ModeInfoOnly
			case onlyVideo:
				mode = domain.ModeVideoOnly
			case onlyAudio:
				mode = domain.ModeAudioOnly
			}
			return runDownload(args[0], mode, outDir)
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "", "Output directory (default from config download.out_dir)")
	cmd.Flags().BoolVar(&onlyInfo, "only-info", false, "Only fetch and save the video metadata")
	cmd.Flags().BoolVar(&onlyVideo, "only-video", false, "Download the video stream only")
	cmd.Flags().BoolVar(&onlyAudio, "only-audio", false, "Download the audio stream only")
	cmd.MarkFlagsMutuallyExclusive("only-video", "only-audio")

	return cmd
}

func runDownload(bvid string, mode domain.JobMode, outDir string) error {
	svc, err := bootstrap(mode != domain.ModeInfoOnly)
	if err != nil {
		return err
	}
	defer svc.app.Close()

	// Setup Signal Handling for Graceful Shutdown
	// Ctrl+C stops the transfer; the partial files stay for the next run
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.downloader.WithProgress(os.Stdout)

	// CLI mode: no queue restore, run the single job inline
	manager := engine.NewQueueManager(svc.app, false)

	job, err := manager.Add(bvid, mode, outDir)
	if err != nil {
		return err
	}

	return manager.Process(ctx, job)
}
