package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/datallboy/gobili/internal/cache"
	"github.com/datallboy/gobili/internal/domain"
)

func newInfoCmd() *cobra.Command {
	var saveDir string

	cmd := &cobra.Command{
		Use:   "info <bvid>",
		Short: "Show video metadata and the offered qualities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bvid := args[0]
			if err := domain.ValidateBVID(bvid); err != nil {
				return err
			}

			svc, err := bootstrap(false)
			if err != nil {
				return err
			}
			defer svc.app.Close()

			meta, err := svc.downloader.FetchMetadata(context.Background(), bvid)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Title:    %s\n", meta.Info.Title)
			fmt.Fprintf(out, "Uploader: %s\n", meta.Info.Owner.Name)
			fmt.Fprintf(out, "Duration: %s\n", time.Duration(meta.Info.Duration)*time.Second)
			fmt.Fprintf(out, "CID:      %d\n", meta.Info.CID)
			fmt.Fprintln(out, "Qualities:")
			for _, q := range meta.Streams.AcceptedQualities() {
				fmt.Fprintf(out, "  %3d  %s\n", q.ID, q.Description)
			}

			if saveDir == "" {
				return nil
			}

			c := cache.NewFileCache(afero.NewOsFs(), saveDir)
			if err := c.PutJSON(cache.VideoInfoKey, meta.Info); err != nil {
				return err
			}
			if err := c.PutJSON(cache.VideoStreamInfoKey, meta.Streams); err != nil {
				return err
			}
			fmt.Fprintf(out, "Metadata saved to %s\n", saveDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&saveDir, "save", "", "Also write video_info.json and video_stream_info.json into this directory")

	return cmd
}
