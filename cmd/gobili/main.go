package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cmd     = newRootCmd()
)

func init() {
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is ./config.yaml, then /config/config.yaml)")
}

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gobili",
		Short: "Download Bilibili videos",
		Long: `gobili downloads the video and audio streams of a Bilibili video in
parallel, resumes interrupted transfers and merges the result with ffmpeg.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newDownloadCmd(),
		newInfoCmd(),
		newServeCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}
