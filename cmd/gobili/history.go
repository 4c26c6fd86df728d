package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent download jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := bootstrap(false)
			if err != nil {
				return err
			}
			defer svc.app.Close()

			jobs, err := svc.app.Store.ListJobs(context.Background(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBVID\tMODE\tSTATUS\tSIZE\tCREATED\tTITLE")
			for _, job := range jobs {
				title := job.Title
				if job.Error != "" {
					title = fmt.Sprintf("%s (%s)", title, job.Error)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					job.ID, job.BVID, job.Mode, job.Status,
					humanize.Bytes(job.TotalBytes.Load()),
					humanize.Time(job.CreatedAt),
					title)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")

	return cmd
}
