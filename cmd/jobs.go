package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/suggest-data/sanitizer-cli/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent sanitation job runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "jobs: open store")
		}
		defer st.Close()

		records, err := st.ListJobs(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "jobs: list")
		}

		if len(records) == 0 {
			fmt.Println("No job runs recorded")
			return nil
		}

		fmt.Printf("%-36s  %-8s  %-20s  %10s  %10s\n", "ID", "STATUS", "STARTED", "ANALYZED", "REMOVED")
		for _, rec := range records {
			fmt.Printf("%-36s  %-8s  %-20s  %10d  %10d\n",
				rec.ID, rec.Status, rec.StartedAt.Format("2006-01-02 15:04:05"),
				rec.TotalAnalyzed, rec.TotalRemoved)
			if rec.Status == model.JobStatusFailure && rec.FailureReason != "" {
				fmt.Printf("    reason: %s\n", rec.FailureReason)
			}
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "max job runs to list")
	rootCmd.AddCommand(jobsCmd)
}
