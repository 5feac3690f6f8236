package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/hive-sim/internal/model"
	"github.com/sells-group/hive-sim/internal/store"
)

var jobsFlags struct {
	user   string
	status string
	limit  int
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent simulation jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		jobs, err := s.ListJobs(ctx, store.JobFilter{
			Requester: jobsFlags.user,
			Status:    model.JobStatus(jobsFlags.status),
			Limit:     jobsFlags.limit,
		})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no jobs")
			return nil
		}

		for _, j := range jobs {
			fmt.Printf("%s  %-20s  %-12s  n=%-3d  %s\n",
				j.CreatedAt.Format("2006-01-02 15:04"), j.Status, j.Perspective,
				j.PanelSize, truncate(j.Question, 60))
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	jobsCmd.Flags().StringVar(&jobsFlags.user, "user", "", "filter by requester")
	jobsCmd.Flags().StringVar(&jobsFlags.status, "status", "", "filter by status")
	jobsCmd.Flags().IntVar(&jobsFlags.limit, "limit", 20, "max jobs to list")
	rootCmd.AddCommand(jobsCmd)
}
