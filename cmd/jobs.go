package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
)

var (
	jobsTenant string
	jobsState  string
	jobsLimit  int
)

func init() {
	jobsListCmd.Flags().StringVar(&jobsTenant, "tenant", "", "filter by tenant")
	jobsListCmd.Flags().StringVar(&jobsState, "state", "", "filter by state")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum rows")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect upload jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent upload jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(cmd.Context(), model.JobFilter{
			TenantID: jobsTenant,
			State:    model.JobState(jobsState),
			Limit:    jobsLimit,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, j := range jobs {
			fmt.Fprintf(out, "%s  %-22s %-10s %-28s ins=%d rej=%d dup=%d\n",
				j.SubmittedAt.Format(time.RFC3339), j.State, j.TenantID, j.Filename,
				j.Counts.Inserted, j.Counts.Rejected, j.Counts.Duplicate)
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its error summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		job, err := st.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printJob(cmd, job)
		return nil
	},
}
