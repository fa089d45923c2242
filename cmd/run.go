package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/pipeline"
)

var (
	runTenant   string
	runUploader string
	runMode     string
)

func init() {
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "tenant the upload belongs to (required)")
	runCmd.Flags().StringVar(&runUploader, "uploader", "cli", "uploader identity recorded on the job")
	runCmd.Flags().StringVar(&runMode, "mode", "append", "upload mode: append or replace")
	_ = runCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <file.xlsx>",
	Short: "Ingest a single spreadsheet synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		job, err := e.Service.SubmitJob(ctx, pipeline.SubmitRequest{
			TenantID:   runTenant,
			UploaderID: runUploader,
			Filename:   filepath.Base(args[0]),
			Mode:       model.UploadMode(runMode),
			Data:       data,
		})
		if err != nil {
			return err
		}

		if err := e.Runner.Run(ctx, job.ID); err != nil {
			return err
		}

		final, err := e.Store.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		printJob(cmd, final)
		if final.State == model.JobStateFailed {
			return eris.Errorf("job failed: %s", final.LastError)
		}
		return nil
	},
}

func printJob(cmd *cobra.Command, job *model.UploadJob) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job      %s\n", job.ID)
	fmt.Fprintf(out, "state    %s\n", job.State)
	if job.FormatID != "" {
		fmt.Fprintf(out, "format   %s v%s (confidence %.2f)\n", job.FormatID, job.FormatVersion, job.Confidence)
	}
	fmt.Fprintf(out, "rows     total=%d accepted=%d rejected=%d duplicate=%d inserted=%d\n",
		job.Counts.Total, job.Counts.Accepted, job.Counts.Rejected, job.Counts.Duplicate, job.Counts.Inserted)
	for _, re := range job.ErrorSummary {
		if re.Store != "" {
			fmt.Fprintf(out, "  row %d [%s] %s: %s\n", re.Row, re.Store, re.Reason, re.Detail)
			continue
		}
		fmt.Fprintf(out, "  row %d %s: %s\n", re.Row, re.Reason, re.Detail)
	}
	if job.LastError != "" {
		fmt.Fprintf(out, "error    %s\n", job.LastError)
	}
}
