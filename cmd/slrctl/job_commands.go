package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(connect connectFunc, out *output) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID...",
		Short: "Show the state of one or more jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd, connect, func(ctx context.Context, jobs jobService) error {
				var rows [][]string
				var views []any
				for _, id := range args {
					job, err := jobs.Status(ctx, id)
					if err != nil {
						return fmt.Errorf("job %s: %w", id, err)
					}
					views = append(views, job)
					rows = append(rows, []string{
						job.ID,
						string(job.Type),
						string(job.Queue),
						string(job.Status),
						formatTime(job.EnqueuedAt),
						formatTime(job.EndedAt),
						job.Error,
					})
				}

				if out.isJSON() {
					if len(views) == 1 {
						return writeJSON(cmd, views[0])
					}
					return writeJSON(cmd, views)
				}
				headers := []string{"Job", "Type", "Queue", "Status", "Enqueued", "Ended", "Error"}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, nil))
				return nil
			})
		},
	}
}

func newCancelCommand(connect connectFunc, out *output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd, connect, func(ctx context.Context, jobs jobService) error {
				outcome, err := jobs.Cancel(ctx, args[0])
				if err != nil {
					return fmt.Errorf("cancel job %s: %w", args[0], err)
				}
				if out.isJSON() {
					return writeJSON(cmd, map[string]string{"job_id": args[0], "outcome": string(outcome)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s: cancel %s\n", args[0], outcome)
				return nil
			})
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
