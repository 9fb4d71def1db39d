package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixir/slr-pipeline/internal/config"
	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
	"github.com/helixir/slr-pipeline/internal/temporal"
)

// jobService is the part of the job client the commands use.
type jobService interface {
	Enqueue(ctx context.Context, req temporal.JobRequest) (temporal.JobHandle, error)
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) (temporal.CancelOutcome, error)
}

// connectFunc opens a job service. The returned func releases it.
type connectFunc func(ctx context.Context) (jobService, func(), error)

func newRootCommand(connect connectFunc) *cobra.Command {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "slrctl",
		Short:         "Manage systematic review pipeline jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	out := &output{json: &jsonOutput}
	rootCmd.AddCommand(newEnqueueCommand(connect, out))
	rootCmd.AddCommand(newStatusCommand(connect, out))
	rootCmd.AddCommand(newCancelCommand(connect, out))

	return rootCmd
}

// connectJobService dials Temporal using the service configuration.
func connectJobService(ctx context.Context) (jobService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  "warn",
		Format: "console",
		Output: "stderr",
	})

	c, err := temporal.NewClient(temporal.ClientConfig{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to temporal: %w", err)
	}

	jobs := temporal.NewJobClient(c, temporal.JobClientConfig{
		TaskQueues: temporal.TaskQueues(cfg.Temporal.Queues),
		Timeouts:   temporal.JobTimeouts(cfg.Temporal.JobTimeouts),
	}, nil)
	return jobs, jobs.Close, nil
}

// withJobs connects, runs fn and releases the connection.
func withJobs(cmd *cobra.Command, connect connectFunc, fn func(context.Context, jobService) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	jobs, release, err := connect(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, jobs)
}
