package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/temporal"
)

type enqueueFlags struct {
	queue         string
	externalIDs   []string
	resetProgress bool
}

func newEnqueueCommand(connect connectFunc, out *output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a pipeline job for a project",
	}
	cmd.AddCommand(
		newSearchCommand(connect, out),
		newArticleCommand(connect, out, "screen", domain.JobTypeScreening, "Screen a project's records"),
		newArticleCommand(connect, out, "extract", domain.JobTypeExtraction, "Extract data from a project's included records"),
		newScoreCommand(connect, out),
		newImportCommand(connect, out),
	)
	return cmd
}

func addCommonFlags(cmd *cobra.Command, f *enqueueFlags) {
	cmd.Flags().StringVar(&f.queue, "queue", "", "Override the job type's default queue")
}

func newSearchCommand(connect connectFunc, out *output) *cobra.Command {
	var (
		f          enqueueFlags
		query      string
		expert     map[string]string
		sources    []string
		maxResults int
	)

	cmd := &cobra.Command{
		Use:   "search PROJECT_ID",
		Short: "Search the literature sources and store the records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := &temporal.SearchSpec{
				Query:               query,
				MaxResultsPerSource: maxResults,
			}
			for _, s := range sources {
				spec.Sources = append(spec.Sources, domain.SourceType(strings.ToLower(strings.TrimSpace(s))))
			}
			if len(expert) > 0 {
				spec.ExpertQueries = make(map[domain.SourceType]string, len(expert))
				for source, q := range expert {
					spec.ExpertQueries[domain.SourceType(strings.ToLower(source))] = q
				}
			}
			return enqueue(cmd, connect, out, args[0], domain.JobTypeSearch, f, func(req *temporal.JobRequest) {
				req.Search = spec
			})
		},
	}
	addCommonFlags(cmd, &f)
	cmd.Flags().StringVarP(&query, "query", "q", "", "Simple query sent to every source")
	cmd.Flags().StringToStringVar(&expert, "expert", nil, "Source-native query per source (source=query)")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "Sources to search (default all enabled)")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Per-source result cap")
	return cmd
}

func newArticleCommand(connect connectFunc, out *output, use string, jobType domain.JobType, short string) *cobra.Command {
	var f enqueueFlags

	cmd := &cobra.Command{
		Use:   use + " PROJECT_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, connect, out, args[0], jobType, f, func(req *temporal.JobRequest) {
				req.ExternalIDs = f.externalIDs
				req.ResetProgress = f.resetProgress
			})
		},
	}
	addCommonFlags(cmd, &f)
	cmd.Flags().StringSliceVar(&f.externalIDs, "ids", nil, "Limit the batch to these external ids")
	cmd.Flags().BoolVar(&f.resetProgress, "reset-progress", false, "Zero the project's processed count first")
	return cmd
}

func newScoreCommand(connect connectFunc, out *output) *cobra.Command {
	var f enqueueFlags

	cmd := &cobra.Command{
		Use:   "score PROJECT_ID",
		Short: "Compute the project's domain scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, connect, out, args[0], domain.JobTypeScoring, f, nil)
		},
	}
	addCommonFlags(cmd, &f)
	return cmd
}

func newImportCommand(connect connectFunc, out *output) *cobra.Command {
	var (
		f      enqueueFlags
		source string
	)

	cmd := &cobra.Command{
		Use:   "import PROJECT_ID ID...",
		Short: "Fetch records by source-native id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, connect, out, args[0], domain.JobTypeImport, f, func(req *temporal.JobRequest) {
				req.Import = &temporal.ImportSpec{
					Source:      domain.SourceType(strings.ToLower(source)),
					ExternalIDs: args[1:],
				}
			})
		},
	}
	addCommonFlags(cmd, &f)
	cmd.Flags().StringVar(&source, "source", "", "Source the ids belong to (pubmed, arxiv, openalex)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func enqueue(
	cmd *cobra.Command,
	connect connectFunc,
	out *output,
	rawProjectID string,
	jobType domain.JobType,
	f enqueueFlags,
	fill func(*temporal.JobRequest),
) error {
	projectID, err := uuid.Parse(rawProjectID)
	if err != nil {
		return fmt.Errorf("invalid project id %q", rawProjectID)
	}

	req := temporal.JobRequest{
		Type:      jobType,
		ProjectID: projectID,
		Queue:     domain.Queue(f.queue),
	}
	if fill != nil {
		fill(&req)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	return withJobs(cmd, connect, func(ctx context.Context, jobs jobService) error {
		handle, err := jobs.Enqueue(ctx, req)
		if err != nil {
			return fmt.Errorf("enqueue %s job: %w", jobType, err)
		}
		if out.isJSON() {
			return writeJSON(cmd, handle)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s job %s on queue %s\n", handle.Type, handle.ID, handle.Queue)
		return nil
	})
}
