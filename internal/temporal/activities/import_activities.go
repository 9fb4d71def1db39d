package activities

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/papersources"
)

// DefaultImportChunkSize is the number of ids fetched per connector call.
const DefaultImportChunkSize = 100

// ConnectorLookup resolves a source to its connector.
type ConnectorLookup interface {
	Get(source domain.SourceType) papersources.Connector
}

// RecordWriter stores normalized records, ignoring ones already stored.
type RecordWriter interface {
	UpsertBatch(ctx context.Context, projectID uuid.UUID, records []domain.NormalizedRecord) (int, error)
}

// ImportActivities runs bulk import jobs.
type ImportActivities struct {
	sources   ConnectorLookup
	store     RecordWriter
	counter   RecordCounter
	chunkSize int
}

// NewImportActivities creates ImportActivities.
func NewImportActivities(sources ConnectorLookup, store RecordWriter, counter RecordCounter) *ImportActivities {
	return &ImportActivities{
		sources:   sources,
		store:     store,
		counter:   counter,
		chunkSize: DefaultImportChunkSize,
	}
}

// importProgress is the heartbeat detail of an import: chunks stored so far
// and the totals they produced.
type importProgress struct {
	Chunks   int `json:"chunks"`
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
}

// ImportRecords fetches the requested ids from one source in chunks and
// stores them. A retried attempt resumes after the last stored chunk and
// keeps the totals of earlier attempts.
func (a *ImportActivities) ImportRecords(ctx context.Context, input JobInput) (*ImportOutput, error) {
	logger := activity.GetLogger(ctx)
	if input.Import == nil {
		return nil, nonRetryable(domain.NewValidationError("import", "is required for import jobs"))
	}

	source := input.Import.Source
	connector := a.sources.Get(source)
	if connector == nil || !connector.IsEnabled() {
		return nil, nonRetryable(domain.NewValidationError("import.source", fmt.Sprintf("source %q is not enabled", source)))
	}

	ids := cleanIDs(input.Import.ExternalIDs)
	chunks := chunk(ids, a.chunkSize)

	var progress importProgress
	if activity.HasHeartbeatDetails(ctx) {
		if err := activity.GetHeartbeatDetails(ctx, &progress); err != nil {
			progress = importProgress{}
		}
	}

	logger.Info("starting import",
		"jobID", input.JobID,
		"projectID", input.ProjectID,
		"source", source,
		"ids", len(ids),
		"resumeFromChunk", progress.Chunks,
	)

	for i := progress.Chunks; i < len(chunks); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, err := connector.FetchByIDs(ctx, chunks[i])
		if err != nil {
			return nil, fmt.Errorf("fetch chunk %d from %s: %w", i, source, err)
		}
		inserted, err := a.store.UpsertBatch(ctx, input.ProjectID, records)
		if err != nil {
			return nil, fmt.Errorf("store chunk %d: %w", i, err)
		}

		progress.Chunks = i + 1
		progress.Fetched += len(records)
		progress.Inserted += inserted
		activity.RecordHeartbeat(ctx, progress)
	}

	out := &ImportOutput{
		Source:    source,
		Requested: len(ids),
		Fetched:   progress.Fetched,
		Inserted:  progress.Inserted,
	}

	count, err := a.counter.RefreshRecordCount(ctx, input.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("refresh record count: %w", err)
	}
	out.RecordCount = count

	logger.Info("import completed",
		"jobID", input.JobID,
		"fetched", out.Fetched,
		"inserted", out.Inserted,
		"recordCount", count,
	)
	return out, nil
}

// cleanIDs trims ids and drops blanks and repeats, keeping first-seen order.
func cleanIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultImportChunkSize
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}
