// Package papersources defines the bibliographic source connectors and the
// registry the search coordinator draws them from.
//
// Each database (PubMed, arXiv, OpenAlex) lives in its own subpackage and
// implements Connector. Connectors normalize every hit to a
// domain.NormalizedRecord; a malformed hit is dropped with a warning and
// never fails the batch, while a transport failure fails the whole call with
// a *domain.SourceUnavailableError.
//
// Example usage:
//
//	src := pubmed.New(pubmed.Config{Enabled: true}, nil, logger, metrics)
//	records, err := src.Search(ctx, "statins AND myopathy", 200)
package papersources

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
)

// Connector is implemented by every bibliographic source.
type Connector interface {
	// Search runs query and returns at most maxResults normalized records.
	// maxResults <= 0 uses the connector's configured default.
	Search(ctx context.Context, query string, maxResults int) ([]domain.NormalizedRecord, error)

	// FetchByIDs returns the records for the given source-native ids. Unknown
	// ids are silently absent from the result.
	FetchByIDs(ctx context.Context, ids []string) ([]domain.NormalizedRecord, error)

	// SourceType is the tag stamped on every record the connector returns.
	SourceType() domain.SourceType

	// Name is the human-readable name used in logs.
	Name() string

	// IsEnabled reports whether the connector should be queried at all.
	IsEnabled() bool
}

// RecordFilter drops records without an id or title. Connectors run every
// parsed batch through Keep before returning it.
type RecordFilter struct {
	Source  domain.SourceType
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Keep returns the valid records of recs, in order.
func (f RecordFilter) Keep(recs []domain.NormalizedRecord) []domain.NormalizedRecord {
	out := recs[:0]
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			f.Logger.Warn().
				Str("source", string(f.Source)).
				Str("external_id", rec.ExternalID).
				Err(err).
				Msg("skipping malformed record")
			f.Metrics.RecordMalformedRecord(string(f.Source))
			continue
		}
		rec.SourceTag = f.Source
		out = append(out, rec)
	}
	return out
}

// Unavailable wraps a connector-level failure. Context errors pass through
// unchanged so cancellation stays recognizable.
func Unavailable(source domain.SourceType, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewSourceUnavailableError(source, err)
}
