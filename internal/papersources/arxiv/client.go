package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/httpclient"
	"github.com/helixir/slr-pipeline/internal/observability"
	"github.com/helixir/slr-pipeline/internal/papersources"
)

const (
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit follows arXiv's one request every three seconds.
	DefaultRateLimit = 1.0 / 3

	DefaultTimeout    = 30 * time.Second
	DefaultMaxResults = 100

	// MaxResultsLimit is the largest page the API serves.
	MaxResultsLimit = 2000

	fetchBatchSize   = 100
	maxResponseBytes = 16 << 20
	sourceName       = "arXiv"
)

var (
	arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

	// fieldPrefix matches queries that already use arXiv field syntax.
	fieldPrefix = regexp.MustCompile(`(?i)\b(ti|au|abs|co|jr|cat|rn|id|all):`)
)

// Config holds the configuration for the arXiv connector.
type Config struct {
	Enabled    bool
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64
	MaxResults int

	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements papersources.Connector for arXiv.
type Client struct {
	config     Config
	httpClient *httpclient.Client
	filter     papersources.RecordFilter
}

var _ papersources.Connector = (*Client)(nil)

// New creates an arXiv connector. A nil httpClient builds one from cfg.
func New(cfg Config, httpClient *httpclient.Client, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()
	logger = logger.With().Str("component", "arxiv").Logger()

	if httpClient == nil {
		httpClient = httpclient.New(httpclient.Config{
			Name:          string(domain.SourceTypeArXiv),
			Timeout:       cfg.Timeout,
			RateLimit:     cfg.RateLimit,
			MaxRetries:    cfg.MaxRetries,
			RetryDelay:    cfg.RetryDelay,
			MaxRetryDelay: cfg.MaxRetryDelay,
		}, httpclient.WithMetrics(metrics), httpclient.WithLogger(logger))
	}

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		filter:     papersources.RecordFilter{Source: domain.SourceTypeArXiv, Logger: logger, Metrics: metrics},
	}
}

// Search queries arXiv. Free text is searched across all fields; queries
// already using field prefixes (ti:, abs:, ...) are sent unchanged.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]domain.NormalizedRecord, error) {
	if !c.config.Enabled {
		return nil, papersources.Unavailable(domain.SourceTypeArXiv, errors.New("arxiv source is disabled"))
	}
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	maxResults = min(maxResults, MaxResultsLimit)

	searchQuery := strings.TrimSpace(query)
	if !fieldPrefix.MatchString(searchQuery) {
		searchQuery = "all:" + searchQuery
	}

	q := url.Values{}
	q.Set("search_query", searchQuery)
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("sortBy", "relevance")
	q.Set("sortOrder", "descending")

	feed, err := c.query(ctx, q)
	if err != nil {
		return nil, papersources.Unavailable(domain.SourceTypeArXiv, err)
	}
	return c.toRecords(feed), nil
}

// FetchByIDs looks the ids up through id_list, in batches.
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]domain.NormalizedRecord, error) {
	if !c.config.Enabled {
		return nil, papersources.Unavailable(domain.SourceTypeArXiv, errors.New("arxiv source is disabled"))
	}

	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}

	var records []domain.NormalizedRecord
	for start := 0; start < len(cleaned); start += fetchBatchSize {
		batch := cleaned[start:min(start+fetchBatchSize, len(cleaned))]

		q := url.Values{}
		q.Set("id_list", strings.Join(batch, ","))
		q.Set("max_results", strconv.Itoa(len(batch)))

		feed, err := c.query(ctx, q)
		if err != nil {
			return nil, papersources.Unavailable(domain.SourceTypeArXiv, err)
		}
		records = append(records, c.toRecords(feed)...)
	}
	return records, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeArXiv
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) query(ctx context.Context, q url.Values) (*Feed, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/query"
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	var feed Feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// Query errors come back as a 200 feed with a single error entry.
	if len(feed.Entries) == 1 && strings.Contains(feed.Entries[0].ID, "/api/errors") {
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, normalizeWhitespace(feed.Entries[0].Summary), nil)
	}
	return &feed, nil
}

func (c *Client) toRecords(feed *Feed) []domain.NormalizedRecord {
	records := make([]domain.NormalizedRecord, 0, len(feed.Entries))
	for i := range feed.Entries {
		records = append(records, entryToRecord(&feed.Entries[i]))
	}
	return c.filter.Keep(records)
}

func entryToRecord(entry *Entry) domain.NormalizedRecord {
	rec := domain.NormalizedRecord{
		ExternalID: extractArXivID(entry.ID),
		Title:      normalizeWhitespace(entry.Title),
		Abstract:   normalizeWhitespace(entry.Summary),
		Journal:    normalizeWhitespace(entry.JournalRef),
		DOI:        strings.TrimSpace(entry.DOI),
		URL:        strings.TrimSpace(entry.ID),
	}

	names := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := normalizeWhitespace(a.Name); name != "" {
			names = append(names, name)
		}
	}
	rec.Authors = strings.Join(names, ", ")

	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(entry.Published)); err == nil {
		rec.PublicationYear = t.Year()
	}

	for _, link := range entry.Links {
		if link.Rel == "alternate" && link.Href != "" {
			rec.URL = link.Href
			break
		}
	}
	return rec
}

// extractArXivID returns the versionless id from an abs URL.
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(strings.TrimSpace(entryURL))
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// normalizeWhitespace trims and collapses runs of whitespace.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
