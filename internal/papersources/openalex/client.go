package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
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
	// DefaultBaseURL is the base URL for the OpenAlex API.
	DefaultBaseURL = "https://api.openalex.org"

	DefaultTimeout    = 30 * time.Second
	DefaultRateLimit  = 10.0
	DefaultMaxResults = 100

	// maxPerPage is the largest page OpenAlex serves.
	maxPerPage = 200

	// fetchBatchSize bounds the ids OR-ed into one filter.
	fetchBatchSize = 50

	maxResponseBytes = 32 << 20
	openAlexIDPrefix = "https://openalex.org/"
	doiPrefix        = "https://doi.org/"
	sourceName       = "OpenAlex"
)

// Config holds the configuration for the OpenAlex connector.
type Config struct {
	Enabled bool
	BaseURL string
	APIKey  string
	// Email puts requests in the polite pool.
	Email      string
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

// Client implements papersources.Connector for OpenAlex.
type Client struct {
	config     Config
	httpClient *httpclient.Client
	filter     papersources.RecordFilter
}

var _ papersources.Connector = (*Client)(nil)

// New creates an OpenAlex connector. A nil httpClient builds one from cfg.
func New(cfg Config, httpClient *httpclient.Client, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()
	logger = logger.With().Str("component", "openalex").Logger()

	if httpClient == nil {
		userAgent := "Helixir-SLRPipeline/1.0"
		if cfg.Email != "" {
			userAgent += " (mailto:" + cfg.Email + ")"
		}
		httpClient = httpclient.New(httpclient.Config{
			Name:          string(domain.SourceTypeOpenAlex),
			Timeout:       cfg.Timeout,
			RateLimit:     cfg.RateLimit,
			MaxRetries:    cfg.MaxRetries,
			RetryDelay:    cfg.RetryDelay,
			MaxRetryDelay: cfg.MaxRetryDelay,
			UserAgent:     userAgent,
		}, httpclient.WithMetrics(metrics), httpclient.WithLogger(logger))
	}

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		filter:     papersources.RecordFilter{Source: domain.SourceTypeOpenAlex, Logger: logger, Metrics: metrics},
	}
}

// Search walks the cursor pages of /works?search= until maxResults records
// are collected or the result set ends.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]domain.NormalizedRecord, error) {
	if !c.config.Enabled {
		return nil, papersources.Unavailable(domain.SourceTypeOpenAlex, errors.New("openalex source is disabled"))
	}
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}

	var works []Work
	cursor := "*"
	for cursor != "" && len(works) < maxResults {
		q := c.baseQuery()
		q.Set("search", query)
		q.Set("per_page", strconv.Itoa(min(maxResults-len(works), maxPerPage)))
		q.Set("cursor", cursor)

		page, err := c.works(ctx, q)
		if err != nil {
			return nil, papersources.Unavailable(domain.SourceTypeOpenAlex, err)
		}
		works = append(works, page.Results...)
		if len(page.Results) == 0 {
			break
		}
		cursor = page.Meta.NextCursor
	}
	if len(works) > maxResults {
		works = works[:maxResults]
	}
	return c.toRecords(works), nil
}

// FetchByIDs resolves OpenAlex work ids (W123 or full URLs) through the
// openalex filter, in batches.
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]domain.NormalizedRecord, error) {
	if !c.config.Enabled {
		return nil, papersources.Unavailable(domain.SourceTypeOpenAlex, errors.New("openalex source is disabled"))
	}

	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = normalizeOpenAlexID(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}

	var works []Work
	for start := 0; start < len(cleaned); start += fetchBatchSize {
		batch := cleaned[start:min(start+fetchBatchSize, len(cleaned))]

		q := c.baseQuery()
		q.Set("filter", "openalex:"+strings.Join(batch, "|"))
		q.Set("per_page", strconv.Itoa(len(batch)))

		page, err := c.works(ctx, q)
		if err != nil {
			return nil, papersources.Unavailable(domain.SourceTypeOpenAlex, err)
		}
		works = append(works, page.Results...)
	}
	return c.toRecords(works), nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeOpenAlex
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) baseQuery() url.Values {
	q := url.Values{}
	if c.config.Email != "" {
		q.Set("mailto", c.config.Email)
	}
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	return q
}

func (c *Client) works(ctx context.Context, q url.Values) (*WorksPage, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/works"
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		message := string(body)
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			message = apiErr.Message
		}
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
	}

	var page WorksPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &page, nil
}

func (c *Client) toRecords(works []Work) []domain.NormalizedRecord {
	records := make([]domain.NormalizedRecord, 0, len(works))
	for i := range works {
		records = append(records, workToRecord(&works[i]))
	}
	return c.filter.Keep(records)
}

func workToRecord(work *Work) domain.NormalizedRecord {
	id := normalizeOpenAlexID(work.ID)
	if id == "" {
		id = normalizeOpenAlexID(work.IDs.OpenAlex)
	}

	doi := normalizeDOI(work.DOI)
	if doi == "" {
		doi = normalizeDOI(work.IDs.DOI)
	}

	title := work.DisplayName
	if title == "" {
		title = work.Title
	}

	names := make([]string, 0, len(work.Authorships))
	for _, a := range work.Authorships {
		if name := strings.TrimSpace(a.Author.DisplayName); name != "" {
			names = append(names, name)
		}
	}

	rec := domain.NormalizedRecord{
		ExternalID:      id,
		Title:           strings.TrimSpace(title),
		Abstract:        reconstructAbstract(work.AbstractInvertedIndex),
		Authors:         strings.Join(names, ", "),
		PublicationYear: work.PublicationYear,
		DOI:             doi,
	}
	if id != "" {
		rec.URL = openAlexIDPrefix + id
	}
	if loc := work.PrimaryLocation; loc != nil {
		if loc.Source != nil {
			rec.Journal = loc.Source.DisplayName
		}
		if loc.LandingPageURL != "" {
			rec.URL = loc.LandingPageURL
		}
	}
	return rec
}

// normalizeDOI strips the resolver prefix and lowercases.
func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	doi = strings.TrimPrefix(doi, doiPrefix)
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return strings.ToLower(strings.TrimSpace(doi))
}

// normalizeOpenAlexID extracts the short ID from full OpenAlex URLs.
func normalizeOpenAlexID(id string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(id), openAlexIDPrefix))
}

// reconstructAbstract rebuilds the abstract from the inverted index.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	const maxAbstractWords = 100_000
	total := 0
	for _, positions := range invertedIndex {
		total += len(positions)
	}
	if total > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, total)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })

	var b strings.Builder
	b.Grow(total * 7)
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.word)
	}
	return b.String()
}
