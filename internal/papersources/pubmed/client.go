package pubmed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
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
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the limit without an API key. With a key NCBI
	// allows 10 requests per second.
	DefaultRateLimit = 3.0

	DefaultTimeout    = 30 * time.Second
	DefaultMaxResults = 100

	// MaxResultsLimit is the largest retmax esearch accepts.
	MaxResultsLimit = 10000

	// fetchBatchSize bounds the PMIDs per efetch request to keep URLs short.
	fetchBatchSize = 200

	maxResponseBytes = 32 << 20
	toolName         = "helixir-slr-pipeline"
	sourceName       = "PubMed"
)

// Config holds the configuration for the PubMed connector.
type Config struct {
	Enabled    bool
	BaseURL    string
	APIKey     string
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

// Client implements papersources.Connector for PubMed.
type Client struct {
	config     Config
	httpClient *httpclient.Client
	filter     papersources.RecordFilter
}

var _ papersources.Connector = (*Client)(nil)

// New creates a PubMed connector. A nil httpClient builds one from cfg.
func New(cfg Config, httpClient *httpclient.Client, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()
	logger = logger.With().Str("component", "pubmed").Logger()

	if httpClient == nil {
		httpClient = httpclient.New(httpclient.Config{
			Name:          string(domain.SourceTypePubMed),
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
		filter:     papersources.RecordFilter{Source: domain.SourceTypePubMed, Logger: logger, Metrics: metrics},
	}
}

// Search runs esearch for the PMIDs, then efetch for their metadata.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]domain.NormalizedRecord, error) {
	if !c.config.Enabled {
		return nil, papersources.Unavailable(domain.SourceTypePubMed, errors.New("pubmed source is disabled"))
	}
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	maxResults = min(maxResults, MaxResultsLimit)

	result, err := c.esearch(ctx, query, maxResults)
	if err != nil {
		return nil, papersources.Unavailable(domain.SourceTypePubMed, fmt.Errorf("esearch failed: %w", err))
	}
	if len(result.PhraseNotFound) > 0 && len(result.IDs) == 0 {
		return []domain.NormalizedRecord{}, nil
	}

	return c.fetch(ctx, result.IDs)
}

// FetchByIDs fetches the given PMIDs in efetch batches.
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]domain.NormalizedRecord, error) {
	if !c.config.Enabled {
		return nil, papersources.Unavailable(domain.SourceTypePubMed, errors.New("pubmed source is disabled"))
	}
	return c.fetch(ctx, uniqueIDs(ids))
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypePubMed
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) fetch(ctx context.Context, pmids []string) ([]domain.NormalizedRecord, error) {
	records := make([]domain.NormalizedRecord, 0, len(pmids))
	for start := 0; start < len(pmids); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(pmids))
		set, err := c.efetch(ctx, pmids[start:end])
		if err != nil {
			return nil, papersources.Unavailable(domain.SourceTypePubMed, fmt.Errorf("efetch failed: %w", err))
		}
		for _, article := range set.Articles {
			records = append(records, articleToRecord(article))
		}
	}
	return c.filter.Keep(records), nil
}

func (c *Client) esearch(ctx context.Context, query string, maxResults int) (*ESearchResult, error) {
	q := c.baseQuery()
	q.Set("term", query)
	q.Set("retmax", strconv.Itoa(maxResults))
	q.Set("usehistory", "n")

	var result ESearchResult
	if err := c.get(ctx, "/esearch.fcgi", q, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, domain.NewExternalAPIError(sourceName, http.StatusOK, result.Error, nil)
	}
	return &result, nil
}

func (c *Client) efetch(ctx context.Context, pmids []string) (*PubmedArticleSet, error) {
	if len(pmids) == 0 {
		return &PubmedArticleSet{}, nil
	}
	q := c.baseQuery()
	q.Set("id", strings.Join(pmids, ","))
	q.Set("rettype", "abstract")

	var set PubmedArticleSet
	if err := c.get(ctx, "/efetch.fcgi", q, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) baseQuery() url.Values {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "xml")
	q.Set("tool", toolName)
	if c.config.Email != "" {
		q.Set("email", c.config.Email)
	}
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	return q
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u, err := url.Parse(c.config.BaseURL + path)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse XML response: %w", err)
	}
	return nil
}

// articleToRecord maps one efetch article. Validation happens in the filter.
func articleToRecord(article PubmedArticle) domain.NormalizedRecord {
	pmid := strings.TrimSpace(article.PMID)
	a := article.Article

	journal := a.JournalTitle
	if journal == "" {
		journal = a.JournalAbbrev
	}

	rec := domain.NormalizedRecord{
		ExternalID:      pmid,
		Title:           strings.TrimSpace(a.Title),
		Abstract:        extractAbstract(a.AbstractTexts),
		Authors:         extractAuthors(a.Authors),
		PublicationYear: extractPublicationYear(a),
		Journal:         journal,
		DOI:             extractDOI(article),
	}
	if pmid != "" {
		rec.URL = "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/"
	}
	return rec
}

// extractDOI prefers a valid ELocationID over the ArticleIdList entry.
func extractDOI(article PubmedArticle) string {
	for _, eloc := range article.Article.ELocationIDs {
		if eloc.EIdType == "doi" && eloc.ValidYN != "N" {
			return strings.TrimSpace(eloc.Value)
		}
	}
	for _, aid := range article.ArticleIDs {
		if aid.IdType == "doi" {
			return strings.TrimSpace(aid.Value)
		}
	}
	return ""
}

// extractPublicationYear uses the electronic date when present, otherwise
// the issue date, including MedlineDate forms like "2020 Jan-Feb".
func extractPublicationYear(article Article) int {
	for _, year := range article.ArticleDates {
		if y, err := strconv.Atoi(strings.TrimSpace(year)); err == nil {
			return y
		}
	}
	pubDate := article.PubDate
	if y, err := strconv.Atoi(strings.TrimSpace(pubDate.Year)); err == nil {
		return y
	}
	if fields := strings.Fields(pubDate.MedlineDate); len(fields) > 0 {
		if y, err := strconv.Atoi(strings.Split(fields[0], "-")[0]); err == nil {
			return y
		}
	}
	return 0
}

// extractAbstract joins structured abstract sections as "Label: text".
func extractAbstract(sections []AbstractText) string {
	if len(sections) == 1 && sections[0].Label == "" {
		return strings.TrimSpace(sections[0].Value)
	}

	var parts []string
	for _, at := range sections {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			text = at.Label + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// extractAuthors renders "LastName Initials" per author, comma separated.
func extractAuthors(authors []Author) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.ValidYN == "N" {
			continue
		}
		var name string
		switch {
		case a.CollectiveName != "":
			name = a.CollectiveName
		case a.Initials != "":
			name = strings.TrimSpace(a.LastName + " " + a.Initials)
		default:
			name = strings.TrimSpace(a.LastName + " " + a.ForeName)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
