// Package httpclient is the retrying HTTP client shared by the paper source
// connectors and the inference client.
//
// Every attempt waits on a per-client token bucket. Network errors and 408,
// 429 and 5xx responses are retried with exponential backoff capped at
// MaxRetryDelay; a Retry-After header, when present, replaces the computed
// delay. Other statuses are returned to the caller untouched.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
)

// Config configures a Client.
type Config struct {
	// Name labels metrics and errors, e.g. "pubmed" or "inference".
	Name string

	Timeout time.Duration

	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64
	BurstSize int

	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	UserAgent string

	// APIKey is sent in APIKeyHeader when both are set.
	APIKey       string
	APIKeyHeader string
}

// Client wraps http.Client with rate limiting and retries. It is safe for
// concurrent use.
type Client struct {
	client  *http.Client
	limiter *RateLimiter
	config  Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithMetrics records requests, failures and retries.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.client.Transport = rt }
}

// New creates a Client. Zero values fall back to defaults.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1
		if cfg.RateLimit > 1 {
			cfg.BurstSize = int(cfg.RateLimit)
		}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-SLRPipeline/1.0"
	}

	c := &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:  cfg,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "httpclient").Str("client", cfg.Name).Logger()
	return c
}

// Name returns the configured client name.
func (c *Client) Name() string {
	return c.config.Name
}

// Do executes req, retrying transient failures. The request body is replayed
// through GetBody, which http.NewRequest sets for in-memory bodies.
//
// When retries are exhausted the error is a *domain.ExternalAPIError. Context
// cancellation is returned as is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := resetBody(req); err != nil {
				return nil, fmt.Errorf("cannot retry request: %w", err)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		c.metrics.RecordSourceRequest(c.config.Name)
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.metrics.RecordSourceRequestFailed(c.config.Name, "network")
			lastErr, lastStatus = err, 0
			if attempt < c.config.MaxRetries {
				if err := c.sleep(ctx, attempt, c.backoff(attempt), err.Error()); err != nil {
					return nil, err
				}
			}
			continue
		}

		if !Retryable(resp.StatusCode) {
			if resp.StatusCode >= 400 {
				c.metrics.RecordSourceRequestFailed(c.config.Name, strconv.Itoa(resp.StatusCode))
			}
			return resp, nil
		}

		c.metrics.RecordSourceRequestFailed(c.config.Name, strconv.Itoa(resp.StatusCode))
		delay := c.retryAfter(resp, attempt)
		drain(resp)
		lastErr, lastStatus = fmt.Errorf("server returned status %d", resp.StatusCode), resp.StatusCode
		if attempt < c.config.MaxRetries {
			if err := c.sleep(ctx, attempt, delay, lastErr.Error()); err != nil {
				return nil, err
			}
		}
	}

	return nil, domain.NewExternalAPIError(
		c.config.Name,
		lastStatus,
		fmt.Sprintf("max retries exhausted after %d attempts", c.config.MaxRetries+1),
		lastErr,
	)
}

// Retryable reports whether a response status is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// backoff returns RetryDelay * 2^attempt, capped at MaxRetryDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.config.RetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.config.MaxRetryDelay {
			return c.config.MaxRetryDelay
		}
	}
	return min(delay, c.config.MaxRetryDelay)
}

// retryAfter honors a Retry-After header in seconds or HTTP-date form.
func (c *Client) retryAfter(resp *http.Response, attempt int) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return c.backoff(attempt)
	}
	var delay time.Duration
	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		delay = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(header); err == nil {
		delay = time.Until(t)
	}
	if delay <= 0 {
		return c.backoff(attempt)
	}
	return min(delay, c.config.MaxRetryDelay)
}

func (c *Client) sleep(ctx context.Context, attempt int, delay time.Duration, reason string) error {
	c.metrics.RecordSourceRetry(c.config.Name)
	c.logger.Warn().
		Int("attempt", attempt+1).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("retrying request")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resetBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
