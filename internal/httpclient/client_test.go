package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
)

func fastConfig() Config {
	return Config{
		Name:          "test",
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{})

	assert.Equal(t, "http", c.Name())
	assert.Equal(t, 30*time.Second, c.client.Timeout)
	assert.Equal(t, time.Second, c.config.RetryDelay)
	assert.Equal(t, 30*time.Second, c.config.MaxRetryDelay)
	assert.Equal(t, "Helixir-SLRPipeline/1.0", c.config.UserAgent)
	assert.Zero(t, c.config.MaxRetries)
}

func TestClient_Do_SetsHeaders(t *testing.T) {
	var agent, key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		key = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.UserAgent = "TestAgent/2.0"
	cfg.APIKey = "secret"
	cfg.APIKeyHeader = "X-API-Key"

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := New(cfg).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "TestAgent/2.0", agent)
	assert.Equal(t, "secret", key)
}

func TestClient_Do_RetriesTransientStatus(t *testing.T) {
	for _, status := range []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusBadGateway} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) < 3 {
					w.WriteHeader(status)
					return
				}
				_, _ = w.Write([]byte("ok"))
			}))
			defer server.Close()

			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
			require.NoError(t, err)

			resp, err := New(fastConfig()).Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, "ok", string(body))
			assert.Equal(t, int32(3), calls.Load())
		})
	}
}

func TestClient_Do_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := New(fastConfig()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Do_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	metrics := observability.NewMetrics("httpclient_exhausted")
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = New(fastConfig(), WithMetrics(metrics)).Do(req)
	require.Error(t, err)

	var apiErr *domain.ExternalAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "test", apiErr.Source)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.SourceRetries.WithLabelValues("test")))
}

func TestClient_Do_ReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, bytes.NewReader([]byte(`{"a":1}`)))
	require.NoError(t, err)

	resp, err := New(fastConfig()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestClient_Do_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.RetryDelay = time.Minute
	cfg.MaxRetryDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = New(cfg).Do(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Backoff(t *testing.T) {
	c := New(Config{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: time.Second})

	assert.Equal(t, 100*time.Millisecond, c.backoff(0))
	assert.Equal(t, 200*time.Millisecond, c.backoff(1))
	assert.Equal(t, 800*time.Millisecond, c.backoff(3))
	assert.Equal(t, time.Second, c.backoff(4))
	assert.Equal(t, time.Second, c.backoff(30))
}

func TestClient_RetryAfter(t *testing.T) {
	c := New(Config{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: 10 * time.Second})

	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, 100*time.Millisecond, c.retryAfter(resp, 0))

	resp.Header.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, c.retryAfter(resp, 0))

	resp.Header.Set("Retry-After", "120")
	assert.Equal(t, 10*time.Second, c.retryAfter(resp, 0), "capped at MaxRetryDelay")

	resp.Header.Set("Retry-After", "garbage")
	assert.Equal(t, 200*time.Millisecond, c.retryAfter(resp, 1))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(http.StatusRequestTimeout))
	assert.True(t, Retryable(http.StatusTooManyRequests))
	assert.True(t, Retryable(http.StatusInternalServerError))
	assert.False(t, Retryable(http.StatusNotFound))
	assert.False(t, Retryable(http.StatusOK))
}

func TestRateLimiter(t *testing.T) {
	unlimited := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow())
	}

	limited := NewRateLimiter(1, 2)
	assert.True(t, limited.Allow())
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, limited.Wait(ctx))
}
