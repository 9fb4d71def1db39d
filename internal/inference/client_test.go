package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
)

// fakeService records requests and replies from a queue of canned bodies.
type fakeService struct {
	mu       sync.Mutex
	requests []generateRequest
	headers  []http.Header
	replies  []reply
}

type reply struct {
	status int
	body   string
}

func (f *fakeService) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, generatePath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.headers = append(f.headers, r.Header.Clone())
		next := reply{status: http.StatusOK, body: `{"text":""}`}
		if len(f.replies) > 0 {
			next, f.replies = f.replies[0], f.replies[1:]
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(next.status)
		_, _ = w.Write([]byte(next.body))
	}
}

func textReply(text string) reply {
	b, _ := json.Marshal(map[string]string{"text": text})
	return reply{status: http.StatusOK, body: string(b)}
}

func newTestClient(t *testing.T, svc *fakeService, cfg Config, metrics *observability.Metrics) *Client {
	t.Helper()
	server := httptest.NewServer(svc.handler(t))
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL + "/"
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	cfg.MaxRetryDelay = 5 * time.Millisecond
	return New(cfg, nil, zerolog.Nop(), metrics)
}

func TestComplete_TextMode(t *testing.T) {
	svc := &fakeService{replies: []reply{textReply("A plain answer.")}}
	c := newTestClient(t, svc, Config{
		RepairModel: "tiny",
		Options:     Options{Temperature: 0.2, TopP: 0.9, MaxTokens: 256, Stop: []string{"###"}},
	}, nil)

	got, err := c.Complete(context.Background(), "Summarize.", "big", ModeText)
	require.NoError(t, err)

	assert.Equal(t, "A plain answer.", got.Text)
	assert.Nil(t, got.Object)
	assert.False(t, got.Repaired)

	require.Len(t, svc.requests, 1)
	req := svc.requests[0]
	assert.Equal(t, "big", req.Model)
	assert.Equal(t, "Summarize.", req.Prompt)
	assert.False(t, req.Stream)
	assert.Empty(t, req.Format)
	assert.Equal(t, 0.2, req.Options.Temperature)
	assert.Equal(t, 256, req.Options.MaxTokens)
	assert.Equal(t, []string{"###"}, req.Options.Stop)
}

func TestComplete_JSONMode(t *testing.T) {
	svc := &fakeService{replies: []reply{
		textReply("Here you go:\n```json\n{\"relevance_score\": 8, \"decision\": \"include\"}\n```"),
	}}
	c := newTestClient(t, svc, Config{RepairModel: "tiny"}, nil)

	got, err := c.Complete(context.Background(), "Screen this.", "small", ModeJSON)
	require.NoError(t, err)

	assert.Equal(t, float64(8), got.Object["relevance_score"])
	assert.Equal(t, "include", got.Object["decision"])
	assert.False(t, got.Repaired)

	require.Len(t, svc.requests, 1)
	assert.Equal(t, "json", svc.requests[0].Format)
	assert.True(t, strings.HasPrefix(svc.requests[0].Prompt, "Screen this."))
	assert.True(t, strings.HasSuffix(svc.requests[0].Prompt, jsonInstruction))
}

func TestComplete_AcceptsResponseField(t *testing.T) {
	svc := &fakeService{replies: []reply{{status: http.StatusOK, body: `{"response":"{\"ok\":true}","done":true}`}}}
	c := newTestClient(t, svc, Config{RepairModel: "tiny"}, nil)

	got, err := c.Complete(context.Background(), "p", "small", ModeJSON)
	require.NoError(t, err)
	assert.Equal(t, true, got.Object["ok"])
}

func TestComplete_RepairSucceeds(t *testing.T) {
	metrics := observability.NewMetrics("inference_repair_ok")
	svc := &fakeService{replies: []reply{
		textReply(`{"decision": "include", "relevance_score": 7,`),
		textReply(`{"decision": "include", "relevance_score": 7}`),
	}}
	c := newTestClient(t, svc, Config{RepairModel: "tiny"}, metrics)

	got, err := c.Complete(context.Background(), "p", "small", ModeJSON)
	require.NoError(t, err)

	assert.True(t, got.Repaired)
	assert.Equal(t, "include", got.Object["decision"])

	require.Len(t, svc.requests, 2)
	repairReq := svc.requests[1]
	assert.Equal(t, "tiny", repairReq.Model)
	assert.Equal(t, "json", repairReq.Format)
	assert.Contains(t, repairReq.Prompt, `{"decision": "include", "relevance_score": 7,`)
	assert.True(t, strings.HasPrefix(repairReq.Prompt, repairInstruction))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InferenceRepairs.WithLabelValues("succeeded")))
}

func TestComplete_RepairFails(t *testing.T) {
	metrics := observability.NewMetrics("inference_repair_failed")
	svc := &fakeService{replies: []reply{
		textReply("I think it should be included."),
		textReply("Still no JSON here."),
		textReply(`{"never":"reached"}`),
	}}
	c := newTestClient(t, svc, Config{RepairModel: "tiny"}, metrics)

	_, err := c.Complete(context.Background(), "p", "small", ModeJSON)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInference)

	var infErr *domain.InferenceError
	require.True(t, errors.As(err, &infErr))
	assert.Equal(t, domain.InferenceStageRepair, infErr.Stage)
	assert.Equal(t, "small", infErr.Model)
	assert.Equal(t, "Still no JSON here.", infErr.Raw)

	assert.Len(t, svc.requests, 2, "exactly one repair call")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InferenceRepairs.WithLabelValues("failed")))
}

func TestComplete_NoRepairModel(t *testing.T) {
	svc := &fakeService{replies: []reply{textReply("nope")}}
	c := newTestClient(t, svc, Config{}, nil)

	_, err := c.Complete(context.Background(), "p", "small", ModeJSON)

	var infErr *domain.InferenceError
	require.True(t, errors.As(err, &infErr))
	assert.Equal(t, domain.InferenceStageDecode, infErr.Stage)
	assert.Len(t, svc.requests, 1)
}

func TestComplete_ServerError(t *testing.T) {
	svc := &fakeService{replies: []reply{
		{status: http.StatusServiceUnavailable, body: `{"error":"loading model"}`},
		{status: http.StatusServiceUnavailable, body: `{"error":"loading model"}`},
	}}
	c := newTestClient(t, svc, Config{RepairModel: "tiny", MaxRetries: 1}, nil)

	_, err := c.Complete(context.Background(), "p", "small", ModeText)

	var infErr *domain.InferenceError
	require.True(t, errors.As(err, &infErr))
	assert.Equal(t, domain.InferenceStageTransport, infErr.Stage)

	var apiErr *domain.ExternalAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Len(t, svc.requests, 2)
}

func TestComplete_ClientErrorNotRetried(t *testing.T) {
	svc := &fakeService{replies: []reply{{status: http.StatusNotFound, body: `{"error":"model 'ghost' not found"}`}}}
	c := newTestClient(t, svc, Config{RepairModel: "tiny", MaxRetries: 3}, nil)

	_, err := c.Complete(context.Background(), "p", "ghost", ModeJSON)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInference)
	assert.Contains(t, err.Error(), "model 'ghost' not found")
	assert.Len(t, svc.requests, 1, "neither retried nor repaired")
}

func TestComplete_BadEnvelope(t *testing.T) {
	svc := &fakeService{replies: []reply{{status: http.StatusOK, body: `<html>proxy</html>`}}}
	c := newTestClient(t, svc, Config{RepairModel: "tiny"}, nil)

	_, err := c.Complete(context.Background(), "p", "small", ModeText)

	var infErr *domain.InferenceError
	require.True(t, errors.As(err, &infErr))
	assert.Equal(t, domain.InferenceStageDecode, infErr.Stage)
}

func TestComplete_SendsBearerToken(t *testing.T) {
	svc := &fakeService{replies: []reply{textReply("ok")}}
	c := newTestClient(t, svc, Config{APIKey: "s3cret"}, nil)

	_, err := c.Complete(context.Background(), "p", "small", ModeText)
	require.NoError(t, err)
	require.Len(t, svc.headers, 1)
	assert.Equal(t, "Bearer s3cret", svc.headers[0].Get("Authorization"))
}

func TestComplete_RequiresModel(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"}, nil, zerolog.Nop(), nil)

	_, err := c.Complete(context.Background(), "p", "", ModeText)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestComplete_ContextCancelled(t *testing.T) {
	svc := &fakeService{}
	c := newTestClient(t, svc, Config{RepairModel: "tiny"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, "p", "small", ModeJSON)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseObject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    map[string]interface{}
		wantErr bool
	}{
		{"bare object", `{"a":1}`, map[string]interface{}{"a": float64(1)}, false},
		{"surrounding prose", "Result: {\"a\": \"x\"} done", map[string]interface{}{"a": "x"}, false},
		{"nested", `{"a":{"b":[1,2]}}`, map[string]interface{}{"a": map[string]interface{}{"b": []interface{}{float64(1), float64(2)}}}, false},
		{"no braces", "nothing here", nil, true},
		{"reversed braces", "} {", nil, true},
		{"truncated", `{"a": 1, "b":`, nil, true},
		{"array only", `[1,2,3]`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseObject(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
