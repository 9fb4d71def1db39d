// Package inference is the client of the text-generation service used by the
// screening and extraction stages.
//
// In JSON mode the prompt is extended with a pure-JSON instruction and the
// service is asked for format "json". The object is cut from the first '{' to
// the last '}' of the reply. If that does not parse, exactly one repair call
// is made with the repair model; a second failure is a *domain.InferenceError.
// Transport retries are handled by the shared httpclient.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/httpclient"
	"github.com/helixir/slr-pipeline/internal/observability"
)

// Mode selects how the reply is interpreted.
type Mode string

const (
	ModeText Mode = "text"
	ModeJSON Mode = "json"
)

const (
	generatePath = "/api/generate"

	// maxResponseBytes bounds the body read from the service.
	maxResponseBytes = 10 << 20

	jsonInstruction = "\n\nRespond with a single valid JSON object only. " +
		"Do not include explanations, markdown or code fences."

	repairInstruction = "The following text was supposed to be a single JSON object but could not be parsed. " +
		"Extract the JSON object it contains and return only that object, fixed to be valid JSON. " +
		"Do not add or remove fields.\n\nText:\n"
)

// Completer is implemented by Client and by test doubles in the pipeline.
type Completer interface {
	Complete(ctx context.Context, prompt, model string, mode Mode) (*Completion, error)
}

// Completion is one model reply.
type Completion struct {
	// Text is the raw reply, or the repaired reply when Repaired is set.
	Text string
	// Object is the parsed reply in JSON mode.
	Object map[string]interface{}
	// Repaired reports whether the repair model produced Object.
	Repaired bool
}

// Options are the sampling parameters sent with every request.
type Options struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	RepairModel string
	Options     Options

	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Client calls the generate endpoint of the inference service.
type Client struct {
	config     Config
	httpClient *httpclient.Client
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// New creates a Client. A nil httpClient builds one from cfg.
func New(cfg Config, httpClient *httpclient.Client, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		hc := httpclient.Config{
			Name:          "inference",
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.MaxRetries,
			RetryDelay:    cfg.RetryDelay,
			MaxRetryDelay: cfg.MaxRetryDelay,
		}
		if cfg.APIKey != "" {
			hc.APIKey = "Bearer " + cfg.APIKey
			hc.APIKeyHeader = "Authorization"
		}
		httpClient = httpclient.New(hc, httpclient.WithMetrics(metrics), httpclient.WithLogger(logger))
	}

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "inference").Logger(),
		metrics:    metrics,
	}
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
	Format  string  `json:"format,omitempty"`
}

// generateResponse accepts both the "text" and the "response" reply field.
type generateResponse struct {
	Text     string `json:"text"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (r generateResponse) output() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Response
}

// Complete sends prompt to model. In ModeJSON the reply must contain a JSON
// object, falling back to one repair call when it does not.
func (c *Client) Complete(ctx context.Context, prompt, model string, mode Mode) (*Completion, error) {
	if model == "" {
		return nil, domain.NewValidationError("model", "is required")
	}

	if mode != ModeJSON {
		text, err := c.generate(ctx, prompt, model, ModeText)
		if err != nil {
			return nil, err
		}
		return &Completion{Text: text}, nil
	}

	text, err := c.generate(ctx, prompt+jsonInstruction, model, ModeJSON)
	if err != nil {
		return nil, err
	}

	obj, parseErr := ParseObject(text)
	if parseErr == nil {
		return &Completion{Text: text, Object: obj}, nil
	}

	c.logger.Warn().
		Err(parseErr).
		Str("model", model).
		Str("repair_model", c.config.RepairModel).
		Msg("model reply is not valid JSON, attempting repair")

	return c.repair(ctx, model, text)
}

func (c *Client) repair(ctx context.Context, model, malformed string) (*Completion, error) {
	if c.config.RepairModel == "" {
		c.metrics.RecordInferenceFailure(model, string(domain.InferenceStageDecode))
		return nil, domain.NewInferenceError(model, domain.InferenceStageDecode, malformed,
			errors.New("reply is not valid JSON and no repair model is configured"))
	}

	repaired, err := c.generate(ctx, repairInstruction+malformed, c.config.RepairModel, ModeJSON)
	if err != nil {
		c.metrics.RecordInferenceRepair(false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewInferenceError(model, domain.InferenceStageRepair, malformed, err)
	}

	obj, err := ParseObject(repaired)
	if err != nil {
		c.metrics.RecordInferenceRepair(false)
		c.metrics.RecordInferenceFailure(model, string(domain.InferenceStageRepair))
		return nil, domain.NewInferenceError(model, domain.InferenceStageRepair, repaired, err)
	}

	c.metrics.RecordInferenceRepair(true)
	return &Completion{Text: repaired, Object: obj, Repaired: true}, nil
}

// generate performs one generate call and returns the reply text.
func (c *Client) generate(ctx context.Context, prompt, model string, mode Mode) (string, error) {
	payload := generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: c.config.Options,
	}
	if mode == ModeJSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.metrics.RecordInferenceFailure(model, string(domain.InferenceStageTransport))
		return "", domain.NewInferenceError(model, domain.InferenceStageTransport, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.RecordInferenceFailure(model, string(domain.InferenceStageTransport))
		return "", domain.NewInferenceError(model, domain.InferenceStageTransport, "",
			fmt.Errorf("failed to read response body: %w", err))
	}
	c.metrics.RecordInferenceRequest(model, string(mode), elapsed)

	var decoded generateResponse
	decodeErr := json.Unmarshal(respBody, &decoded)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && decoded.Error != "" {
			msg = decoded.Error
		}
		c.metrics.RecordInferenceFailure(model, string(domain.InferenceStageTransport))
		return "", domain.NewInferenceError(model, domain.InferenceStageTransport, "",
			domain.NewExternalAPIError("inference", resp.StatusCode, msg, nil))
	}
	if decodeErr != nil {
		c.metrics.RecordInferenceFailure(model, string(domain.InferenceStageDecode))
		return "", domain.NewInferenceError(model, domain.InferenceStageDecode, string(respBody),
			fmt.Errorf("failed to decode response envelope: %w", decodeErr))
	}

	c.logger.Debug().
		Str("model", model).
		Str("mode", string(mode)).
		Float64("elapsed_seconds", elapsed).
		Int("reply_length", len(decoded.output())).
		Msg("inference completed")
	return decoded.output(), nil
}

// ParseObject cuts text from its first '{' to its last '}' and decodes the
// result as a JSON object.
func ParseObject(text string) (map[string]interface{}, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, errors.New("reply contains no JSON object")
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("reply is not valid JSON: %w", err)
	}
	return obj, nil
}
