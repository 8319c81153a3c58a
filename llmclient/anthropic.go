// Package llmclient adapts an LLM vendor API to the classifier's
// optional LLM step: a single structured-classification
// call, never chat completions, streaming, embeddings, or tool-calling
// generality. Adapted from a larger multi-vendor gateway's Anthropic
// connector, trimmed to the one call this domain needs.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ledgerflow/ledgercore/external"
	"github.com/ledgerflow/ledgercore/metrics"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	defaultModel     = "claude-3-5-haiku-20241022"
)

// Config configures the Anthropic classification connector.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// AnthropicClassifier implements external.LLMProvider against
// Anthropic's Messages API, forcing a tool-call response so the result
// parses directly into external.LLMClassification.
type AnthropicClassifier struct {
	cfg     Config
	client  *http.Client
	metrics *metrics.Metrics
}

// NewAnthropicClassifier constructs an AnthropicClassifier. m may be nil
// in tests that don't assert on exported metrics.
func NewAnthropicClassifier(cfg Config, m *metrics.Metrics) *AnthropicClassifier {
	cfg = cfg.withDefaults()
	return &AnthropicClassifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		metrics: m,
	}
}

func (c *AnthropicClassifier) recordLatency(outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.LLMLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

var classificationTool = map[string]any{
	"name":        "classify_transaction",
	"description": "Return the book, category, payment mode and confidence for a transaction.",
	"input_schema": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"book_id":      map[string]any{"type": "string"},
			"category_id":  map[string]any{"type": "string"},
			"payment_mode": map[string]any{"type": "string"},
			"confidence":   map[string]any{"type": "number"},
			"reasoning":    map[string]any{"type": "string"},
		},
		"required": []string{"book_id", "category_id", "payment_mode", "confidence"},
	},
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
	Tools     []any     `json:"tools"`
	ToolChoice any       `json:"tool_choice"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
}

type classificationArgs struct {
	BookID      string  `json:"book_id"`
	CategoryID  string  `json:"category_id"`
	PaymentMode string  `json:"payment_mode"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// Classify implements external.LLMProvider.
func (c *AnthropicClassifier) Classify(ctx context.Context, prompt string) (external.LLMClassification, error) {
	start := time.Now()
	result, err := c.classify(ctx, prompt)
	if err != nil {
		c.recordLatency("error", start)
	} else {
		c.recordLatency("success", start)
	}
	return result, err
}

func (c *AnthropicClassifier) classify(ctx context.Context, prompt string) (external.LLMClassification, error) {
	reqBody := messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: 512,
		Messages:  []message{{Role: "user", Content: prompt}},
		Tools:     []any{classificationTool},
		ToolChoice: map[string]any{"type": "tool", "name": "classify_transaction"},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return external.LLMClassification{}, fmt.Errorf("llmclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return external.LLMClassification{}, fmt.Errorf("llmclient: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return external.LLMClassification{}, fmt.Errorf("llmclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return external.LLMClassification{}, fmt.Errorf("llmclient: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return external.LLMClassification{}, fmt.Errorf("llmclient: provider returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return external.LLMClassification{}, fmt.Errorf("llmclient: decode response: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type != "tool_use" {
			continue
		}
		var args classificationArgs
		if err := json.Unmarshal(block.Input, &args); err != nil {
			return external.LLMClassification{}, fmt.Errorf("llmclient: decode tool input: %w", err)
		}
		return external.LLMClassification{
			BookID:      args.BookID,
			CategoryID:  args.CategoryID,
			PaymentMode: args.PaymentMode,
			Confidence:  args.Confidence,
			Reasoning:   args.Reasoning,
		}, nil
	}
	return external.LLMClassification{}, fmt.Errorf("llmclient: no tool_use block in response")
}
