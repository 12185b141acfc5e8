// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gemini implements the primary provider binding: a direct HTTPS
// client for the Google Gemini generateContent endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/llm"
	"github.com/teradata-labs/fable/pkg/types"
)

// DefaultBaseURL is the production Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config holds configuration for the Gemini client.
type Config struct {
	// Required: Gemini API key from https://aistudio.google.com/
	APIKey string

	// Model to use (default: "gemini-2.5-flash").
	// - gemini-2.5-pro: complex reasoning, $1.25-2.50/$10-15 per 1M tokens
	// - gemini-2.5-flash: best price/performance, $0.30/$2.50 per 1M tokens
	// - gemini-2.5-flash-lite: fastest/cheapest, similar to Flash pricing
	Model string

	// Optional configuration.
	MaxTokens   int           // default: 2048
	Temperature float64       // default: 0.7
	Timeout     time.Duration // per-call timeout, default: 30s
	BaseURL     string        // override for tests
	Retry       llm.RetryConfig
	Logger      *zap.Logger
}

// Client implements llm.Provider for Google Gemini.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	retry       llm.RetryConfig
	httpClient  *http.Client
	logger      *zap.Logger
}

var _ llm.Provider = (*Client)(nil)

// NewClient creates a Gemini client with defaults filled in.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = llm.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		retry:       cfg.Retry,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return "gemini" }

// Model returns the bound model identifier.
func (c *Client) Model() string { return c.model }

// Call sends one request, retrying transient failures up to the configured
// attempt cap. Retries never extend the caller's deadline.
func (c *Client) Call(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	start := time.Now()
	resp, err := llm.CallWithRetry(ctx, c.logger, c.retry, func(ctx context.Context) (*types.LLMResponse, error) {
		return c.callOnce(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp.Elapsed = time.Since(start)
	return resp, nil
}

func (c *Client) callOnce(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	wireReq := &GenerateContentRequest{
		Contents: []Content{
			{Role: "user", Parts: []Part{{Text: req.Prompt}}},
		},
		GenerationConfig: GenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
			StopSequences:   req.StopSequences,
		},
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, c.malformed(fmt.Sprintf("marshal request: %v", err), err)
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, c.malformed(fmt.Sprintf("build request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		category := llm.ErrorServer
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			category = llm.ErrorTimeout
		}
		return nil, &llm.ProviderError{
			Provider: c.Name(),
			Category: category,
			Message:  err.Error(),
			Err:      err,
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &llm.ProviderError{
			Provider: c.Name(),
			Category: llm.ErrorServer,
			Message:  fmt.Sprintf("read response: %v", err),
			Err:      err,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &llm.ProviderError{
			Provider:   c.Name(),
			Category:   llm.CategorizeStatus(httpResp.StatusCode),
			StatusCode: httpResp.StatusCode,
			Message:    truncate(string(respBody), 500),
		}
	}

	var wireResp GenerateContentResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, c.malformed(fmt.Sprintf("unmarshal response: %v", err), err)
	}
	if wireResp.Error != nil {
		return nil, &llm.ProviderError{
			Provider:   c.Name(),
			Category:   llm.CategorizeStatus(wireResp.Error.Code),
			StatusCode: wireResp.Error.Code,
			Message:    wireResp.Error.Message,
		}
	}
	if len(wireResp.Candidates) == 0 {
		return nil, c.malformed("response has no candidates", nil)
	}

	var content string
	for _, part := range wireResp.Candidates[0].Content.Parts {
		content += part.Text
	}
	if content == "" {
		return nil, c.malformed("candidate has no text parts", nil)
	}

	return &types.LLMResponse{
		RequestID: req.ID,
		Content:   content,
		Usage:     c.buildUsage(req.Prompt, content, wireResp.UsageMetadata),
		Provider:  c.Name(),
		Model:     c.model,
	}, nil
}

// buildUsage fills token counts from usage metadata, estimating from text
// length when the provider omits them.
func (c *Client) buildUsage(prompt, content string, meta UsageMetadata) types.Usage {
	in := meta.PromptTokenCount
	out := meta.CandidatesTokenCount
	total := meta.TotalTokenCount
	if total == 0 {
		total = types.EstimateTokens(prompt + content)
		in = types.EstimateTokens(prompt)
		out = total - in
	} else if in == 0 && out == 0 {
		in = types.EstimateTokens(prompt)
		out = total - in
		if out < 0 {
			out = 0
		}
	}
	return types.Usage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		CostUSD:      c.EstimateCost(in, out),
	}
}

// EstimateCost computes USD spend from token counts using the published
// per-model pricing.
//
// Pricing (per million tokens):
//   - gemini-2.5-pro: $1.875 in / $12.50 out (mid-range)
//   - gemini-2.5-flash: $0.30 in / $2.50 out
//   - gemini-2.5-flash-lite: $0.30 in / $2.50 out
//
// Unknown models default to Flash pricing. Check https://ai.google.dev/pricing
// for current rates.
func (c *Client) EstimateCost(inputTokens, outputTokens int) float64 {
	var inputCostPerM, outputCostPerM float64
	switch c.model {
	case "gemini-2.5-pro":
		inputCostPerM = 1.875
		outputCostPerM = 12.50
	default:
		inputCostPerM = 0.30
		outputCostPerM = 2.50
	}
	return float64(inputTokens)*inputCostPerM/1_000_000 +
		float64(outputTokens)*outputCostPerM/1_000_000
}

func (c *Client) malformed(msg string, err error) *llm.ProviderError {
	return &llm.ProviderError{
		Provider: c.Name(),
		Category: llm.ErrorMalformed,
		Message:  msg,
		Err:      err,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
