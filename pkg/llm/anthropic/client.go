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

// Package anthropic implements the alternate provider adapter on top of the
// official Anthropic SDK. The adapter owns retries itself (SDK retries are
// disabled) so every provider behaves identically under the broker.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/llm"
	"github.com/teradata-labs/fable/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens is the default maximum tokens per request.
	DefaultMaxTokens = 2048
	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 1.0
	// DefaultTimeout bounds a single API attempt.
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey      string
	Model       string        // Default: claude-sonnet-4-5-20250929
	MaxTokens   int           // Default: 2048
	Temperature float64       // Default: 1.0
	Timeout     time.Duration // Default: 60s, per attempt
	BaseURL     string        // Override for tests
	Retry       llm.RetryConfig
	Logger      *zap.Logger
}

// Client adapts the Anthropic Messages API to the Provider interface.
type Client struct {
	sdk         sdk.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	retry       llm.RetryConfig
	logger      *zap.Logger
}

var _ llm.Provider = (*Client)(nil)

// NewClient creates an Anthropic-backed provider.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key required (set ANTHROPIC_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = llm.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // retries live in llm.CallWithRetry
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		sdk:         sdk.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		retry:       cfg.Retry,
		logger:      cfg.Logger.Named("anthropic"),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "anthropic" }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Call sends a single-prompt completion request to the Messages API.
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
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := int64(c.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	} else {
		params.Temperature = sdk.Float(c.temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	message, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, c.wrapError(ctx, err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, &llm.ProviderError{
			Provider: c.Name(),
			Category: llm.ErrorMalformed,
			Message:  "response contained no text blocks",
		}
	}

	in := int(message.Usage.InputTokens)
	out := int(message.Usage.OutputTokens)
	return &types.LLMResponse{
		RequestID: req.ID,
		Content:   content.String(),
		Usage: types.Usage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
			CostUSD:      c.EstimateCost(in, out),
		},
		Provider: c.Name(),
		Model:    c.model,
	}, nil
}

// wrapError converts SDK and transport failures into the shared error taxonomy.
func (c *Client) wrapError(ctx context.Context, err error) *llm.ProviderError {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return &llm.ProviderError{
			Provider:   c.Name(),
			Category:   llm.CategorizeStatus(apierr.StatusCode),
			StatusCode: apierr.StatusCode,
			Message:    fmt.Sprintf("messages API returned %d", apierr.StatusCode),
			Err:        err,
		}
	}
	category := llm.ErrorServer
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		category = llm.ErrorTimeout
	}
	return &llm.ProviderError{
		Provider: c.Name(),
		Category: category,
		Message:  "request failed",
		Err:      err,
	}
}

// EstimateCost estimates USD cost for the given token counts.
func (c *Client) EstimateCost(inputTokens, outputTokens int) float64 {
	var inPerMillion, outPerMillion float64
	switch {
	case strings.Contains(c.model, "haiku"):
		inPerMillion, outPerMillion = 0.8, 4.0
	case strings.Contains(c.model, "opus"):
		inPerMillion, outPerMillion = 15.0, 75.0
	default: // sonnet-class
		inPerMillion, outPerMillion = 3.0, 15.0
	}
	return float64(inputTokens)*inPerMillion/1_000_000 + float64(outputTokens)*outPerMillion/1_000_000
}
