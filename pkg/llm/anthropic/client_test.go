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

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/fable/pkg/llm"
	"github.com/teradata-labs/fable/pkg/types"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Retry: llm.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c
}

func messageResponse(text string, inputTokens, outputTokens int) string {
	return fmt.Sprintf(`{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"content": [{"type": "text", "text": %q}],
		"model": "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": %d, "output_tokens": %d}
	}`, text, inputTokens, outputTokens)
}

func TestCallSuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, messageResponse("A tense silence falls.", 100, 20))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Call(context.Background(), &types.LLMRequest{
		ID:     "req-1",
		Prompt: "Narrate the standoff.",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "claude-sonnet-4-5-20250929", gotBody["model"])

	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "A tense silence falls.", resp.Content)
	assert.Equal(t, 100, resp.Usage.InputTokens)
	assert.Equal(t, 20, resp.Usage.OutputTokens)
	assert.Equal(t, 120, resp.Usage.TotalTokens)
	assert.InDelta(t, 0.0006, resp.Usage.CostUSD, 1e-9)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Positive(t, resp.Elapsed)
}

func TestCallAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid key"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Call(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *llm.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, llm.ErrorAuth, perr.Category)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.Equal(t, int64(1), calls.Load())
}

func TestCallRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
			return
		}
		fmt.Fprint(w, messageResponse("recovered", 10, 5))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Call(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int64(3), calls.Load())
}

func TestCallEmptyContentIsMalformed(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_01", "type": "message", "role": "assistant",
			"content": [], "model": "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 5, "output_tokens": 0}
		}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Call(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *llm.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, llm.ErrorMalformed, perr.Category)
	assert.Equal(t, int64(1), calls.Load(), "malformed responses are not retried")
}

func TestRequestOverridesApplied(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, messageResponse("ok", 1, 1))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Call(context.Background(), &types.LLMRequest{
		Prompt:        "hi",
		Temperature:   0.2,
		MaxTokens:     128,
		StopSequences: []string{"END"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.2, gotBody["temperature"])
	assert.Equal(t, float64(128), gotBody["max_tokens"])
	assert.Equal(t, []any{"END"}, gotBody["stop_sequences"])
}

func TestEstimateCostByModel(t *testing.T) {
	tests := []struct {
		model string
		want  float64
	}{
		{"claude-sonnet-4-5-20250929", 1_000_000*3.0/1_000_000 + 1_000_000*15.0/1_000_000},
		{"claude-haiku-4-5", 1_000_000*0.8/1_000_000 + 1_000_000*4.0/1_000_000},
		{"claude-opus-4-1", 1_000_000*15.0/1_000_000 + 1_000_000*75.0/1_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			c, err := NewClient(Config{APIKey: "k", Model: tt.model})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, c.EstimateCost(1_000_000, 1_000_000), 1e-9)
		})
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClient(Config{})
	require.Error(t, err)
}
