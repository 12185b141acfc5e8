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

package gemini

import (
	"context"
	"encoding/json"
	"errors"
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

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Logger:  zaptest.NewLogger(t),
		Retry: llm.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	})
	return client, server
}

func okResponse(text string, promptTokens, outputTokens int) []byte {
	resp := GenerateContentResponse{
		Candidates: []Candidate{
			{Content: Content{Role: "model", Parts: []Part{{Text: text}}}, FinishReason: "STOP"},
		},
		UsageMetadata: UsageMetadata{
			PromptTokenCount:     promptTokens,
			CandidatesTokenCount: outputTokens,
			TotalTokenCount:      promptTokens + outputTokens,
		},
	}
	body, _ := json.Marshal(resp)
	return body
}

func TestCallSuccess(t *testing.T) {
	var gotReq GenerateContentRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write(okResponse("The ranger waits.", 100, 20))
	})

	resp, err := client.Call(context.Background(), &types.LLMRequest{
		ID:            "r1",
		Prompt:        "What does the ranger do?",
		Temperature:   0.4,
		MaxTokens:     256,
		StopSequences: []string{"END"},
	})
	require.NoError(t, err)

	assert.Equal(t, "The ranger waits.", resp.Content)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, 100, resp.Usage.InputTokens)
	assert.Equal(t, 20, resp.Usage.OutputTokens)
	assert.Equal(t, 120, resp.Usage.TotalTokens)
	// flash pricing: 100*0.30/1M + 20*2.50/1M
	assert.InDelta(t, 0.00008, resp.Usage.CostUSD, 1e-9)
	assert.Greater(t, resp.Elapsed, time.Duration(0))

	// request carried our sampling settings
	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "What does the ranger do?", gotReq.Contents[0].Parts[0].Text)
	assert.Equal(t, 0.4, gotReq.GenerationConfig.Temperature)
	assert.Equal(t, 256, gotReq.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, []string{"END"}, gotReq.GenerationConfig.StopSequences)
}

func TestCallAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`))
	})

	_, err := client.Call(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *llm.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, llm.ErrorAuth, perr.Category)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "auth errors must not be retried")
}

func TestCallRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		w.Write(okResponse("recovered", 10, 5))
	})

	resp, err := client.Call(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Call(context.Background(), &types.LLMRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *llm.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, llm.ErrorServer, perr.Category)
	assert.Equal(t, int32(3), calls.Load(), "three attempts then give up")
}

func TestCallMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>oops</html>"},
		{name: "no candidates", body: `{"usageMetadata":{"totalTokenCount":5}}`},
		{name: "empty parts", body: `{"candidates":[{"content":{"role":"model","parts":[]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Write([]byte(tt.body))
			})

			_, err := client.Call(context.Background(), &types.LLMRequest{Prompt: "hi"})
			require.Error(t, err)

			var perr *llm.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, llm.ErrorMalformed, perr.Category)
			assert.Equal(t, int32(1), calls.Load(), "malformed responses must not be retried")
		})
	}
}

func TestUsageEstimatedWhenOmitted(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"abcd"}]}}]}`))
	})

	prompt := "0123456789" // 10 chars -> ceil(10/4)=3 tokens
	resp, err := client.Call(context.Background(), &types.LLMRequest{Prompt: prompt})
	require.NoError(t, err)

	// total = ceil((10+4)/4) = 4, input = 3, output = 1
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Equal(t, 3, resp.Usage.InputTokens)
	assert.Equal(t, 1, resp.Usage.OutputTokens)
}

func TestEstimateCostByModel(t *testing.T) {
	flash := NewClient(Config{APIKey: "k", Model: "gemini-2.5-flash"})
	pro := NewClient(Config{APIKey: "k", Model: "gemini-2.5-pro"})

	assert.InDelta(t, 0.30/1e6*1000+2.50/1e6*500, flash.EstimateCost(1000, 500), 1e-12)
	assert.InDelta(t, 1.875/1e6*1000+12.50/1e6*500, pro.EstimateCost(1000, 500), 1e-12)
}

func TestName(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	assert.Equal(t, "gemini", c.Name())
	assert.Equal(t, "gemini-2.5-flash", c.Model())
}
