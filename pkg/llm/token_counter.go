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

package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/fable/pkg/types"
)

// TokenCounter counts prompt tokens for cost estimation before a request is
// submitted. Uses tiktoken with cl100k_base, which approximates the Gemini
// and Claude tokenizers closely enough for budgeting; falls back to the
// four-characters-per-token estimate when the encoding is unavailable.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalTokenCounter *TokenCounter
	counterInitOnce    sync.Once
)

// GetTokenCounter returns the shared token counter.
func GetTokenCounter() *TokenCounter {
	counterInitOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			globalTokenCounter = &TokenCounter{}
			return
		}
		globalTokenCounter = &TokenCounter{encoder: tkm}
	})
	return globalTokenCounter
}

// CountTokens returns the token count for text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return types.EstimateTokens(text)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// CountTokensMultiple counts tokens across several segments.
func (tc *TokenCounter) CountTokensMultiple(texts ...string) int {
	total := 0
	for _, text := range texts {
		total += tc.CountTokens(text)
	}
	return total
}

// EstimateRequestCost predicts the USD spend of req against provider,
// assuming the response uses the request's full output allowance.
func EstimateRequestCost(provider Provider, req *types.LLMRequest) float64 {
	in := GetTokenCounter().CountTokens(req.Prompt)
	out := req.MaxTokens
	if out <= 0 {
		out = 1024
	}
	return provider.EstimateCost(in, out)
}
