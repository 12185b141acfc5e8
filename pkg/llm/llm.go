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

// Package llm defines the provider boundary: the single interface through
// which the simulation reaches a language model, the typed error taxonomy
// for provider failures, and shared retry and token-counting helpers.
// Concrete bindings live in the subpackages (gemini is the primary).
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/teradata-labs/fable/pkg/types"
)

// Provider is one outbound LLM binding. Implementations must be safe for
// concurrent use; the broker calls them from the batch worker and from
// immediate-path submitter goroutines at the same time.
type Provider interface {
	// Call sends one request and blocks until the response or a typed error.
	Call(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error)
	// Name identifies the binding, e.g. "gemini".
	Name() string
	// Model identifies the bound model, e.g. "gemini-2.5-flash".
	Model() string
	// EstimateCost predicts USD spend for a call of the given token shape.
	EstimateCost(inputTokens, outputTokens int) float64
}

// ErrorCategory classifies a provider failure for retry and metrics
// decisions.
type ErrorCategory string

const (
	ErrorAuth      ErrorCategory = "auth"
	ErrorRateLimit ErrorCategory = "rate_limit"
	ErrorTimeout   ErrorCategory = "timeout"
	ErrorServer    ErrorCategory = "server"
	ErrorMalformed ErrorCategory = "malformed_response"
)

// ProviderError is the typed failure every binding returns. Category drives
// the retry decision; StatusCode is the HTTP status when one exists.
type ProviderError struct {
	Provider   string
	Category   ErrorCategory
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Category, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the adapter may retry the call. Auth failures
// and malformed responses never recover by retrying.
func (e *ProviderError) Retryable() bool {
	switch e.Category {
	case ErrorRateLimit, ErrorTimeout, ErrorServer:
		return true
	default:
		return false
	}
}

// CategorizeStatus maps an HTTP status code onto the error taxonomy.
func CategorizeStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuth
	case status == http.StatusTooManyRequests:
		return ErrorRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTimeout
	case status >= 500:
		return ErrorServer
	default:
		return ErrorMalformed
	}
}
