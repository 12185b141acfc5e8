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

// Package mock provides a deterministic in-process provider for tests and
// dry runs. It never touches the network and charges a fixed per-token rate
// so budget math stays predictable.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/fable/pkg/llm"
	"github.com/teradata-labs/fable/pkg/types"
)

// ResponderFunc produces the content for one request. When nil, the provider
// echoes a short acknowledgement per request.
type ResponderFunc func(req *types.LLMRequest) (string, error)

// Provider is a deterministic llm.Provider. Safe for concurrent use.
type Provider struct {
	responder ResponderFunc
	latency   time.Duration
	costPerTK float64

	calls   atomic.Int64
	mu      sync.Mutex
	prompts []string
}

var _ llm.Provider = (*Provider)(nil)

// Option customizes the mock provider.
type Option func(*Provider)

// WithResponder installs a custom content function.
func WithResponder(fn ResponderFunc) Option {
	return func(p *Provider) { p.responder = fn }
}

// WithLatency makes every call sleep for d, for timeout tests.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithCostPerThousandTokens overrides the flat pricing rate.
func WithCostPerThousandTokens(usd float64) Option {
	return func(p *Provider) { p.costPerTK = usd }
}

// New builds a mock provider.
func New(opts ...Option) *Provider {
	p := &Provider{costPerTK: 0.001}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return "mock" }

// Model returns the bound model identifier.
func (p *Provider) Model() string { return "mock-1" }

// EstimateCost predicts USD spend at the flat per-thousand-token rate.
func (p *Provider) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) / 1000.0 * p.costPerTK
}

// batchRequestMarker matches the broker's batch prompt delimiters so the
// mock can answer batched prompts in the format the broker expects back.
var batchRequestMarker = regexp.MustCompile(`(?m)^## Request (\d+) \(ID: ([^)]+)\)`)

// Call answers deterministically. Batched prompts (containing the broker's
// "## Request N" markers) get one "**Response N:**" section per entry.
func (p *Provider) Call(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	start := time.Now()
	p.calls.Add(1)
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Prompt)
	p.mu.Unlock()

	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, &llm.ProviderError{
				Provider: p.Name(),
				Category: llm.ErrorTimeout,
				Message:  "mock call cancelled",
				Err:      ctx.Err(),
			}
		case <-time.After(p.latency):
		}
	}

	var content string
	if p.responder != nil {
		c, err := p.responder(req)
		if err != nil {
			return nil, err
		}
		content = c
	} else if markers := batchRequestMarker.FindAllStringSubmatch(req.Prompt, -1); len(markers) > 0 {
		var b strings.Builder
		for _, m := range markers {
			fmt.Fprintf(&b, "**Response %s:** acknowledged request %s\n\n", m[1], m[2])
		}
		content = b.String()
	} else {
		content = fmt.Sprintf("acknowledged %s request %s", req.Kind, req.ID)
	}

	in := types.EstimateTokens(req.Prompt)
	out := types.EstimateTokens(content)
	return &types.LLMResponse{
		RequestID: req.ID,
		Content:   content,
		Usage: types.Usage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
			CostUSD:      p.EstimateCost(in, out),
		},
		Provider: p.Name(),
		Model:    p.Model(),
		Elapsed:  time.Since(start),
	}, nil
}

// Calls returns how many times Call ran.
func (p *Provider) Calls() int64 { return p.calls.Load() }

// Prompts returns a copy of every prompt seen, in call order.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}
