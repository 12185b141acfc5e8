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

// Package types provides the shared domain records used across the fable
// runtime: world events, causal edges, agent state, LLM request/response
// envelopes, and the simulation configuration. Components exchange these
// records by value or by id; no type in this package reaches back into the
// component that produced it.
package types

import (
	"math"
	"time"
)

// Clock returns the current simulation instant. Stores that decay or expire
// accept a Clock so tests can advance time without sleeping.
type Clock func() time.Time

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 { return Clamp(v, 0, 1) }

// ClampSigned bounds v to [-1, 1].
func ClampSigned(v float64) float64 { return Clamp(v, -1, 1) }

// Priority orders LLM requests in the broker queue. Lower values are more
// urgent; the zero value is PriorityCritical.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined priority levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// LLMRequest is one unit of linguistic reasoning submitted to the broker.
// Requests are transient: they exist from submission until their result is
// delivered or their deadline expires.
type LLMRequest struct {
	ID             string
	Kind           string // batching group, e.g. "dialogue", "interpretation", "coordination"
	Prompt         string
	Priority       Priority
	Temperature    float64
	MaxTokens      int
	ResponseFormat string
	StopSequences  []string
	EstimatedCost  float64
	Deadline       time.Time
	SubmittedAt    time.Time
}

// Usage reports token consumption and cost for a single LLM interaction.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// LLMResponse is the broker's answer to one LLMRequest.
type LLMResponse struct {
	RequestID string
	Content   string
	Usage     Usage
	CacheHit  bool
	Provider  string
	Model     string
	Elapsed   time.Duration
}

// EstimateTokens approximates the token count of text when the provider does
// not report usage. Four characters per token is the conventional estimate
// for English prose.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 4.0))
}
