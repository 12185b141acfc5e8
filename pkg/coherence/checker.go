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

// Package coherence validates new events against narrative invariants. A
// failing event gets one LLM-driven correction attempt that may adjust its
// kind, payload, or location but never its actor or timestamp; if the
// corrected event still fails it is rejected. Accepted events feed the
// per-actor character arcs and the location/actor-grouped plot threads.
package coherence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/broker"
	"github.com/teradata-labs/fable/pkg/types"
)

// RejectionError reports an event that failed its invariants even after the
// correction attempt.
type RejectionError struct {
	EventID    string
	Violations []Violation
	Corrected  bool // a correction was attempted before rejecting
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("coherence: event %s rejected: %s", e.EventID, strings.Join(msgs, "; "))
}

// Config tunes the checker.
type Config struct {
	// CorrectionEnabled allows one LLM correction attempt per failing
	// event.
	CorrectionEnabled bool
	// CorrectionMaxTokens caps the correction request.
	CorrectionMaxTokens int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CorrectionEnabled:   true,
		CorrectionMaxTokens: 256,
	}
}

// Checker validates events and maintains the narrative side structures.
type Checker struct {
	cfg    Config
	rules  []Rule
	broker *broker.Broker
	logger *zap.Logger
	clock  types.Clock

	arcs    *arcSet
	threads *threadSet

	corrections atomic.Int64
	rejections  atomic.Int64
}

// Option customizes a Checker.
type Option func(*Checker)

// WithLogger sets the checker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// WithClock replaces the wall clock for temporal-rule tests.
func WithClock(clock types.Clock) Option {
	return func(c *Checker) { c.clock = clock }
}

// WithRules replaces the default rule set.
func WithRules(rules []Rule) Option {
	return func(c *Checker) { c.rules = rules }
}

// New builds a checker. The broker may be nil, which disables correction.
func New(cfg Config, br *broker.Broker, opts ...Option) *Checker {
	c := &Checker{
		cfg:     cfg,
		rules:   DefaultRules(),
		broker:  br,
		logger:  zap.NewNop(),
		clock:   time.Now,
		arcs:    newArcSet(),
		threads: newThreadSet(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// check runs every rule and collects violations.
func (c *Checker) check(e *types.Event, recent []*types.Event) []Violation {
	rctx := &RuleContext{Recent: recent, Now: c.clock()}
	var out []Violation
	for _, rule := range c.rules {
		out = append(out, rule.Check(e, rctx)...)
	}
	return out
}

// Validate checks the event against the invariant rules. On success the
// returned event is the input (or its corrected replacement) and the side
// structures are updated. On failure the event is rejected with a
// *RejectionError; the caller decides what to do with it.
func (c *Checker) Validate(ctx context.Context, e *types.Event, recent []*types.Event) (*types.Event, error) {
	violations := c.check(e, recent)
	if len(violations) == 0 {
		c.accept(e)
		return e, nil
	}

	if c.cfg.CorrectionEnabled && c.broker != nil {
		corrected, err := c.requestCorrection(ctx, e, violations)
		if err == nil {
			if remaining := c.check(corrected, recent); len(remaining) == 0 {
				c.corrections.Add(1)
				c.logPayloadDiff(e, corrected)
				c.accept(corrected)
				return corrected, nil
			}
		} else {
			c.logger.Debug("coherence correction attempt failed",
				zap.String("event_id", e.ID),
				zap.Error(err))
		}
		c.rejections.Add(1)
		return nil, &RejectionError{EventID: e.ID, Violations: violations, Corrected: true}
	}

	c.rejections.Add(1)
	return nil, &RejectionError{EventID: e.ID, Violations: violations}
}

// correctionEnvelope is the JSON shape the correction prompt asks for.
type correctionEnvelope struct {
	Kind     string         `json:"kind"`
	Location string         `json:"location"`
	Payload  map[string]any `json:"payload"`
}

// requestCorrection asks the LLM for an adjusted kind/payload/location.
// Actor and timestamp are carried over from the original unconditionally.
func (c *Checker) requestCorrection(ctx context.Context, e *types.Event, violations []Violation) (*types.Event, error) {
	var b strings.Builder
	b.WriteString("A narrative event violates story-consistency rules. Adjust it minimally so it fits.\n")
	b.WriteString("You may change only: kind, location, payload. Never the actor or the time.\n\n")
	fmt.Fprintf(&b, "Event: kind=%q actor=%q location=%q\n", e.Kind, e.Actor, e.Location)
	if len(e.Payload) > 0 {
		raw, _ := json.Marshal(e.Payload)
		fmt.Fprintf(&b, "Payload: %s\n", raw)
	}
	b.WriteString("Violations:\n")
	for _, v := range violations {
		fmt.Fprintf(&b, "- %s\n", v)
	}
	b.WriteString("\nRespond with only a JSON object: {\"kind\": ..., \"location\": ..., \"payload\": {...}}\n")

	resp, err := c.broker.Submit(ctx, &types.LLMRequest{
		Kind:           "coherence_correction",
		Prompt:         b.String(),
		Priority:       types.PriorityHigh,
		MaxTokens:      c.cfg.CorrectionMaxTokens,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("correction request: %w", err)
	}

	var env correctionEnvelope
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &env); err != nil {
		return nil, fmt.Errorf("correction response not parseable: %w", err)
	}

	corrected := e.Clone()
	if env.Kind != "" {
		corrected.Kind = env.Kind
	}
	corrected.Location = env.Location
	if env.Payload != nil {
		corrected.Payload = env.Payload
	}
	// Actor and timestamp are invariant under correction.
	corrected.Actor = e.Actor
	corrected.Timestamp = e.Timestamp
	return corrected, nil
}

// extractJSON strips markdown fences around a JSON body.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}

// logPayloadDiff records what the correction changed, for audit.
func (c *Checker) logPayloadDiff(before, after *types.Event) {
	origJSON, _ := json.Marshal(map[string]any{"kind": before.Kind, "location": before.Location, "payload": before.Payload})
	corrJSON, _ := json.Marshal(map[string]any{"kind": after.Kind, "location": after.Location, "payload": after.Payload})
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(origJSON), string(corrJSON), false)
	c.logger.Info("coherence correction applied",
		zap.String("event_id", before.ID),
		zap.String("diff", dmp.DiffPrettyText(diffs)))
}

// accept feeds an event into the arcs and plot threads.
func (c *Checker) accept(e *types.Event) {
	c.arcs.record(e)
	c.threads.record(e)
}

// Arc returns a copy of the actor's character arc, or nil.
func (c *Checker) Arc(actor string) *CharacterArc { return c.arcs.get(actor) }

// Threads returns copies of every plot thread.
func (c *Checker) Threads() []*PlotThread { return c.threads.all() }

// Stats reports checker counters.
type Stats struct {
	Corrections int64 `json:"corrections"`
	Rejections  int64 `json:"rejections"`
	Arcs        int   `json:"arcs"`
	PlotThreads int   `json:"plot_threads"`
}

// Snapshot returns a copy of the checker counters.
func (c *Checker) Snapshot() Stats {
	return Stats{
		Corrections: c.corrections.Load(),
		Rejections:  c.rejections.Load(),
		Arcs:        c.arcs.len(),
		PlotThreads: c.threads.len(),
	}
}

// NarrativeSnapshot bundles the side structures for persistence.
type NarrativeSnapshot struct {
	Arcs    []*CharacterArc `json:"arcs"`
	Threads []*PlotThread   `json:"threads"`
}

// SnapshotNarrative exports arcs and threads.
func (c *Checker) SnapshotNarrative() NarrativeSnapshot {
	return NarrativeSnapshot{Arcs: c.arcs.snapshot(), Threads: c.threads.snapshot()}
}

// RestoreNarrative replaces arcs and threads from a snapshot.
func (c *Checker) RestoreNarrative(snap NarrativeSnapshot) {
	c.arcs.restore(snap.Arcs)
	c.threads.restore(snap.Threads)
}
