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

package dialogue

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/agent"
	"github.com/teradata-labs/fable/pkg/broker"
	"github.com/teradata-labs/fable/pkg/budget"
	"github.com/teradata-labs/fable/pkg/types"
)

// Config bounds the dialogue manager.
type Config struct {
	// HistoryCap caps how many concluded dialogues are retained.
	HistoryCap int
	// FastModeMinRemaining forces the fast path when the turn has less
	// time left than this.
	FastModeMinRemaining time.Duration
	// FastModeMinBudget forces the fast path when the remaining turn
	// budget in USD drops below this.
	FastModeMinBudget float64
	// MaxTokens caps one dialogue completion.
	MaxTokens int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCap:           100,
		FastModeMinRemaining: time.Second,
		FastModeMinBudget:    0.02,
		MaxTokens:            600,
	}
}

// RunContext carries the per-run inputs: both agent states, scene context,
// and the fast-mode signals.
type RunContext struct {
	Initiator *types.AgentState
	Responder *types.AgentState
	// Scene is free-text situation context included in the prompt.
	Scene string
	// Remaining is the turn time left; below the threshold the run goes
	// fast. Zero means unknown and does not force fast mode.
	Remaining time.Duration
	// ForceFast skips the provider unconditionally.
	ForceFast bool
}

// Stats is a read-only snapshot of manager counters.
type Stats struct {
	Active      int   `json:"active"`
	Concluded   int64 `json:"concluded"`
	Interrupted int64 `json:"interrupted"`
	Failed      int64 `json:"failed"`
	FastRuns    int64 `json:"fast_runs"`
	HistoryLen  int   `json:"history_len"`
}

// Manager owns dialogue sessions. Safe for concurrent use.
type Manager struct {
	cfg    Config
	broker *broker.Broker
	meter  *budget.Meter
	logger *zap.Logger
	clock  types.Clock

	mu      sync.Mutex
	rng     *rand.Rand
	active  map[string]*Dialogue
	busy    map[string]string // agent id -> dialogue id
	history []*Dialogue

	concluded   int64
	interrupted int64
	failed      int64
	fastRuns    int64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(clock types.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithSeed makes fast-path template selection deterministic.
func WithSeed(seed int64) Option {
	return func(m *Manager) { m.rng = rand.New(rand.NewSource(seed)) }
}

// NewManager builds a dialogue manager. The broker may be nil, in which case
// every run takes the fast path.
func NewManager(cfg Config, br *broker.Broker, meter *budget.Meter, opts ...Option) *Manager {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 100
	}
	m := &Manager{
		cfg:    cfg,
		broker: br,
		meter:  meter,
		logger: zap.NewNop(),
		clock:  time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		active: make(map[string]*Dialogue),
		busy:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a dialogue between two distinct agents. Agents already in an
// active dialogue cannot join another.
func (m *Manager) Open(t CommunicationType, initiator, responder string) (*Dialogue, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown communication type %q", t)
	}
	if initiator == "" || responder == "" || initiator == responder {
		return nil, fmt.Errorf("dialogue needs two distinct participants, got %q and %q", initiator, responder)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range []string{initiator, responder} {
		if did, ok := m.busy[id]; ok {
			return nil, fmt.Errorf("agent %s already in dialogue %s", id, did)
		}
	}
	d := &Dialogue{
		ID:        uuid.New().String(),
		Type:      t,
		Initiator: initiator,
		Responder: responder,
		State:     StateInitiating,
		StartedAt: m.clock(),
	}
	m.active[d.ID] = d
	m.busy[initiator] = d.ID
	m.busy[responder] = d.ID
	return d.clone(), nil
}

// Run executes an open dialogue to a terminal state and returns its final
// form. The fast path is taken when forced, when turn time is nearly gone,
// or when the turn budget is nearly spent.
func (m *Manager) Run(ctx context.Context, id string, rctx *RunContext) (*Dialogue, error) {
	m.mu.Lock()
	d, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("no active dialogue %s", id)
	}
	d.State = StateActive
	fast := m.shouldGoFastLocked(rctx)
	m.mu.Unlock()

	// The provider call runs outside the lock; results land in a detached
	// struct and merge in under the lock below.
	out := &Dialogue{Type: d.Type}
	var err error
	if fast {
		m.runFast(out)
	} else {
		err = m.runLLM(ctx, out, d, rctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, still := m.active[d.ID]; !still {
		// Interrupted while the provider call was in flight: the dialogue
		// is already retired; discard the late result.
		return d.clone(), nil
	}
	d.Exchanges = append(d.Exchanges, out.Exchanges...)
	d.Outcome = out.Outcome
	d.Impact = out.Impact
	d.FastMode = out.FastMode
	if err != nil {
		d.State = StateFailed
		d.FailureCause = err.Error()
		m.failed++
		m.retireLocked(d)
		return d.clone(), fmt.Errorf("dialogue %s: %w", d.ID, err)
	}

	d.State = StateConcluded
	d.ConcludedAt = m.clock()
	d.Quality = m.score(d)
	m.applyImpact(d, rctx)
	m.concluded++
	m.retireLocked(d)
	m.logger.Debug("dialogue concluded",
		zap.String("dialogue_id", d.ID),
		zap.String("type", string(d.Type)),
		zap.Bool("fast_mode", d.FastMode),
		zap.Float64("quality", d.Quality))
	return d.clone(), nil
}

func (m *Manager) shouldGoFastLocked(rctx *RunContext) bool {
	if m.broker == nil {
		return true
	}
	if rctx == nil {
		return false
	}
	if rctx.ForceFast {
		return true
	}
	if rctx.Remaining > 0 && rctx.Remaining < m.cfg.FastModeMinRemaining {
		return true
	}
	if m.meter != nil && m.meter.RemainingTurnBudget() < m.cfg.FastModeMinBudget {
		return true
	}
	return false
}

// runFast selects a canned outcome for the dialogue's type without touching
// the provider.
func (m *Manager) runFast(out *Dialogue) {
	m.mu.Lock()
	templates := fastTemplates[out.Type]
	out.Outcome = templates[m.rng.Intn(len(templates))]
	out.Impact = fastImpact[out.Type]
	out.FastMode = true
	m.fastRuns++
	m.mu.Unlock()
}

// runLLM asks the broker for a transcript and parses it into out.
func (m *Manager) runLLM(ctx context.Context, out, d *Dialogue, rctx *RunContext) error {
	resp, err := m.broker.Submit(ctx, &types.LLMRequest{
		Kind:      "dialogue",
		Prompt:    m.buildPrompt(d, rctx),
		Priority:  types.PriorityNormal,
		MaxTokens: m.cfg.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("dialogue completion: %w", err)
	}
	m.parseTranscript(out, resp.Content)
	if len(out.Exchanges) == 0 && out.Outcome == "" {
		return fmt.Errorf("dialogue response carried no transcript or outcome")
	}
	return nil
}

func (m *Manager) buildPrompt(d *Dialogue, rctx *RunContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a brief %s dialogue between two characters.\n\n", strings.ReplaceAll(string(d.Type), "_", " "))
	if rctx != nil && rctx.Initiator != nil {
		b.WriteString(agent.ContextBlock(rctx.Initiator))
		b.WriteString("\n")
	}
	if rctx != nil && rctx.Responder != nil {
		b.WriteString(agent.ContextBlock(rctx.Responder))
		b.WriteString("\n")
	}
	if rctx != nil && rctx.Scene != "" {
		fmt.Fprintf(&b, "Scene: %s\n\n", rctx.Scene)
	}
	b.WriteString("Write 3-6 exchanges, one per line, as \"Name: line\".\n")
	b.WriteString("Then finish with exactly two lines:\n")
	b.WriteString("Outcome: <one sentence describing the result>\n")
	b.WriteString("Relationship Impact: <a number between -1 and 1>\n")
	return b.String()
}

// parseTranscript splits the completion into exchanges, the outcome line,
// and the relationship-impact line. Unrecognized lines are dropped.
func (m *Manager) parseTranscript(d *Dialogue, content string) {
	now := m.clock()
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "Outcome:"); ok {
			d.Outcome = strings.TrimSpace(rest)
			continue
		}
		if rest, ok := strings.CutPrefix(line, "Relationship Impact:"); ok {
			raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "+"))
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				d.Impact = types.ClampSigned(v)
			}
			continue
		}
		speaker, text, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		d.Exchanges = append(d.Exchanges, Exchange{
			Speaker: strings.TrimSpace(speaker),
			Content: strings.TrimSpace(text),
			At:      now,
		})
	}
}

// score grades a concluded dialogue: 0.5 base plus up to 0.1 each for
// content volume, outcome presence, impact presence, and exchange count.
func (m *Manager) score(d *Dialogue) float64 {
	q := 0.5
	var contentLen int
	for _, ex := range d.Exchanges {
		contentLen += len(ex.Content)
	}
	q += 0.1 * minf(1, float64(contentLen)/400)
	if d.Outcome != "" {
		q += 0.1
	}
	if d.Impact != 0 {
		q += 0.1
	}
	q += 0.1 * minf(1, float64(len(d.Exchanges))/4)
	return types.Clamp01(q)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// applyImpact shifts the relationship both ways.
func (m *Manager) applyImpact(d *Dialogue, rctx *RunContext) {
	if d.Impact == 0 || rctx == nil {
		return
	}
	if rctx.Initiator != nil {
		rctx.Initiator.AdjustRelationship(d.Responder, d.Impact)
	}
	if rctx.Responder != nil {
		rctx.Responder.AdjustRelationship(d.Initiator, d.Impact)
	}
}

// retireLocked moves a terminal dialogue out of the active set into the
// bounded history.
func (m *Manager) retireLocked(d *Dialogue) {
	delete(m.active, d.ID)
	delete(m.busy, d.Initiator)
	delete(m.busy, d.Responder)
	m.history = append(m.history, d)
	if len(m.history) > m.cfg.HistoryCap {
		m.history = m.history[len(m.history)-m.cfg.HistoryCap:]
	}
}

// Interrupt moves an active dialogue to the interrupted state.
func (m *Manager) Interrupt(id, cause string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.active[id]
	if !ok {
		return false
	}
	d.State = StateInterrupted
	d.FailureCause = cause
	d.ConcludedAt = m.clock()
	m.interrupted++
	m.retireLocked(d)
	return true
}

// InterruptAll cancels every outstanding dialogue, typically on turn-budget
// exhaustion. Returns how many were interrupted.
func (m *Manager) InterruptAll(cause string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.active {
		d.State = StateInterrupted
		d.FailureCause = cause
		d.ConcludedAt = m.clock()
		m.interrupted++
		m.retireLocked(d)
		n++
	}
	return n
}

// Get returns a copy of a dialogue by id, active or historical.
func (m *Manager) Get(id string) (*Dialogue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.active[id]; ok {
		return d.clone(), true
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return m.history[i].clone(), true
		}
	}
	return nil, false
}

// Active returns copies of every in-flight dialogue.
func (m *Manager) Active() []*Dialogue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Dialogue, 0, len(m.active))
	for _, d := range m.active {
		out = append(out, d.clone())
	}
	return out
}

// History returns copies of the retained terminal dialogues, oldest first.
func (m *Manager) History() []*Dialogue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Dialogue, 0, len(m.history))
	for _, d := range m.history {
		out = append(out, d.clone())
	}
	return out
}

// Snapshot returns a copy of the manager counters.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Active:      len(m.active),
		Concluded:   m.concluded,
		Interrupted: m.interrupted,
		Failed:      m.failed,
		FastRuns:    m.fastRuns,
		HistoryLen:  len(m.history),
	}
}
