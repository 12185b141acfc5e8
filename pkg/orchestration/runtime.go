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

// Package orchestration drives the simulation turn by turn: it composes the
// budget meter, broker, causal graph, coherence checker, dialogue manager,
// negotiation engine, and event bus, runs every agent pipeline concurrently,
// and reports per-turn performance.
package orchestration

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/broker"
	"github.com/teradata-labs/fable/pkg/budget"
	"github.com/teradata-labs/fable/pkg/causal"
	"github.com/teradata-labs/fable/pkg/coherence"
	"github.com/teradata-labs/fable/pkg/communication"
	"github.com/teradata-labs/fable/pkg/dialogue"
	"github.com/teradata-labs/fable/pkg/negotiation"
	"github.com/teradata-labs/fable/pkg/types"
)

// Config bounds one turn.
type Config struct {
	// TurnTimeout bounds the whole turn.
	TurnTimeout time.Duration
	// FastModeThreshold is the remaining turn time below which dialogues
	// are forced into fast mode.
	FastModeThreshold time.Duration
	// MaxDialoguesPerTurn caps dialogue opportunities per turn.
	MaxDialoguesPerTurn int
	// RecentEventWindow is how many graph events feed the world state.
	RecentEventWindow int
	// PerfHistoryCap bounds retained turn records.
	PerfHistoryCap int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:         30 * time.Second,
		FastModeThreshold:   3 * time.Second,
		MaxDialoguesPerTurn: 2,
		RecentEventWindow:   20,
		PerfHistoryCap:      100,
	}
}

// Components are the runtime's collaborators. Meter, Broker, Graph, and
// Checker are required; the rest degrade gracefully when nil.
type Components struct {
	Meter        *budget.Meter
	Broker       *broker.Broker
	Graph        *causal.Graph
	Checker      *coherence.Checker
	Dialogues    *dialogue.Manager
	Negotiations *negotiation.Engine
	Bus          *communication.Bus
}

// Decider is the decision-making half of an agent. agent.Pipeline is the
// production implementation.
type Decider interface {
	Decide(ctx context.Context, world *types.WorldState, state *types.AgentState) (*types.ActionDecision, error)
}

// agentEntry pairs an agent's state with its decision pipeline.
type agentEntry struct {
	state    *types.AgentState
	pipeline Decider
}

// Runtime owns the turn loop. Safe for concurrent reads; ExecuteTurn itself
// must not be called concurrently.
type Runtime struct {
	cfg      Config
	comps    Components
	logger   *zap.Logger
	clock    types.Clock
	rng      *rand.Rand
	progress ProgressFunc

	mu      sync.Mutex
	agents  map[string]*agentEntry
	order   []string // registration order, for deterministic iteration
	turn    int
	records []TurnRecord
}

// ProgressFunc receives each completed turn's performance record.
type ProgressFunc func(TurnRecord)

// Option customizes a Runtime.
type Option func(*Runtime)

// WithProgress registers a per-turn progress callback. Called synchronously
// at the end of every turn.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runtime) { r.progress = fn }
}

// WithLogger sets the runtime logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(clock types.Clock) Option {
	return func(r *Runtime) { r.clock = clock }
}

// WithSeed makes dialogue pairing deterministic.
func WithSeed(seed int64) Option {
	return func(r *Runtime) { r.rng = rand.New(rand.NewSource(seed)) }
}

// NewRuntime builds a runtime around its components.
func NewRuntime(cfg Config, comps Components, opts ...Option) (*Runtime, error) {
	if comps.Meter == nil || comps.Graph == nil {
		return nil, fmt.Errorf("runtime needs at least a meter and a graph")
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 30 * time.Second
	}
	if cfg.MaxDialoguesPerTurn <= 0 {
		cfg.MaxDialoguesPerTurn = 2
	}
	if cfg.RecentEventWindow <= 0 {
		cfg.RecentEventWindow = 20
	}
	if cfg.PerfHistoryCap <= 0 {
		cfg.PerfHistoryCap = 100
	}
	r := &Runtime{
		cfg:    cfg,
		comps:  comps,
		logger: zap.NewNop(),
		clock:  time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		agents: make(map[string]*agentEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// AddAgent registers an agent and its pipeline.
func (r *Runtime) AddAgent(state *types.AgentState, pipeline Decider) error {
	if state == nil || pipeline == nil {
		return fmt.Errorf("agent needs both state and pipeline")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[state.ID]; ok {
		return fmt.Errorf("agent %s already registered", state.ID)
	}
	r.agents[state.ID] = &agentEntry{state: state, pipeline: pipeline}
	r.order = append(r.order, state.ID)
	return nil
}

// RemoveAgent unregisters an agent. Returns false when unknown.
func (r *Runtime) RemoveAgent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return false
	}
	delete(r.agents, id)
	for i, aid := range r.order {
		if aid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Agent returns the live state of a registered agent.
func (r *Runtime) Agent(id string) (*types.AgentState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return entry.state, true
}

// AgentIDs returns registered agent ids in registration order.
func (r *Runtime) AgentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Turn returns the number of completed turns.
func (r *Runtime) Turn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turn
}

// Records returns a copy of the retained per-turn performance records.
func (r *Runtime) Records() []TurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TurnRecord(nil), r.records...)
}
