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

// Package causal records world events as nodes in a directed acyclic graph
// with typed cause→effect edges, infers causal links on append, and answers
// the narrative queries the pipelines and the orchestrator ask: causal
// chains, influential events, structural patterns, and next-event
// predictions.
package causal

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/types"
)

// Config bounds the graph.
type Config struct {
	// InferenceWindow is how far back append-time inference looks for
	// candidate causes. Default one hour.
	InferenceWindow time.Duration
	// MinInferredStrength is the floor below which no edge is inferred.
	MinInferredStrength float64
	// ClockSkew tolerates slightly-ahead host clocks on the future-
	// timestamp check.
	ClockSkew time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InferenceWindow:     time.Hour,
		MinInferredStrength: 0.3,
		ClockSkew:           2 * time.Second,
	}
}

// Graph is the causal event graph. Multiple readers, exclusive writer; an
// appended event is visible to every subsequent read.
type Graph struct {
	cfg    Config
	logger *zap.Logger
	clock  types.Clock

	mu     sync.RWMutex
	events map[string]*types.Event
	edges  map[string]*types.CausalEdge
	order  []string // event ids in append order

	outgoing map[string][]string // event id -> edge ids
	incoming map[string][]string // event id -> edge ids
	pairs    map[string]string   // source\x00target -> edge id

	byActor    map[string][]string // actor -> event ids, append order
	byLocation map[string][]string
	byHour     map[int64][]string // unix hour bucket -> event ids
}

// Option customizes a Graph.
type Option func(*Graph)

// WithLogger sets the graph logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Graph) { g.logger = logger }
}

// WithClock replaces the wall clock for timestamp validation in tests.
func WithClock(clock types.Clock) Option {
	return func(g *Graph) { g.clock = clock }
}

// New builds an empty graph.
func New(cfg Config, opts ...Option) *Graph {
	if cfg.InferenceWindow <= 0 {
		cfg.InferenceWindow = time.Hour
	}
	if cfg.MinInferredStrength <= 0 {
		cfg.MinInferredStrength = 0.3
	}
	g := &Graph{
		cfg:        cfg,
		logger:     zap.NewNop(),
		clock:      time.Now,
		events:     make(map[string]*types.Event),
		edges:      make(map[string]*types.CausalEdge),
		outgoing:   make(map[string][]string),
		incoming:   make(map[string][]string),
		pairs:      make(map[string]string),
		byActor:    make(map[string][]string),
		byLocation: make(map[string][]string),
		byHour:     make(map[int64][]string),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func pairKey(source, target string) string { return source + "\x00" + target }

func hourBucket(ts time.Time) int64 { return ts.Unix() / 3600 }

// AddEvent appends an event, validates the graph invariants, and infers
// causal edges from recent candidate causes. Returns the inferred edges.
func (g *Graph) AddEvent(e *types.Event) ([]*types.CausalEdge, error) {
	if e == nil || e.ID == "" {
		return nil, fmt.Errorf("event must have an id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.events[e.ID]; exists {
		return nil, fmt.Errorf("event %s already in graph", e.ID)
	}
	now := g.clock()
	if e.Timestamp.After(now.Add(g.cfg.ClockSkew)) {
		return nil, fmt.Errorf("event %s timestamped in the future (%s > %s)", e.ID, e.Timestamp.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if e.Actor != "" {
		if ids := g.byActor[e.Actor]; len(ids) > 0 {
			last := g.events[ids[len(ids)-1]]
			if e.Timestamp.Before(last.Timestamp) {
				return nil, fmt.Errorf("actor %s timestamp regression: %s before %s", e.Actor, e.Timestamp.Format(time.RFC3339Nano), last.Timestamp.Format(time.RFC3339Nano))
			}
		}
	}

	g.events[e.ID] = e
	g.order = append(g.order, e.ID)
	if e.Actor != "" {
		g.byActor[e.Actor] = append(g.byActor[e.Actor], e.ID)
	}
	if e.Location != "" {
		g.byLocation[e.Location] = append(g.byLocation[e.Location], e.ID)
	}
	g.byHour[hourBucket(e.Timestamp)] = append(g.byHour[hourBucket(e.Timestamp)], e.ID)

	inferred := g.inferEdgesLocked(e)
	g.logger.Debug("event appended",
		zap.String("event_id", e.ID),
		zap.String("kind", e.Kind),
		zap.String("actor", e.Actor),
		zap.Int("inferred_edges", len(inferred)))
	return inferred, nil
}

// AddEdge inserts an explicit edge after validating both endpoints, causal
// time order, pair uniqueness, and acyclicity.
func (g *Graph) AddEdge(edge *types.CausalEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(edge)
}

func (g *Graph) addEdgeLocked(edge *types.CausalEdge) error {
	if edge == nil || edge.ID == "" {
		return fmt.Errorf("edge must have an id")
	}
	if !edge.Relation.Valid() {
		return fmt.Errorf("edge %s has unknown relation %q", edge.ID, edge.Relation)
	}
	source, ok := g.events[edge.Source]
	if !ok {
		return fmt.Errorf("edge %s references missing source event %s", edge.ID, edge.Source)
	}
	target, ok := g.events[edge.Target]
	if !ok {
		return fmt.Errorf("edge %s references missing target event %s", edge.ID, edge.Target)
	}
	if edge.Source == edge.Target {
		return fmt.Errorf("edge %s is a self loop", edge.ID)
	}
	if source.Timestamp.After(target.Timestamp) {
		return fmt.Errorf("edge %s inverts causal time: cause at %s, effect at %s", edge.ID, source.Timestamp.Format(time.RFC3339Nano), target.Timestamp.Format(time.RFC3339Nano))
	}
	if _, dup := g.pairs[pairKey(edge.Source, edge.Target)]; dup {
		return fmt.Errorf("edge %s duplicates pair (%s, %s)", edge.ID, edge.Source, edge.Target)
	}
	if g.reachableLocked(edge.Target, edge.Source) {
		return fmt.Errorf("edge %s would close a cycle from %s to %s", edge.ID, edge.Source, edge.Target)
	}

	g.edges[edge.ID] = edge
	g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge.ID)
	g.incoming[edge.Target] = append(g.incoming[edge.Target], edge.ID)
	g.pairs[pairKey(edge.Source, edge.Target)] = edge.ID
	return nil
}

// reachableLocked reports whether to is reachable from from along outgoing
// edges. Caller holds at least a read lock.
func (g *Graph) reachableLocked(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edgeID := range g.outgoing[cur] {
			next := g.edges[edgeID].Target
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Event returns the event by id, or nil.
func (g *Graph) Event(id string) *types.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.events[id]
}

// Edge returns the edge between source and target, or nil.
func (g *Graph) Edge(source, target string) *types.CausalEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id, ok := g.pairs[pairKey(source, target)]; ok {
		return g.edges[id]
	}
	return nil
}

// EventsByActor returns the actor's events in append order, which by the
// monotonicity invariant is also non-decreasing timestamp order.
func (g *Graph) EventsByActor(actor string) []*types.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.byActor[actor]
	out := make([]*types.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.events[id])
	}
	return out
}

// EventsByLocation returns every event at the location in append order.
func (g *Graph) EventsByLocation(location string) []*types.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.byLocation[location]
	out := make([]*types.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.events[id])
	}
	return out
}

// RecentEvents returns up to limit most recently appended events, newest
// last.
func (g *Graph) RecentEvents(limit int) []*types.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	start := 0
	if limit > 0 && len(g.order) > limit {
		start = len(g.order) - limit
	}
	out := make([]*types.Event, 0, len(g.order)-start)
	for _, id := range g.order[start:] {
		out = append(out, g.events[id])
	}
	return out
}

// Len returns the event count.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.events)
}

// EdgeCount returns the edge count.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// CollectGarbage drops events older than the retention cutoff that are not
// in the protected set (active sessions keep their events alive), along
// with their edges. Returns how many events were removed.
func (g *Graph) CollectGarbage(cutoff time.Time, protected map[string]bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	kept := g.order[:0]
	for _, id := range g.order {
		e := g.events[id]
		if e.Timestamp.After(cutoff) || protected[id] {
			kept = append(kept, id)
			continue
		}
		g.removeEventLocked(id)
		removed++
	}
	g.order = kept
	if removed > 0 {
		g.logger.Debug("causal graph gc",
			zap.Int("removed", removed),
			zap.Int("remaining", len(g.events)))
	}
	return removed
}

// removeEventLocked deletes one event and its edges from every index.
// Caller holds mu and fixes g.order.
func (g *Graph) removeEventLocked(id string) {
	e := g.events[id]
	for _, edgeID := range append(append([]string(nil), g.outgoing[id]...), g.incoming[id]...) {
		edge, ok := g.edges[edgeID]
		if !ok {
			continue
		}
		delete(g.edges, edgeID)
		delete(g.pairs, pairKey(edge.Source, edge.Target))
		g.outgoing[edge.Source] = removeString(g.outgoing[edge.Source], edgeID)
		g.incoming[edge.Target] = removeString(g.incoming[edge.Target], edgeID)
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)
	if e.Actor != "" {
		g.byActor[e.Actor] = removeString(g.byActor[e.Actor], id)
	}
	if e.Location != "" {
		g.byLocation[e.Location] = removeString(g.byLocation[e.Location], id)
	}
	bucket := hourBucket(e.Timestamp)
	g.byHour[bucket] = removeString(g.byHour[bucket], id)
	if len(g.byHour[bucket]) == 0 {
		delete(g.byHour, bucket)
	}
	delete(g.events, id)
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// GraphSnapshot is the serializable form of the graph.
type GraphSnapshot struct {
	Events []*types.Event      `json:"events"`
	Edges  []*types.CausalEdge `json:"edges"`
}

// Snapshot returns the events (append order) and edges for serialization.
func (g *Graph) Snapshot() GraphSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap := GraphSnapshot{
		Events: make([]*types.Event, 0, len(g.order)),
		Edges:  make([]*types.CausalEdge, 0, len(g.edges)),
	}
	for _, id := range g.order {
		snap.Events = append(snap.Events, g.events[id].Clone())
	}
	for _, id := range g.order {
		for _, edgeID := range g.outgoing[id] {
			cp := *g.edges[edgeID]
			snap.Edges = append(snap.Edges, &cp)
		}
	}
	return snap
}

// Restore rebuilds the graph from a snapshot. Inference is not re-run; the
// snapshot's edges are authoritative.
func (g *Graph) Restore(snap GraphSnapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.events = make(map[string]*types.Event, len(snap.Events))
	g.edges = make(map[string]*types.CausalEdge, len(snap.Edges))
	g.order = g.order[:0]
	g.outgoing = make(map[string][]string)
	g.incoming = make(map[string][]string)
	g.pairs = make(map[string]string)
	g.byActor = make(map[string][]string)
	g.byLocation = make(map[string][]string)
	g.byHour = make(map[int64][]string)

	for _, e := range snap.Events {
		if e.ID == "" {
			return fmt.Errorf("snapshot event without id")
		}
		g.events[e.ID] = e
		g.order = append(g.order, e.ID)
		if e.Actor != "" {
			g.byActor[e.Actor] = append(g.byActor[e.Actor], e.ID)
		}
		if e.Location != "" {
			g.byLocation[e.Location] = append(g.byLocation[e.Location], e.ID)
		}
		g.byHour[hourBucket(e.Timestamp)] = append(g.byHour[hourBucket(e.Timestamp)], e.ID)
	}
	for _, edge := range snap.Edges {
		if err := g.addEdgeLocked(edge); err != nil {
			return fmt.Errorf("restore edge: %w", err)
		}
	}
	return nil
}
