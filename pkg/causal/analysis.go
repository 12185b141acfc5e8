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

package causal

import (
	"sort"
	"time"

	"github.com/teradata-labs/fable/pkg/types"
)

// Chain is one causal path through the graph, cause first.
type Chain struct {
	EventIDs []string
	Events   []*types.Event
}

// ChainsFrom returns every causal path starting at the event, depth-first,
// up to maxDepth hops. The seed event is the first element of each path.
func (g *Graph) ChainsFrom(id string, maxDepth int) []Chain {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.events[id]; !ok {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = 5
	}
	var chains []Chain
	path := []string{id}
	g.walkChainsLocked(id, maxDepth, path, &chains)
	return chains
}

func (g *Graph) walkChainsLocked(id string, depth int, path []string, chains *[]Chain) {
	out := g.outgoing[id]
	if depth == 0 || len(out) == 0 {
		if len(path) > 1 {
			*chains = append(*chains, g.chainFromPathLocked(path))
		}
		return
	}
	extended := false
	for _, edgeID := range out {
		next := g.edges[edgeID].Target
		if containsString(path, next) {
			continue
		}
		extended = true
		branch := append(append([]string(nil), path...), next)
		g.walkChainsLocked(next, depth-1, branch, chains)
	}
	if !extended && len(path) > 1 {
		*chains = append(*chains, g.chainFromPathLocked(path))
	}
}

func (g *Graph) chainFromPathLocked(path []string) Chain {
	c := Chain{EventIDs: append([]string(nil), path...)}
	c.Events = make([]*types.Event, 0, len(path))
	for _, id := range path {
		c.Events = append(c.Events, g.events[id])
	}
	return c
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// influenceThreshold filters InfluentialEvents: out_degree · weight ·
// confidence must exceed this.
const influenceThreshold = 1.0

// InfluentialEvents returns events within the trailing window whose
// influence score (out-degree · narrative weight · confidence) exceeds the
// threshold, highest first.
func (g *Graph) InfluentialEvents(window time.Duration) []*types.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.influentialLocked(window)
}

func (g *Graph) influentialLocked(window time.Duration) []*types.Event {
	cutoff := g.clock().Add(-window)
	type scored struct {
		e     *types.Event
		score float64
	}
	var hits []scored
	for id, e := range g.events {
		if window > 0 && e.Timestamp.Before(cutoff) {
			continue
		}
		score := float64(len(g.outgoing[id])) * e.NarrativeWeight * e.Confidence
		if score > influenceThreshold {
			hits = append(hits, scored{e, score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score == hits[j].score {
			return hits[i].e.ID < hits[j].e.ID
		}
		return hits[i].score > hits[j].score
	})
	out := make([]*types.Event, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.e)
	}
	return out
}

// PatternKind classifies a detected structural pattern.
type PatternKind string

const (
	PatternConflict    PatternKind = "conflict"
	PatternCatalyst    PatternKind = "catalyst"
	PatternConvergence PatternKind = "convergence"
)

// Pattern is one structural feature found in the graph.
type Pattern struct {
	Kind PatternKind `json:"kind"`
	// EventID is the focal event: the conflicted node, the catalyst, or
	// the convergence point.
	EventID string `json:"event_id"`
	// RelatedIDs are the events feeding or fed by the focal event.
	RelatedIDs []string `json:"related_ids,omitempty"`
}

// Patterns scans for conflict nodes (multiple incoming edges including a
// contradiction), catalyst events (an outgoing catalyst edge), and
// convergence points (≥ 3 incoming edges from ≥ 2 distinct actors).
func (g *Graph) Patterns() []Pattern {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Pattern
	for _, id := range g.order {
		in := g.incoming[id]

		if len(in) >= 2 {
			hasContradiction := false
			var related []string
			for _, edgeID := range in {
				edge := g.edges[edgeID]
				related = append(related, edge.Source)
				if edge.Relation == types.RelationContradiction {
					hasContradiction = true
				}
			}
			if hasContradiction {
				out = append(out, Pattern{Kind: PatternConflict, EventID: id, RelatedIDs: related})
			}
		}

		for _, edgeID := range g.outgoing[id] {
			if g.edges[edgeID].Relation == types.RelationCatalyst {
				out = append(out, Pattern{Kind: PatternCatalyst, EventID: id, RelatedIDs: []string{g.edges[edgeID].Target}})
				break
			}
		}

		if len(in) >= 3 {
			actors := make(map[string]bool)
			var related []string
			for _, edgeID := range in {
				src := g.events[g.edges[edgeID].Source]
				related = append(related, src.ID)
				if src.Actor != "" {
					actors[src.Actor] = true
				}
			}
			if len(actors) >= 2 {
				out = append(out, Pattern{Kind: PatternConvergence, EventID: id, RelatedIDs: related})
			}
		}
	}
	return out
}

// Contradictions returns every contradiction edge, for conflict detection
// by the orchestrator.
func (g *Graph) Contradictions() []*types.CausalEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*types.CausalEdge
	for _, id := range g.order {
		for _, edgeID := range g.outgoing[id] {
			if g.edges[edgeID].Relation == types.RelationContradiction {
				out = append(out, g.edges[edgeID])
			}
		}
	}
	return out
}

// Prediction is one likely next event: the successor of an influential
// event with its estimated probability.
type Prediction struct {
	SourceID    string  `json:"source_id"`
	EventID     string  `json:"event_id"`
	Probability float64 `json:"probability"`
}

// predictTopInfluencers bounds how many influential events seed predictions.
const predictTopInfluencers = 5

// PredictNext returns the direct successors of the top influential events,
// each with probability edge.strength · edge.confidence · source.confidence,
// highest first.
func (g *Graph) PredictNext(window time.Duration) []Prediction {
	g.mu.RLock()
	defer g.mu.RUnlock()

	influential := g.influentialLocked(window)
	if len(influential) > predictTopInfluencers {
		influential = influential[:predictTopInfluencers]
	}
	var out []Prediction
	for _, src := range influential {
		for _, edgeID := range g.outgoing[src.ID] {
			edge := g.edges[edgeID]
			out = append(out, Prediction{
				SourceID:    src.ID,
				EventID:     edge.Target,
				Probability: edge.Strength * edge.Confidence * src.Confidence,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability == out[j].Probability {
			return out[i].EventID < out[j].EventID
		}
		return out[i].Probability > out[j].Probability
	})
	return out
}
