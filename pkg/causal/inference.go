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
	"github.com/teradata-labs/fable/pkg/types"
)

// logicalPairs lists cause→effect kind pairs that carry narrative logic on
// their own, independent of shared actors or places.
var logicalPairs = map[string]map[string]bool{
	"attack":    {"flee": true, "defend": true, "retreat": true, "injured": true},
	"threaten":  {"flee": true, "negotiate": true, "hide": true},
	"discover":  {"investigate": true, "claim_territory": true, "move": true},
	"move":      {"discover": true, "encounter": true},
	"negotiate": {"agree": true, "trade": true, "betray": true},
	"steal":     {"pursue": true, "accuse": true},
	"accuse":    {"negotiate": true, "attack": true},
}

// enablingPairs lists cause kinds that make the effect kind possible rather
// than directly triggering it.
var enablingPairs = map[string]map[string]bool{
	"discover": {"claim_territory": true, "investigate": true},
	"move":     {"encounter": true, "discover": true},
	"trade":    {"alliance": true},
	"rest":     {"attack": true, "move": true},
}

// rivalKinds are kinds where two events of the same kind by different actors
// at one location contradict each other: both cannot stand.
var rivalKinds = map[string]bool{
	"claim_territory": true,
	"claim":           true,
	"seize":           true,
}

// opposedKinds pairs kinds that pull the story in incompatible directions.
var opposedKinds = map[string]map[string]bool{
	"attack":  {"protect": true, "truce": true},
	"ally":    {"betray": true},
	"retreat": {"advance": true},
}

func isLogicalPair(cause, effect string) bool {
	return logicalPairs[cause][effect]
}

func isEnablingPair(cause, effect string) bool {
	return enablingPairs[cause][effect]
}

// isContradiction reports whether two events conflict: rival same-kind
// events at one location by different actors, or explicitly opposed kinds.
func isContradiction(cause, effect *types.Event) bool {
	if rivalKinds[cause.Kind] && cause.Kind == effect.Kind &&
		cause.Location != "" && cause.Location == effect.Location &&
		cause.Actor != effect.Actor {
		return true
	}
	return opposedKinds[cause.Kind][effect.Kind] || opposedKinds[effect.Kind][cause.Kind]
}

// inferredStrength is the fixed weighted feature sum for append-time
// inference: same actor 0.4, same location 0.3, participant overlap 0.1·n,
// logical pair 0.2, temporal proximity 0.1·(1 − Δt/window).
func (g *Graph) inferredStrength(cause, effect *types.Event) float64 {
	s := 0.0
	if cause.Actor != "" && cause.Actor == effect.Actor {
		s += 0.4
	}
	if cause.Location != "" && cause.Location == effect.Location {
		s += 0.3
	}
	overlapN := 0
	for _, p := range cause.Participants {
		if p == cause.Actor {
			continue
		}
		if effect.HasParticipant(p) {
			overlapN++
		}
	}
	s += 0.1 * float64(overlapN)
	if isLogicalPair(cause.Kind, effect.Kind) || isContradiction(cause, effect) {
		s += 0.2
	}
	dt := effect.Timestamp.Sub(cause.Timestamp)
	if dt >= 0 && dt <= g.cfg.InferenceWindow {
		s += 0.1 * (1.0 - dt.Seconds()/g.cfg.InferenceWindow.Seconds())
	}
	return types.Clamp01(s)
}

// relationFor picks the edge relation by the fixed decision table.
func relationFor(cause, effect *types.Event) types.CausalRelation {
	switch {
	case isContradiction(cause, effect):
		return types.RelationContradiction
	case cause.Actor != "" && cause.Actor == effect.Actor:
		return types.RelationDirectCause
	case isEnablingPair(cause.Kind, effect.Kind):
		return types.RelationEnabler
	default:
		return types.RelationIndirectCause
	}
}

// inferEdgesLocked finds candidate causes for the freshly appended event and
// adds an edge for each candidate whose feature strength clears the floor.
// Candidates share an actor or a location with the new event and precede it
// within the inference window. Caller holds mu.
func (g *Graph) inferEdgesLocked(effect *types.Event) []*types.CausalEdge {
	seen := make(map[string]bool, 8)
	var candidates []*types.Event
	consider := func(id string) {
		if id == effect.ID || seen[id] {
			return
		}
		seen[id] = true
		cause := g.events[id]
		dt := effect.Timestamp.Sub(cause.Timestamp)
		if dt < 0 || dt > g.cfg.InferenceWindow {
			return
		}
		candidates = append(candidates, cause)
	}

	if effect.Actor != "" {
		for _, id := range g.byActor[effect.Actor] {
			consider(id)
		}
	}
	if effect.Location != "" {
		for _, id := range g.byLocation[effect.Location] {
			consider(id)
		}
	}

	var inferred []*types.CausalEdge
	for _, cause := range candidates {
		strength := g.inferredStrength(cause, effect)
		if strength <= g.cfg.MinInferredStrength {
			continue
		}
		edge := types.NewCausalEdge(cause.ID, effect.ID, relationFor(cause, effect),
			strength, cause.Confidence*effect.Confidence,
			effect.Timestamp.Sub(cause.Timestamp))
		if err := g.addEdgeLocked(edge); err != nil {
			// Duplicate pairs or would-be cycles are skipped, not fatal:
			// inference is best effort.
			continue
		}
		inferred = append(inferred, edge)
	}
	return inferred
}
