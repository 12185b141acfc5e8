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

package agent

import (
	"github.com/teradata-labs/fable/pkg/types"
)

// Threat-factor weights. They sum to 1 so the combined score stays in [0,1].
const (
	weightDirectThreat    = 0.40
	weightProximity       = 0.25
	weightFactionHostile  = 0.20
	weightVulnerability   = 0.15
	hostileSentimentFloor = -0.2
)

// assessThreat runs stage two: combine direct threats, proximity of hostile
// activity, faction hostility, and the agent's own vulnerability into one
// threat level. Paranoid escalates one level; naive de-escalates one.
func assessThreat(state *types.AgentState, interpretations []Interpretation, bias Bias) types.ThreatLevel {
	var direct, proximity, faction float64
	for _, it := range interpretations {
		if it.Sentiment > hostileSentimentFloor {
			continue
		}
		severity := -it.Sentiment
		if it.DirectHit {
			direct = maxf(direct, severity)
		}
		if it.SameSpot {
			proximity = maxf(proximity, severity*it.Relevance)
		}
		if hostileFaction(state, it.Event) {
			faction = maxf(faction, severity)
		}
	}

	score := direct*weightDirectThreat +
		proximity*weightProximity +
		faction*weightFactionHostile +
		vulnerability(state)*weightVulnerability

	level := levelFor(score)
	switch bias {
	case BiasParanoid:
		level = level.Escalate()
	case BiasNaive:
		level = level.Deescalate()
	}
	return level
}

// hostileFaction reports whether the event's actor belongs to a faction the
// agent distrusts, proxied by a negative relationship with the actor.
func hostileFaction(state *types.AgentState, e *types.Event) bool {
	if e.Actor == "" || e.Actor == state.ID {
		return false
	}
	return state.Relationship(e.Actor) < -0.2
}

// vulnerability grades how exposed the agent currently is.
func vulnerability(state *types.AgentState) float64 {
	v := state.GetStress() * 0.5
	switch state.Health {
	case types.HealthInjured, types.HealthRecovering:
		v += 0.3
	case types.HealthCritical:
		v += 0.6
	}
	switch state.GetStatus() {
	case types.StatusInjured, types.StatusStunned:
		v += 0.2
	case types.StatusFleeing, types.StatusHiding:
		v += 0.1
	}
	return clamp01(v)
}

func levelFor(score float64) types.ThreatLevel {
	switch {
	case score >= 0.8:
		return types.ThreatCritical
	case score >= 0.6:
		return types.ThreatHigh
	case score >= 0.35:
		return types.ThreatModerate
	case score >= 0.15:
		return types.ThreatLow
	default:
		return types.ThreatNegligible
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clamp01(v float64) float64 { return types.Clamp01(v) }
