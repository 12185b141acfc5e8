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

// Criteria every candidate action is scored against.
var criteria = []string{
	"self_preservation",
	"faction_loyalty",
	"personal_relationships",
	"mission_success",
	"moral_principles",
	"resource_acquisition",
	"knowledge_seeking",
	"status_advancement",
}

// DefaultActions is the candidate set used when the world supplies none.
var DefaultActions = []string{
	"wait",
	"move",
	"gather_information",
	"attack",
	"defend",
	"negotiate",
	"socialize",
	"explore",
}

// defaultCriterionWeight applies when the character sheet leaves a criterion
// weight unset.
const defaultCriterionWeight = 0.25

// tieBand is the fraction of the top score within which candidates count as
// tied and are picked among at random.
const tieBand = 0.15

// actionAffinity maps each known action to its per-criterion affinity in
// [0,1]. Unknown actions and unlisted criteria fall back to a weak 0.2.
var actionAffinity = map[string]map[string]float64{
	"wait": {
		"self_preservation": 0.7,
		"moral_principles":  0.4,
	},
	"move": {
		"self_preservation": 0.6,
		"mission_success":   0.4,
		"knowledge_seeking": 0.3,
	},
	"gather_information": {
		"knowledge_seeking":  0.9,
		"mission_success":    0.5,
		"self_preservation":  0.4,
		"status_advancement": 0.3,
	},
	"attack": {
		"status_advancement":   0.7,
		"mission_success":      0.6,
		"resource_acquisition": 0.5,
		"faction_loyalty":      0.4,
		"self_preservation":    0.1,
		"moral_principles":     0.1,
	},
	"defend": {
		"self_preservation": 0.9,
		"faction_loyalty":   0.6,
		"moral_principles":  0.6,
		"mission_success":   0.3,
	},
	"negotiate": {
		"personal_relationships": 0.7,
		"mission_success":        0.6,
		"moral_principles":       0.6,
		"resource_acquisition":   0.4,
		"faction_loyalty":        0.3,
	},
	"socialize": {
		"personal_relationships": 0.9,
		"status_advancement":     0.4,
		"knowledge_seeking":      0.3,
	},
	"explore": {
		"knowledge_seeking":    0.7,
		"resource_acquisition": 0.6,
		"mission_success":      0.3,
	},
}

const fallbackAffinity = 0.2

func affinity(action, criterion string) float64 {
	if profile, ok := actionAffinity[action]; ok {
		if v, ok := profile[criterion]; ok {
			return v
		}
	}
	return fallbackAffinity
}

// defensive reports whether an action mostly serves survival; those are the
// ones the threat modifier amplifies.
func defensive(action string) bool {
	return affinity(action, "self_preservation") >= 0.5
}

// quick reports whether an action pays off within the current turn; those
// get the time-pressure boost.
func quick(action string) bool {
	switch action {
	case "wait", "defend", "move":
		return true
	default:
		return false
	}
}

// Candidate is one scored action.
type Candidate struct {
	Action string
	Score  float64
}

// scoreActions runs stage four: dot the character's decision weights with
// each action's criterion affinities, then amplify survival actions by the
// threat modifier and quick actions by time pressure.
func scoreActions(actions []string, c types.CharacterData, threat types.ThreatLevel, timePressure float64) []Candidate {
	out := make([]Candidate, 0, len(actions))
	for _, action := range actions {
		var score float64
		for _, criterion := range criteria {
			w, ok := c.DecisionWeights[criterion]
			if !ok {
				w = defaultCriterionWeight
			}
			score += w * affinity(action, criterion)
		}
		if defensive(action) {
			score *= threat.Modifier()
		}
		if quick(action) {
			score *= 1 + 0.3*types.Clamp01(timePressure)
		}
		out = append(out, Candidate{Action: action, Score: score})
	}
	return out
}

// selectAction runs stage five: top score wins, with a random pick among
// candidates within the tie band of the top.
func (p *Pipeline) selectAction(candidates []Candidate) Candidate {
	if len(candidates) == 0 {
		return Candidate{Action: ActionWait}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	if best.Score <= 0 {
		return best
	}
	var tied []Candidate
	floor := best.Score * (1 - tieBand)
	for _, c := range candidates {
		if c.Score >= floor {
			tied = append(tied, c)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return tied[p.rng.Intn(len(tied))]
}
