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
	"time"

	"github.com/teradata-labs/fable/pkg/causal"
	"github.com/teradata-labs/fable/pkg/types"
)

// hostileKinds carry negative base sentiment; friendlyKinds positive.
var hostileKinds = map[string]float64{
	"attack":     -0.8,
	"ambush":     -0.8,
	"threaten":   -0.6,
	"seize":      -0.5,
	"steal":      -0.5,
	"sabotage":   -0.5,
	"confront":   -0.3,
	"claim":      -0.2,
	"accuse":     -0.3,
	"betray":     -0.9,
	"flee":       -0.2,
	"retreat":    -0.2,
	"destroy":    -0.6,
	"intimidate": -0.5,
}

var friendlyKinds = map[string]float64{
	"help":      0.6,
	"heal":      0.6,
	"gift":      0.5,
	"trade":     0.3,
	"ally":      0.7,
	"negotiate": 0.2,
	"socialize": 0.3,
	"rescue":    0.8,
	"share":     0.4,
	"celebrate": 0.4,
}

// Interpretation is one recent event seen through the agent's bias.
type Interpretation struct {
	Event     *types.Event
	Sentiment float64 // [-1,1], negative = threatening
	Relevance float64 // [0,1], how much this concerns the agent
	DirectHit bool    // the agent is a participant or explicit target
	SameSpot  bool    // happened at the agent's location
	Influent  bool    // the event ranks as influential in the causal graph
}

// interpretEvents runs stage one: each recent event scored for sentiment and
// relevance from the agent's point of view, skewed by the bias. The causal
// graph marks events with high downstream influence.
func interpretEvents(recent []*types.Event, graph *causal.Graph, state *types.AgentState, bias Bias, now time.Time) []Interpretation {
	var influential map[string]bool
	if graph != nil {
		influential = make(map[string]bool)
		for _, e := range graph.InfluentialEvents(time.Hour) {
			influential[e.ID] = true
		}
	}

	location := state.GetLocation()
	out := make([]Interpretation, 0, len(recent))
	for _, e := range recent {
		if e == nil {
			continue
		}
		it := Interpretation{Event: e}

		it.Sentiment = baseSentiment(e.Kind)
		it.Sentiment += bias.sentimentSkew()
		it.Sentiment = types.ClampSigned(it.Sentiment)

		if e.HasParticipant(state.ID) || e.PayloadString("target") == state.ID {
			it.DirectHit = true
			it.Relevance += 0.5
		}
		if location != "" && e.Location == location {
			it.SameSpot = true
			it.Relevance += 0.3
		}
		if influential[e.ID] {
			it.Influent = true
			it.Relevance += 0.2
		}
		// Recency keeps last-minute events on the radar even when remote.
		if age := now.Sub(e.Timestamp); age >= 0 && age < time.Minute {
			it.Relevance += 0.1
		}
		it.Relevance = types.Clamp01(it.Relevance)
		out = append(out, it)
	}
	return out
}

func baseSentiment(kind string) float64 {
	if v, ok := hostileKinds[kind]; ok {
		return v
	}
	if v, ok := friendlyKinds[kind]; ok {
		return v
	}
	return 0
}
