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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/fable/pkg/memory"
	"github.com/teradata-labs/fable/pkg/types"
)

var pipeBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pipeClock() types.Clock {
	return func() time.Time { return pipeBase }
}

func TestPickBias(t *testing.T) {
	tests := []struct {
		name   string
		traits map[string]float64
		stress float64
		want   Bias
	}{
		{"stress overrides traits", map[string]float64{"optimism": 0.9}, 0.9, BiasEmotional},
		{"paranoid", map[string]float64{"caution": 0.9, "trust": 0.2}, 0.1, BiasParanoid},
		{"naive", map[string]float64{"caution": 0.1, "trust": 0.8}, 0.1, BiasNaive},
		{"cynical", map[string]float64{"trust": 0.1}, 0.1, BiasCynical},
		{"idealistic", map[string]float64{"idealism": 0.9}, 0.1, BiasIdealistic},
		{"optimistic", map[string]float64{"optimism": 0.8}, 0.1, BiasOptimistic},
		{"pessimistic", map[string]float64{"optimism": 0.1}, 0.1, BiasPessimistic},
		{"default pragmatic", nil, 0.1, BiasPragmatic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickBias(types.CharacterData{Personality: tt.traits}, tt.stress)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpretEvents(t *testing.T) {
	state := types.NewAgentState("mira", types.CharacterData{Name: "Mira"})
	state.SetLocation("camp")

	attack := types.NewEvent("attack", "rook", "camp", pipeBase.Add(-30*time.Second))
	attack.AddParticipant("mira")
	remoteTrade := types.NewEvent("trade", "bob", "market", pipeBase.Add(-2*time.Hour))

	interps := interpretEvents([]*types.Event{attack, remoteTrade}, nil, state, BiasPragmatic, pipeBase)
	require.Len(t, interps, 2)

	assert.True(t, interps[0].DirectHit)
	assert.True(t, interps[0].SameSpot)
	assert.InDelta(t, -0.8, interps[0].Sentiment, 1e-9)
	assert.InDelta(t, 0.9, interps[0].Relevance, 1e-9)

	assert.False(t, interps[1].DirectHit)
	assert.InDelta(t, 0.3, interps[1].Sentiment, 1e-9)
	assert.Zero(t, interps[1].Relevance)
}

func TestBiasSkewsSentiment(t *testing.T) {
	state := types.NewAgentState("mira", types.CharacterData{})
	e := types.NewEvent("confront", "rook", "", pipeBase)

	optimistic := interpretEvents([]*types.Event{e}, nil, state, BiasOptimistic, pipeBase)
	cynical := interpretEvents([]*types.Event{e}, nil, state, BiasCynical, pipeBase)
	assert.Greater(t, optimistic[0].Sentiment, cynical[0].Sentiment)
}

func TestThreatAssessment(t *testing.T) {
	state := types.NewAgentState("mira", types.CharacterData{})
	state.SetLocation("camp")

	attack := types.NewEvent("attack", "rook", "camp", pipeBase.Add(-30*time.Second))
	attack.AddParticipant("mira")
	interps := interpretEvents([]*types.Event{attack}, nil, state, BiasPragmatic, pipeBase)

	// direct 0.8*0.4 + proximity 0.8*0.9*0.25 = 0.5 → moderate
	assert.Equal(t, types.ThreatModerate, assessThreat(state, interps, BiasPragmatic))
	assert.Equal(t, types.ThreatHigh, assessThreat(state, interps, BiasParanoid))
	assert.Equal(t, types.ThreatLow, assessThreat(state, interps, BiasNaive))
}

func TestVulnerabilityRaisesThreat(t *testing.T) {
	state := types.NewAgentState("mira", types.CharacterData{})
	state.Health = types.HealthCritical
	state.AdjustStress(0.6)

	// vulnerability (0.3 + 0.6 capped at 0.9) * 0.15 ≈ 0.135 < low band alone
	level := assessThreat(state, nil, BiasPragmatic)
	assert.Equal(t, types.ThreatNegligible, level)

	attack := types.NewEvent("attack", "rook", "camp", pipeBase)
	attack.AddParticipant("mira")
	state.SetLocation("camp")
	interps := interpretEvents([]*types.Event{attack}, nil, state, BiasPragmatic, pipeBase)
	assert.GreaterOrEqual(t, assessThreat(state, interps, BiasPragmatic), types.ThreatModerate)
}

func aggressiveCharacter() types.CharacterData {
	return types.CharacterData{
		Name: "Mira",
		DecisionWeights: map[string]float64{
			"status_advancement": 1.0,
			"mission_success":    0.8,
			"self_preservation":  -0.5,
		},
	}
}

func TestDecideAttacksWhenProvoked(t *testing.T) {
	state := types.NewAgentState("mira", aggressiveCharacter())
	state.SetLocation("camp")

	p := NewPipeline(Config{}, "mira", nil, nil, nil,
		WithPipelineLogger(zaptest.NewLogger(t)),
		WithPipelineClock(pipeClock()),
		WithPipelineSeed(42))

	attack := types.NewEvent("attack", "rook", "camp", pipeBase.Add(-30*time.Second))
	attack.AddParticipant("mira")
	world := &types.WorldState{Turn: 1, Location: "camp", RecentEvents: []*types.Event{attack}}

	d, err := p.Decide(context.Background(), world, state)
	require.NoError(t, err)
	assert.Equal(t, "attack", d.ActionType)
	assert.Equal(t, "rook", d.Target)
	assert.False(t, d.Fallback)
	assert.Equal(t, "moderate", d.Params["threat"])
	assert.NotEmpty(t, d.Reason)
}

func TestDecideDeterministicForSeed(t *testing.T) {
	world := &types.WorldState{Turn: 1}
	run := func() string {
		state := types.NewAgentState("mira", types.CharacterData{Name: "Mira"})
		p := NewPipeline(Config{}, "mira", nil, nil, nil,
			WithPipelineClock(pipeClock()), WithPipelineSeed(99))
		d, err := p.Decide(context.Background(), world, state)
		require.NoError(t, err)
		return d.ActionType
	}
	assert.Equal(t, run(), run())
}

func TestDecideFallbackWhenIncapacitated(t *testing.T) {
	state := types.NewAgentState("mira", types.CharacterData{Name: "Mira"})
	state.SetStatus(types.StatusUnconscious, "knocked out")

	p := NewPipeline(Config{}, "mira", nil, nil, nil, WithPipelineClock(pipeClock()))
	d, err := p.Decide(context.Background(), &types.WorldState{Turn: 1}, state)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.ActionType)
	assert.True(t, d.Fallback)
}

func TestUnprovokedAttackFallsBackToWait(t *testing.T) {
	state := types.NewAgentState("mira", aggressiveCharacter())
	p := NewPipeline(Config{}, "mira", nil, nil, nil,
		WithPipelineClock(pipeClock()), WithPipelineSeed(7))

	// Only the aggressive profile's favorite action is offered, but nobody
	// has been hostile, so validation rejects it.
	world := &types.WorldState{Turn: 1, AvailableActions: []string{"attack"}}
	d, err := p.Decide(context.Background(), world, state)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.ActionType)
	assert.True(t, d.Fallback)
}

func TestDecideWritesEpisodicMemory(t *testing.T) {
	store := memory.NewStore("mira", memory.DefaultConfig())
	state := types.NewAgentState("mira", aggressiveCharacter())
	state.SetLocation("camp")

	p := NewPipeline(Config{}, "mira", nil, store, nil,
		WithPipelineClock(pipeClock()), WithPipelineSeed(1))

	attack := types.NewEvent("attack", "rook", "camp", pipeBase.Add(-10*time.Second))
	attack.AddParticipant("mira")
	world := &types.WorldState{Turn: 1, Location: "camp", RecentEvents: []*types.Event{attack}}

	_, err := p.Decide(context.Background(), world, state)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
	working := store.WorkingMemory()
	require.Len(t, working, 1)
	assert.Contains(t, working[0].Content, "attack by rook")
	assert.InDelta(t, -0.8, working[0].EmotionalWeight, 1e-9)
}

func TestTimePressureFlagged(t *testing.T) {
	state := types.NewAgentState("mira", types.CharacterData{Name: "Mira"})
	p := NewPipeline(Config{}, "mira", nil, nil, nil, WithPipelineSeed(5))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := p.Decide(ctx, &types.WorldState{Turn: 1}, state)
	require.NoError(t, err)
	assert.Equal(t, true, d.Params["time_pressed"])
}

func TestGoalPriorityOrdering(t *testing.T) {
	state := types.NewAgentState("mira", types.CharacterData{Name: "Mira"})
	state.AddGoal(types.Goal{ID: "g1", Name: "survive", Urgency: 0.9, Importance: 0.9, Feasibility: 0.9, Alignment: 0.9, Opportunity: 0.9})
	state.AddGoal(types.Goal{ID: "g2", Name: "tidy up", Urgency: 0.1, Importance: 0.1, Feasibility: 0.9})

	goals := state.ActiveGoals()
	require.Len(t, goals, 2)
	assert.Equal(t, "survive", goals[0].Name)
	assert.InDelta(t, 0.9, goals[0].Priority(), 1e-9)
	assert.InDelta(t, 0.1*0.3+0.1*0.25+0.9*0.2, goals[1].Priority(), 1e-9)
}

func TestContextBlock(t *testing.T) {
	state := types.NewAgentState("mira", types.CharacterData{
		Name:        "Mira",
		Faction:     "wardens",
		Description: "A wary scout.",
		Personality: map[string]float64{
			"caution":  0.9,
			"optimism": 0.55,
		},
	})
	state.SetLocation("pass")
	for i := 0; i < 5; i++ {
		state.AddGoal(types.Goal{ID: string(rune('a' + i)), Name: "goal", Urgency: 0.5})
	}

	block := ContextBlock(state)
	assert.Contains(t, block, "## Character: Mira (faction: wardens)")
	assert.Contains(t, block, "Identity: A wary scout.")
	assert.Contains(t, block, "caution=0.90")
	assert.NotContains(t, block, "optimism", "near-neutral traits are omitted")
	assert.Contains(t, block, "location=pass")
	assert.Equal(t, 3, strings.Count(block, "- goal"), "at most three goals")
}
