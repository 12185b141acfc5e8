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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/fable/pkg/broker"
	"github.com/teradata-labs/fable/pkg/budget"
	"github.com/teradata-labs/fable/pkg/llm/cache"
	"github.com/teradata-labs/fable/pkg/llm/mock"
	"github.com/teradata-labs/fable/pkg/types"
)

func testAgents() (*types.AgentState, *types.AgentState) {
	mira := types.NewAgentState("mira", types.CharacterData{
		Name:    "Mira",
		Faction: "wardens",
		Personality: map[string]float64{
			"caution":  0.9,
			"loyalty":  0.5,
			"optimism": 0.6,
		},
	})
	rook := types.NewAgentState("rook", types.CharacterData{
		Name:    "Rook",
		Faction: "drifters",
	})
	return mira, rook
}

func testBroker(t *testing.T, provider *mock.Provider, meterCfg budget.Config) (*broker.Broker, *budget.Meter) {
	t.Helper()
	meter := budget.NewMeter(meterCfg)
	meter.StartTurn()
	br := broker.New(broker.DefaultConfig(), provider, cache.New(cache.Config{Capacity: 64}), meter,
		broker.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(br.Close)
	return br, meter
}

func TestOpenValidation(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, nil)

	_, err := m.Open("telepathy", "a", "b")
	assert.Error(t, err)
	_, err = m.Open(TypeSocial, "a", "a")
	assert.Error(t, err)
	_, err = m.Open(TypeSocial, "", "b")
	assert.Error(t, err)

	d, err := m.Open(TypeSocial, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, StateInitiating, d.State)

	_, err = m.Open(TypeCoordination, "b", "c")
	assert.Error(t, err, "b is already in a dialogue")
}

func TestForcedFastModeSkipsProvider(t *testing.T) {
	provider := mock.New()
	br, _ := testBroker(t, provider, budget.Config{MaxCostPerTurn: 1, MaxTotalCost: 10, MaxRequestsPerHour: 100})
	m := NewManager(DefaultConfig(), br, nil, WithSeed(7))

	mira, rook := testAgents()
	d, err := m.Open(TypeSocial, "mira", "rook")
	require.NoError(t, err)

	got, err := m.Run(context.Background(), d.ID, &RunContext{
		Initiator: mira,
		Responder: rook,
		ForceFast: true,
	})
	require.NoError(t, err)
	assert.True(t, got.FastMode)
	assert.Equal(t, StateConcluded, got.State)
	assert.Contains(t, FastTemplates(TypeSocial), got.Outcome)
	assert.Zero(t, provider.Calls(), "fast mode must not reach the provider")
	assert.InDelta(t, 0.05, mira.Relationship("rook"), 1e-9)
	assert.InDelta(t, 0.05, rook.Relationship("mira"), 1e-9)
}

func TestLowRemainingTimeForcesFast(t *testing.T) {
	provider := mock.New()
	br, _ := testBroker(t, provider, budget.Config{MaxCostPerTurn: 1, MaxTotalCost: 10, MaxRequestsPerHour: 100})
	cfg := DefaultConfig()
	cfg.FastModeMinRemaining = 4 * time.Second
	m := NewManager(cfg, br, nil, WithSeed(1))

	mira, rook := testAgents()
	d, err := m.Open(TypeCoordination, "mira", "rook")
	require.NoError(t, err)

	got, err := m.Run(context.Background(), d.ID, &RunContext{
		Initiator: mira,
		Responder: rook,
		Remaining: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, got.FastMode)
	assert.Contains(t, FastTemplates(TypeCoordination), got.Outcome)
	assert.Zero(t, provider.Calls())
}

func TestLowBudgetForcesFast(t *testing.T) {
	provider := mock.New()
	br, meter := testBroker(t, provider, budget.Config{MaxCostPerTurn: 0.05, MaxTotalCost: 10, MaxRequestsPerHour: 100})
	meter.Charge("dialogue", 0.04, 100) // 0.01 left, below the 0.02 floor
	m := NewManager(DefaultConfig(), br, meter, WithSeed(1))

	mira, rook := testAgents()
	d, err := m.Open(TypeInformation, "mira", "rook")
	require.NoError(t, err)

	got, err := m.Run(context.Background(), d.ID, &RunContext{Initiator: mira, Responder: rook})
	require.NoError(t, err)
	assert.True(t, got.FastMode)
	assert.Zero(t, provider.Calls())
}

func TestLLMModeParsesTranscript(t *testing.T) {
	provider := mock.New(mock.WithResponder(func(req *types.LLMRequest) (string, error) {
		assert.Equal(t, "dialogue", req.Kind)
		assert.Contains(t, req.Prompt, "## Character: Mira")
		assert.Contains(t, req.Prompt, "caution=0.90")
		assert.NotContains(t, req.Prompt, "loyalty", "neutral traits stay out of the prompt")
		return "Mira: The pass is watched. We go at dusk.\n" +
			"Rook: Dusk, then. Bring the maps.\n" +
			"Mira: Agreed.\n" +
			"Outcome: They agree to cross the pass at dusk.\n" +
			"Relationship Impact: +0.15\n", nil
	}))
	br, _ := testBroker(t, provider, budget.Config{MaxCostPerTurn: 1, MaxTotalCost: 10, MaxRequestsPerHour: 100})
	m := NewManager(DefaultConfig(), br, nil)

	mira, rook := testAgents()
	d, err := m.Open(TypeCoordination, "mira", "rook")
	require.NoError(t, err)

	got, err := m.Run(context.Background(), d.ID, &RunContext{
		Initiator: mira,
		Responder: rook,
		Scene:     "A ridge above the pass, late afternoon.",
	})
	require.NoError(t, err)
	assert.False(t, got.FastMode)
	assert.Equal(t, StateConcluded, got.State)
	require.Len(t, got.Exchanges, 3)
	assert.Equal(t, "Mira", got.Exchanges[0].Speaker)
	assert.Equal(t, "They agree to cross the pass at dusk.", got.Outcome)
	assert.InDelta(t, 0.15, got.Impact, 1e-9)
	assert.InDelta(t, 0.15, mira.Relationship("rook"), 1e-9)
	assert.InDelta(t, 0.15, rook.Relationship("mira"), 1e-9)
	// 0.5 base + outcome + impact + 3/4 exchanges + short content
	assert.Greater(t, got.Quality, 0.7)
}

func TestLLMFailureFailsDialogue(t *testing.T) {
	provider := mock.New(mock.WithResponder(func(req *types.LLMRequest) (string, error) {
		return "", errors.New("provider down")
	}))
	br, _ := testBroker(t, provider, budget.Config{MaxCostPerTurn: 1, MaxTotalCost: 10, MaxRequestsPerHour: 100})
	m := NewManager(DefaultConfig(), br, nil)

	mira, rook := testAgents()
	d, err := m.Open(TypeConfrontation, "mira", "rook")
	require.NoError(t, err)

	got, err := m.Run(context.Background(), d.ID, &RunContext{Initiator: mira, Responder: rook})
	require.Error(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.NotEmpty(t, got.FailureCause)

	hist := m.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StateFailed, hist[0].State)

	// Participants are free again.
	_, err = m.Open(TypeSocial, "mira", "rook")
	assert.NoError(t, err)
}

func TestInterruptAll(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, nil)

	_, err := m.Open(TypeSocial, "a", "b")
	require.NoError(t, err)
	_, err = m.Open(TypeSocial, "c", "d")
	require.NoError(t, err)

	n := m.InterruptAll("turn budget exhausted")
	assert.Equal(t, 2, n)
	assert.Empty(t, m.Active())
	for _, d := range m.History() {
		assert.Equal(t, StateInterrupted, d.State)
		assert.Equal(t, "turn budget exhausted", d.FailureCause)
	}
	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Interrupted)
}

func TestHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCap = 3
	m := NewManager(cfg, nil, nil, WithSeed(1))

	mira, rook := testAgents()
	for i := 0; i < 5; i++ {
		d, err := m.Open(TypeSocial, "mira", "rook")
		require.NoError(t, err)
		_, err = m.Run(context.Background(), d.ID, &RunContext{Initiator: mira, Responder: rook})
		require.NoError(t, err)
	}
	assert.Len(t, m.History(), 3)
	s := m.Snapshot()
	assert.Equal(t, int64(5), s.Concluded)
	assert.Equal(t, int64(5), s.FastRuns, "nil broker always goes fast")
}

func TestInterruptDuringProviderCallRetiresOnce(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	provider := mock.New(mock.WithResponder(func(req *types.LLMRequest) (string, error) {
		close(started)
		<-release
		return "mira: We move at dawn.\nrook: Fine.\nOutcome: uneasy accord\nRelationship Impact: +0.1", nil
	}))
	br, _ := testBroker(t, provider, budget.Config{MaxCostPerTurn: 1, MaxTotalCost: 10, MaxRequestsPerHour: 100})
	m := NewManager(DefaultConfig(), br, nil)

	mira, rook := testAgents()
	d, err := m.Open(TypeNegotiation, "mira", "rook")
	require.NoError(t, err)

	done := make(chan *Dialogue, 1)
	go func() {
		out, runErr := m.Run(context.Background(), d.ID, &RunContext{Initiator: mira, Responder: rook})
		assert.NoError(t, runErr)
		done <- out
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("provider never called")
	}
	require.Equal(t, 1, m.InterruptAll("turn budget exhausted"))
	close(release)

	var out *Dialogue
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}

	assert.Equal(t, StateInterrupted, out.State)
	assert.Empty(t, m.Active())
	require.Len(t, m.History(), 1, "interrupted dialogue is retired exactly once")
	assert.Equal(t, StateInterrupted, m.History()[0].State)
	assert.Equal(t, "mira", m.History()[0].Initiator)
}
