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

package negotiation

import (
	"context"
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

func testParties() map[string]*types.AgentState {
	return map[string]*types.AgentState{
		"alice": types.NewAgentState("alice", types.CharacterData{Name: "Alice", Faction: "wardens"}),
		"bob":   types.NewAgentState("bob", types.CharacterData{Name: "Bob", Faction: "drifters"}),
		"cara":  types.NewAgentState("cara", types.CharacterData{Name: "Cara"}),
	}
}

func mediationBroker(t *testing.T, respond mock.ResponderFunc) *broker.Broker {
	t.Helper()
	provider := mock.New(mock.WithResponder(respond))
	meter := budget.NewMeter(budget.Config{MaxCostPerTurn: 1, MaxTotalCost: 10, MaxRequestsPerHour: 1000})
	meter.StartTurn()
	br := broker.New(broker.DefaultConfig(), provider, cache.New(cache.Config{Capacity: 64}), meter,
		broker.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(br.Close)
	return br
}

func TestOpenValidation(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	_, err := e.Open("water rights", "", []string{"bob"}, nil)
	assert.Error(t, err)
	_, err = e.Open("water rights", "alice", nil, nil)
	assert.Error(t, err)
	_, err = e.Open("water rights", "alice", []string{"alice"}, nil)
	assert.Error(t, err)

	s, err := e.Open("water rights", "alice", []string{"bob", "cara"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateInitiated, s.State)
	assert.Equal(t, []string{"alice", "bob", "cara"}, s.Participants)
}

func TestUnanimousAcceptResolves(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, WithLogger(zaptest.NewLogger(t)))
	agents := testParties()

	s, err := e.Open("border patrol", "alice", []string{"bob", "cara"}, agents)
	require.NoError(t, err)

	s, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "joint patrols at dawn"})
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, s.State)
	assert.Equal(t, 1, s.Round)
	assert.ElementsMatch(t, []string{"bob", "cara"}, s.Current().Targets)

	s, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondAccept})
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, s.State, "round open until all targets respond")

	s, err = e.Respond(context.Background(), s.ID, &Response{Responder: "cara", Kind: RespondAccept})
	require.NoError(t, err)
	assert.Equal(t, StateResolved, s.State)

	for id, st := range agents {
		assert.InDelta(t, 0.6, st.GetReputation(), 1e-9, "participant %s", id)
	}
	assert.Equal(t, int64(1), e.Snapshot().Resolved)
	assert.Len(t, e.History(), 1)
}

func TestRejectsWithoutCountersFail(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	agents := testParties()

	s, err := e.Open("tribute", "alice", []string{"bob", "cara"}, agents)
	require.NoError(t, err)
	s, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "double the tribute"})
	require.NoError(t, err)

	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondReject})
	require.NoError(t, err)
	s, err = e.Respond(context.Background(), s.ID, &Response{Responder: "cara", Kind: RespondReject})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, s.State)
	assert.InDelta(t, 0.45, agents["alice"].GetReputation(), 1e-9)
}

func TestBestCounterPromoted(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	s, err := e.Open("grain trade", "alice", []string{"bob", "cara"}, testParties())
	require.NoError(t, err)
	s, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "grain for ore, 2:1"})
	require.NoError(t, err)

	// viability 0.5 + 0.2 - 0.1 = 0.6
	strong := &Proposal{
		Proposer:     "bob",
		Content:      "grain for ore 1:1 plus escort",
		Benefits:     []string{"armed escort"},
		Requirements: []string{"winter storage"},
	}
	// viability 0.5 - 0.3 = 0.2
	weak := &Proposal{
		Proposer:     "cara",
		Content:      "grain on credit",
		Requirements: []string{"collateral", "interest", "guarantor"},
	}

	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondCounter, Counter: strong})
	require.NoError(t, err)
	s, err = e.Respond(context.Background(), s.ID, &Response{Responder: "cara", Kind: RespondCounter, Counter: weak})
	require.NoError(t, err)

	assert.Equal(t, StateInProgress, s.State)
	assert.Equal(t, 2, s.Round)
	cur := s.Current()
	assert.Equal(t, "bob", cur.Proposer)
	assert.Equal(t, "grain for ore 1:1 plus escort", cur.Content)
	assert.Empty(t, s.Responses, "new round starts with a clean response set")
}

func TestRoundCapDeadlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRounds = 2
	e := NewEngine(cfg, nil)

	s, err := e.Open("succession", "alice", []string{"bob"}, testParties())
	require.NoError(t, err)
	s, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "alice rules"})
	require.NoError(t, err)

	s, err = e.Respond(context.Background(), s.ID, &Response{
		Responder: "bob", Kind: RespondCounter,
		Counter: &Proposal{Proposer: "bob", Content: "bob rules"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Round)

	// Countering at the cap deadlocks instead of opening round 3.
	s, err = e.Respond(context.Background(), s.ID, &Response{
		Responder: "alice", Kind: RespondCounter,
		Counter: &Proposal{Proposer: "alice", Content: "alice rules, again"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateDeadlock, s.State)
	assert.Equal(t, int64(1), e.Snapshot().Deadlocked)
}

func TestMixedRoundGoesToMediation(t *testing.T) {
	br := mediationBroker(t, func(req *types.LLMRequest) (string, error) {
		require.Equal(t, "negotiation_mediation", req.Kind)
		assert.Contains(t, req.Prompt, "## Character: Alice")
		return `{"content": "shared patrols, split tribute", "benefits": ["peace"], "requirements": []}`, nil
	})
	cfg := DefaultConfig()
	cfg.ProposalTimeout = time.Minute
	e := NewEngine(cfg, br, WithLogger(zaptest.NewLogger(t)))

	s, err := e.Open("ceasefire", "alice", []string{"bob", "cara"}, testParties())
	require.NoError(t, err)
	s, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "full ceasefire now"})
	require.NoError(t, err)
	firstExpiry := s.Current().ExpiresAt

	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondAccept})
	require.NoError(t, err)
	s, err = e.Respond(context.Background(), s.ID, &Response{
		Responder: "cara", Kind: RespondConditional, Conditions: []string{"hostages released first"},
	})
	require.NoError(t, err)

	assert.Equal(t, StateInProgress, s.State)
	assert.Equal(t, 2, s.Round)
	cur := s.Current()
	assert.True(t, cur.Mediated)
	assert.Equal(t, "mediator", cur.Proposer)
	assert.Equal(t, "shared patrols, split tribute", cur.Content)
	assert.True(t, cur.ExpiresAt.Before(firstExpiry), "mediated proposal gets a shorter timeout")
	assert.Equal(t, int64(1), e.Snapshot().Mediations)
}

func TestMediationUnavailableDeadlocks(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	s, err := e.Open("ceasefire", "alice", []string{"bob", "cara"}, testParties())
	require.NoError(t, err)
	s, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "full ceasefire now"})
	require.NoError(t, err)

	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondAccept})
	require.NoError(t, err)
	s, err = e.Respond(context.Background(), s.ID, &Response{Responder: "cara", Kind: RespondConditional})
	require.NoError(t, err)
	assert.Equal(t, StateDeadlock, s.State)
}

func TestSessionTimeout(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cfg := DefaultConfig()
	cfg.SessionTimeout = time.Minute
	e := NewEngine(cfg, nil, WithClock(func() time.Time { return clock() }))

	s, err := e.Open("patrol", "alice", []string{"bob"}, testParties())
	require.NoError(t, err)
	_, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "split shifts"})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, e.ExpireSessions())

	got, ok := e.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, StateTimeout, got.State)
	assert.Equal(t, int64(1), e.Snapshot().TimedOut)

	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondAccept})
	assert.Error(t, err, "terminal sessions take no responses")
}

func TestInvalidResponses(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	s, err := e.Open("patrol", "alice", []string{"bob"}, testParties())
	require.NoError(t, err)

	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondAccept})
	assert.Error(t, err, "no proposal on the table yet")

	_, err = e.Propose(s.ID, &Proposal{Proposer: "zed", Content: "nope"})
	assert.Error(t, err, "non-participant cannot propose")

	_, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "split shifts"})
	require.NoError(t, err)

	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "alice", Kind: RespondAccept})
	assert.Error(t, err, "proposer is not a target")
	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondCounter})
	assert.Error(t, err, "counter without a counter-proposal")
	_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: "shrug"})
	assert.Error(t, err)
}

func TestHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCap = 2
	e := NewEngine(cfg, nil)

	for i := 0; i < 4; i++ {
		s, err := e.Open("spat", "alice", []string{"bob"}, testParties())
		require.NoError(t, err)
		_, err = e.Propose(s.ID, &Proposal{Proposer: "alice", Content: "mine"})
		require.NoError(t, err)
		_, err = e.Respond(context.Background(), s.ID, &Response{Responder: "bob", Kind: RespondAccept})
		require.NoError(t, err)
	}
	assert.Len(t, e.History(), 2)
	assert.Equal(t, int64(4), e.Snapshot().Resolved)
}

func TestTopicTitle(t *testing.T) {
	assert.Equal(t, "Territorial Dispute", topicTitle("territorial_dispute"))
	assert.Equal(t, "Water Rights", topicTitle("water rights"))
}
