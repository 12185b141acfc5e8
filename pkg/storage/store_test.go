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

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/fable/pkg/budget"
	"github.com/teradata-labs/fable/pkg/causal"
	"github.com/teradata-labs/fable/pkg/coherence"
	"github.com/teradata-labs/fable/pkg/memory"
	"github.com/teradata-labs/fable/pkg/storage/backend"
	"github.com/teradata-labs/fable/pkg/types"
)

var storeBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSnapshot(t *testing.T) *SimulationSnapshot {
	t.Helper()

	mira := types.NewAgentState("mira", types.CharacterData{Name: "Mira", Faction: "wardens"})
	mira.SetLocation("pass")
	mira.AdjustRelationship("rook", 0.4)
	mira.AddGoal(types.Goal{ID: "g1", Name: "hold the pass", Urgency: 0.8, Active: true})

	g := causal.New(causal.DefaultConfig(), causal.WithClock(func() time.Time { return storeBase }))
	first := types.NewEvent("scout", "mira", "pass", storeBase.Add(-2*time.Minute))
	second := types.NewEvent("report", "mira", "pass", storeBase.Add(-time.Minute))
	_, err := g.AddEvent(first)
	require.NoError(t, err)
	_, err = g.AddEvent(second)
	require.NoError(t, err)

	c := coherence.New(coherence.Config{}, nil,
		coherence.WithClock(func() time.Time { return storeBase }))
	heavy := types.NewEvent("rescue", "mira", "pass", storeBase.Add(-30*time.Second))
	heavy.NarrativeWeight = 0.9
	_, err = c.Validate(context.Background(), heavy, nil)
	require.NoError(t, err)

	m := memory.NewMemory("mira", memory.KindEpisodic, "rescue at the pass", storeBase)
	m.EmotionalWeight = 0.7

	return &SimulationSnapshot{
		Label:   "after turn two",
		Turn:    2,
		TakenAt: storeBase,
		Agents:  []*types.AgentState{mira},
		Memories: map[string][]*memory.Memory{
			"mira": {m},
		},
		Graph:     g.Snapshot(),
		Narrative: c.SnapshotNarrative(),
		Budget:    budget.Stats{TurnCostUSD: 0.02, TotalCostUSD: 0.15, TotalCharges: 9, Turns: 2},
	}
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	snap := testSnapshot(t)
	snap.ID = "snap-1"

	data, err := encodeSnapshot(snap)
	require.NoError(t, err)

	got, err := decodeSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, "snap-1", got.ID)
	assert.Equal(t, 2, got.Turn)
	assert.True(t, got.TakenAt.Equal(snap.TakenAt))

	require.Len(t, got.Agents, 1)
	assert.Equal(t, "mira", got.Agents[0].ID)
	assert.Equal(t, "pass", got.Agents[0].GetLocation())
	assert.InDelta(t, 0.4, got.Agents[0].Relationship("rook"), 1e-9)
	require.Len(t, got.Agents[0].Goals, 1)
	assert.Equal(t, "hold the pass", got.Agents[0].Goals[0].Name)

	require.Len(t, got.Memories["mira"], 1)
	assert.Equal(t, "rescue at the pass", got.Memories["mira"][0].Content)
	assert.InDelta(t, 0.7, got.Memories["mira"][0].EmotionalWeight, 1e-9)

	require.Len(t, got.Graph.Events, 2)
	assert.Equal(t, snap.Graph.Events[0].ID, got.Graph.Events[0].ID)
	assert.Len(t, got.Graph.Edges, len(snap.Graph.Edges))

	require.Len(t, got.Narrative.Arcs, 1)
	assert.Equal(t, "mira", got.Narrative.Arcs[0].Actor)

	assert.InDelta(t, 0.15, got.Budget.TotalCostUSD, 1e-9)
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	b, err := backend.NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "fable.db"))
	require.NoError(t, err)
	s, err := NewStore(b, WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return storeBase }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSaveLoadDelete(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	snap := testSnapshot(t)
	id, err := s.Save(ctx, snap)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, snap.Turn, got.Turn)
	assert.Equal(t, snap.Label, got.Label)
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "mira", got.Agents[0].ID)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
	assert.Equal(t, 2, infos[0].Turn)
	assert.Positive(t, infos[0].Size)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Load(ctx, id)
	var nf *backend.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, id, nf.ID)
}

func TestStoreSaveIsUpsert(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	snap := testSnapshot(t)
	id, err := s.Save(ctx, snap)
	require.NoError(t, err)

	snap.Turn = 3
	snap.Label = "after turn three"
	_, err = s.Save(ctx, snap)
	require.NoError(t, err)

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Turn)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestStorePrune(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		snap := testSnapshot(t)
		snap.Turn = i + 1
		snap.TakenAt = storeBase.Add(time.Duration(i) * time.Minute)
		_, err := s.Save(ctx, snap)
		require.NoError(t, err)
	}

	removed, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	// Newest first; the two most recent survive.
	assert.Equal(t, 4, infos[0].Turn)
	assert.Equal(t, 3, infos[1].Turn)
}

func TestFactorySelectsBackend(t *testing.T) {
	ctx := context.Background()

	b, err := backend.New(ctx, backend.Config{Path: filepath.Join(t.TempDir(), "fable.db")})
	require.NoError(t, err)
	require.NoError(t, b.Ping(ctx))
	require.NoError(t, b.Close())

	_, err = backend.New(ctx, backend.Config{Kind: "mysql"})
	assert.Error(t, err)
}
