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

package memory

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) time() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore("alpha", cfg, WithClock(clock.time), WithLogger(zaptest.NewLogger(t)))
	return s, clock
}

func TestDecayAndReinforce(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	m := NewMemory("alpha", KindEpisodic, "the bridge collapsed at dawn", clock.now)
	m.DecayRate = 0.5
	id := s.Store(m)

	// two days without reinforcement: 1.0 * exp(-1.0) * 0.5
	clock.advance(48 * time.Hour)
	got := s.Get(id)
	require.NotNil(t, got)
	assert.InDelta(t, math.Exp(-1.0)*0.5, got.CurrentStrength(clock.now), 1e-6)

	before := got.CurrentStrength(clock.now)
	require.True(t, s.Reinforce(id, 0.2))
	after := s.Get(id)
	assert.Greater(t, after.CurrentStrength(clock.now), before, "reinforcement raises current strength")
	assert.InDelta(t, 0.1, after.Consolidation, 1e-9, "reinforcement nudges consolidation")
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	relevant := NewMemory("alpha", KindEpisodic, "bandits ambushed the caravan near the valley pass", clock.now)
	relevant.Entities = []string{"bandits"}
	relevant.Locations = []string{"valley"}
	s.Store(relevant)

	unrelated := NewMemory("alpha", KindSemantic, "the harvest festival is held in autumn", clock.now)
	s.Store(unrelated)

	recalls := s.Retrieve(Query{
		Keywords:  []string{"ambush", "caravan"},
		Entities:  []string{"bandits"},
		Locations: []string{"valley"},
	}, 5)

	require.NotEmpty(t, recalls)
	assert.Equal(t, relevant.ID, recalls[0].Memory.ID)
	for i := 1; i < len(recalls); i++ {
		assert.GreaterOrEqual(t, recalls[i-1].Probability, recalls[i].Probability, "descending order")
	}
}

func TestRetrieveFiltersBelowMinimum(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	weak := NewMemory("alpha", KindEpisodic, "a forgettable afternoon", clock.now)
	weak.Strength = 0.05
	s.Store(weak)

	// let recency fade so the bonus cannot carry it over the floor
	clock.advance(48 * time.Hour)
	recalls := s.Retrieve(Query{Keywords: []string{"nothing", "matches"}}, 5)
	assert.Empty(t, recalls)
}

func TestWorkingMemoryCapacity(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	var ids []string
	for i := 0; i < 10; i++ {
		m := NewMemory("alpha", KindEpisodic, fmt.Sprintf("observation %d", i), clock.now)
		ids = append(ids, s.Store(m))
	}

	wm := s.WorkingMemory()
	require.Len(t, wm, 7, "working memory never exceeds its window")
	assert.Equal(t, ids[9], wm[0].ID, "most recent first")

	// touching an old survivor pulls it to the front
	s.Get(ids[9]) // Get does not touch; Retrieve does
	s.Reinforce(ids[5], 0.1)
	wm = s.WorkingMemory()
	assert.Equal(t, ids[5], wm[0].ID)
	assert.Len(t, wm, 7)
}

func TestConsolidationSweep(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())

	hot := NewMemory("alpha", KindEmotional, "the betrayal at the council", clock.now)
	hot.EmotionalWeight = -0.9
	hot.AccessCount = 8
	hot.Entities = []string{"council", "betrayer"}
	hot.Tags = []string{"betrayal"}
	hot.DecayRate = 0.5
	s.Store(hot)

	cold := NewMemory("alpha", KindEpisodic, "an uneventful watch shift", clock.now)
	cold.Strength = 0.2
	s.Store(cold)

	changed := s.Consolidate()
	assert.Equal(t, 1, changed)

	got := s.Get(hot.ID)
	assert.InDelta(t, 0.3, got.Consolidation, 1e-9)
	assert.InDelta(t, 0.4, got.DecayRate, 1e-9, "decay slowed by 20%")

	// already-settled memories are left alone
	got2 := s.Get(cold.ID)
	assert.Zero(t, got2.Consolidation)
}

func TestCapacityEvictsWeakest(t *testing.T) {
	cfg := Config{Capacity: 5, WorkingMemorySize: 7, ForgettingThreshold: 0.5}
	s, clock := newTestStore(t, cfg)

	for i := 0; i < 5; i++ {
		m := NewMemory("alpha", KindEpisodic, fmt.Sprintf("memory %d", i), clock.now)
		m.Strength = 0.1 + float64(i)*0.1 // 0.1 .. 0.5 raw; current = raw*0.5
		s.Store(m)
	}
	require.Equal(t, 5, s.Len())

	strong := NewMemory("alpha", KindEpisodic, "the dragon's name", clock.now)
	strong.Consolidation = 1.0
	s.Store(strong)

	assert.Equal(t, 5, s.Len(), "weakest below-threshold memory dropped")
	assert.NotNil(t, s.Get(strong.ID), "strong memory survives")
}

func TestForget(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	id := s.Store(NewMemory("alpha", KindEpisodic, "something", clock.now))

	assert.True(t, s.Forget(id, "test"))
	assert.Nil(t, s.Get(id))
	assert.False(t, s.Forget(id, "again"))
	assert.Empty(t, s.WorkingMemory())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	m := NewMemory("alpha", KindSemantic, "the valley road floods in spring", clock.now)
	m.Tags = []string{"terrain"}
	s.Store(m)

	snap := s.Snapshot()
	require.Len(t, snap, 1)

	restored := NewStore("alpha", DefaultConfig(), WithClock(clock.time))
	require.NoError(t, restored.Restore(snap))
	got := restored.Get(m.ID)
	require.NotNil(t, got)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Tags, got.Tags)
	assert.Equal(t, s.Len(), restored.Len())
}
