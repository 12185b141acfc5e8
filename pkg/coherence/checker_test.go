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

package coherence

import (
	"context"
	"errors"
	"fmt"
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

var checkerBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) types.Clock {
	return func() time.Time { return t }
}

func eventAt(kind, actor, location string, ts time.Time) *types.Event {
	e := types.NewEvent(kind, actor, location, ts)
	return e
}

func correctionBroker(t *testing.T, respond mock.ResponderFunc) *broker.Broker {
	t.Helper()
	provider := mock.New(mock.WithResponder(respond))
	meter := budget.NewMeter(budget.Config{MaxCostPerTurn: 1, MaxTotalCost: 10, MaxRequestsPerHour: 1000})
	meter.StartTurn()
	br := broker.New(broker.DefaultConfig(), provider, cache.New(cache.Config{Capacity: 64}), meter,
		broker.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(br.Close)
	return br
}

func TestCleanEventAccepted(t *testing.T) {
	c := New(DefaultConfig(), nil, WithClock(fixedClock(checkerBase)))

	e := eventAt("discover", "mira", "cavern", checkerBase.Add(-time.Minute))
	e.NarrativeWeight = 0.8
	got, err := c.Validate(context.Background(), e, nil)
	require.NoError(t, err)
	assert.Same(t, e, got)

	arc := c.Arc("mira")
	require.NotNil(t, arc)
	assert.Equal(t, []string{e.ID}, arc.EventIDs)
	assert.Equal(t, "introduction", arc.Stage)
}

func TestTemporalViolationRejected(t *testing.T) {
	c := New(Config{}, nil, WithClock(fixedClock(checkerBase)))

	e := eventAt("attack", "rook", "gate", checkerBase.Add(time.Hour))
	_, err := c.Validate(context.Background(), e, nil)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, e.ID, rej.EventID)
	assert.False(t, rej.Corrected)
	require.Len(t, rej.Violations, 1)
	assert.Equal(t, "temporal", rej.Violations[0].Rule)
	assert.Equal(t, int64(1), c.Snapshot().Rejections)
}

func TestCoLocationViolation(t *testing.T) {
	c := New(Config{}, nil, WithClock(fixedClock(checkerBase)))

	recent := []*types.Event{
		eventAt("observe", "rook", "gate", checkerBase.Add(-30*time.Second)),
	}
	e := eventAt("observe", "rook", "tower", checkerBase.Add(-10*time.Second))
	_, err := c.Validate(context.Background(), e, recent)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "co_location", rej.Violations[0].Rule)
}

func TestMoveExemptFromCoLocation(t *testing.T) {
	c := New(Config{}, nil, WithClock(fixedClock(checkerBase)))

	recent := []*types.Event{
		eventAt("observe", "rook", "gate", checkerBase.Add(-30*time.Second)),
	}
	e := eventAt("move", "rook", "tower", checkerBase.Add(-10*time.Second))
	_, err := c.Validate(context.Background(), e, recent)
	assert.NoError(t, err)
}

func TestPreconditionSatisfiedByProvides(t *testing.T) {
	c := New(Config{}, nil, WithClock(fixedClock(checkerBase)))

	forge := eventAt("craft", "smith", "forge", checkerBase.Add(-2*time.Minute))
	forge.Payload = map[string]any{"provides": []string{"iron_key"}}

	e := eventAt("unlock", "smith", "forge", checkerBase.Add(-time.Minute))
	e.Payload = map[string]any{"requires": []string{"iron_key"}}
	_, err := c.Validate(context.Background(), e, []*types.Event{forge})
	assert.NoError(t, err)

	missing := eventAt("unlock", "smith", "forge", checkerBase.Add(-time.Minute))
	missing.Payload = map[string]any{"requires": []string{"gold_key"}}
	_, err = c.Validate(context.Background(), missing, []*types.Event{forge})
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "precondition", rej.Violations[0].Rule)
}

func TestCorrectionAccepted(t *testing.T) {
	br := correctionBroker(t, func(req *types.LLMRequest) (string, error) {
		require.Equal(t, "coherence_correction", req.Kind)
		return "```json\n{\"kind\": \"unlock\", \"location\": \"forge\", \"payload\": {\"requires\": [\"hammer\"]}}\n```", nil
	})
	c := New(DefaultConfig(), br,
		WithClock(fixedClock(checkerBase)),
		WithLogger(zaptest.NewLogger(t)))

	recent := []*types.Event{
		eventAt("hammer", "smith", "forge", checkerBase.Add(-2*time.Minute)),
	}
	e := eventAt("unlock", "smith", "forge", checkerBase.Add(-time.Minute))
	e.NarrativeWeight = 0.9
	e.Payload = map[string]any{"requires": []string{"gold_key"}}

	got, err := c.Validate(context.Background(), e, recent)
	require.NoError(t, err)
	assert.NotSame(t, e, got)
	assert.Equal(t, "smith", got.Actor)
	assert.Equal(t, e.Timestamp, got.Timestamp)
	assert.Equal(t, []string{"hammer"}, got.PayloadStrings("requires"))
	assert.Equal(t, int64(1), c.Snapshot().Corrections)
}

func TestCorrectionStillFailingRejects(t *testing.T) {
	br := correctionBroker(t, func(req *types.LLMRequest) (string, error) {
		// Echo an equally broken requirement back.
		return `{"kind": "unlock", "location": "forge", "payload": {"requires": ["gold_key"]}}`, nil
	})
	c := New(DefaultConfig(), br, WithClock(fixedClock(checkerBase)))

	e := eventAt("unlock", "smith", "forge", checkerBase.Add(-time.Minute))
	e.Payload = map[string]any{"requires": []string{"gold_key"}}

	_, err := c.Validate(context.Background(), e, nil)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.True(t, rej.Corrected)
}

func TestCorrectionProviderFailureRejects(t *testing.T) {
	br := correctionBroker(t, func(req *types.LLMRequest) (string, error) {
		return "", errors.New("provider down")
	})
	c := New(DefaultConfig(), br, WithClock(fixedClock(checkerBase)))

	e := eventAt("attack", "rook", "gate", checkerBase.Add(time.Hour))
	_, err := c.Validate(context.Background(), e, nil)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.True(t, rej.Corrected)
}

func TestArcStageProgression(t *testing.T) {
	c := New(Config{}, nil, WithClock(fixedClock(checkerBase)))

	var last *CharacterArc
	for i := 0; i < 12; i++ {
		e := eventAt("discover", "mira", "cavern", checkerBase.Add(time.Duration(i-20)*time.Minute))
		e.NarrativeWeight = 0.8
		_, err := c.Validate(context.Background(), e, nil)
		require.NoError(t, err)
		last = c.Arc("mira")
	}
	require.NotNil(t, last)
	assert.Len(t, last.EventIDs, 12)
	assert.Equal(t, "complication", last.Stage)
}

func TestLowWeightEventSkipsArc(t *testing.T) {
	c := New(Config{}, nil, WithClock(fixedClock(checkerBase)))

	e := eventAt("observe", "mira", "cavern", checkerBase.Add(-time.Minute))
	e.NarrativeWeight = 0.3
	_, err := c.Validate(context.Background(), e, nil)
	require.NoError(t, err)
	assert.Nil(t, c.Arc("mira"))
	assert.Empty(t, c.Threads())
}

func TestThreadGroupingAndGrowth(t *testing.T) {
	c := New(Config{}, nil, WithClock(fixedClock(checkerBase)))

	opener := eventAt("claim", "alice", "valley", checkerBase.Add(-10*time.Minute))
	opener.NarrativeWeight = 0.9
	_, err := c.Validate(context.Background(), opener, nil)
	require.NoError(t, err)

	// Same location, low weight: absorbed into the existing thread.
	followup := eventAt("patrol", "bob", "valley", checkerBase.Add(-8*time.Minute))
	followup.NarrativeWeight = 0.2
	_, err = c.Validate(context.Background(), followup, nil)
	require.NoError(t, err)

	// Unrelated and heavy: opens a second thread.
	elsewhere := eventAt("ritual", "sage", "temple", checkerBase.Add(-6*time.Minute))
	elsewhere.NarrativeWeight = 0.8
	_, err = c.Validate(context.Background(), elsewhere, nil)
	require.NoError(t, err)

	threads := c.Threads()
	require.Len(t, threads, 2)
	var valley *PlotThread
	for _, th := range threads {
		if th.Locations["valley"] {
			valley = th
		}
	}
	require.NotNil(t, valley)
	assert.Len(t, valley.EventIDs, 2)
	assert.True(t, valley.Actors["alice"])
	assert.True(t, valley.Actors["bob"])
	assert.True(t, valley.Kinds["patrol"])
}

func TestNarrativeSnapshotRoundTrip(t *testing.T) {
	c := New(Config{}, nil, WithClock(fixedClock(checkerBase)))
	for i := 0; i < 3; i++ {
		e := eventAt(fmt.Sprintf("act_%d", i), "mira", "cavern", checkerBase.Add(time.Duration(i-10)*time.Minute))
		e.NarrativeWeight = 0.9
		_, err := c.Validate(context.Background(), e, nil)
		require.NoError(t, err)
	}

	snap := c.SnapshotNarrative()
	require.Len(t, snap.Arcs, 1)
	require.Len(t, snap.Threads, 1)

	restored := New(Config{}, nil, WithClock(fixedClock(checkerBase)))
	restored.RestoreNarrative(snap)
	arc := restored.Arc("mira")
	require.NotNil(t, arc)
	assert.Equal(t, snap.Arcs[0].EventIDs, arc.EventIDs)
	assert.Len(t, restored.Threads(), 1)
}
