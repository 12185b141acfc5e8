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

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	now := time.Now()
	e := NewEvent("move", "alpha", "valley", now)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "move", e.Kind)
	assert.Equal(t, "alpha", e.Actor)
	assert.Equal(t, []string{"alpha"}, e.Participants)
	assert.Equal(t, 1.0, e.Confidence)
	assert.Equal(t, 0.5, e.NarrativeWeight)
}

func TestEventParticipants(t *testing.T) {
	e := NewEvent("negotiate", "alice", "", time.Now())
	e.AddParticipant("bob")
	e.AddParticipant("bob") // duplicate ignored
	e.AddParticipant("")    // empty ignored

	assert.Equal(t, []string{"alice", "bob"}, e.Participants)
	assert.True(t, e.HasParticipant("alice"))
	assert.True(t, e.HasParticipant("bob"))
	assert.False(t, e.HasParticipant("carol"))
}

func TestPayloadStrings(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    []string
	}{
		{
			name:    "string slice",
			payload: map[string]any{"requires": []string{"fire_started", "has_key"}},
			want:    []string{"fire_started", "has_key"},
		},
		{
			name:    "any slice",
			payload: map[string]any{"requires": []any{"fire_started", "has_key"}},
			want:    []string{"fire_started", "has_key"},
		},
		{
			name:    "comma separated",
			payload: map[string]any{"requires": "fire_started, has_key"},
			want:    []string{"fire_started", "has_key"},
		},
		{
			name:    "missing key",
			payload: map[string]any{},
			want:    nil,
		},
		{
			name:    "wrong type",
			payload: map[string]any{"requires": 42},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{Payload: tt.payload}
			assert.Equal(t, tt.want, e.PayloadStrings("requires"))
		})
	}
}

func TestEventClone(t *testing.T) {
	e := NewEvent("discover", "alpha", "cave", time.Now())
	e.Payload = map[string]any{"item": "map"}

	c := e.Clone()
	c.Payload["item"] = "sword"
	c.AddParticipant("beta")

	assert.Equal(t, "map", e.Payload["item"])
	assert.Len(t, e.Participants, 1)
}

func TestEventFromMap(t *testing.T) {
	e, err := EventFromMap(map[string]any{
		"kind":             "attack",
		"actor":            "bob",
		"location":         "bridge",
		"participants":     []any{"alice"},
		"confidence":       0.9,
		"narrative_weight": 0.8,
		"payload":          map[string]any{"weapon": "staff"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "attack", e.Kind)
	assert.Equal(t, "bob", e.Actor)
	assert.Equal(t, "bridge", e.Location)
	// actor joins the participant set
	assert.ElementsMatch(t, []string{"alice", "bob"}, e.Participants)
	assert.Equal(t, 0.9, e.Confidence)
	assert.Equal(t, 0.8, e.NarrativeWeight)
	assert.Equal(t, "staff", e.PayloadString("weapon"))
}

func TestEventFromMapErrors(t *testing.T) {
	_, err := EventFromMap(nil)
	assert.Error(t, err)

	_, err = EventFromMap(map[string]any{"actor": "x"})
	assert.Error(t, err, "missing kind must be rejected")

	_, err = EventFromMap(map[string]any{"kind": "move", "timestamp": "not-a-time"})
	assert.Error(t, err)
}

func TestCausalRelationValid(t *testing.T) {
	for _, r := range []CausalRelation{
		RelationDirectCause, RelationIndirectCause, RelationEnabler,
		RelationCatalyst, RelationInhibitor, RelationAmplifier,
		RelationContradiction,
	} {
		assert.True(t, r.Valid(), string(r))
	}
	assert.False(t, CausalRelation("correlation").Valid())
}

func TestNewCausalEdgeClamps(t *testing.T) {
	e := NewCausalEdge("a", "b", RelationDirectCause, 1.7, -0.2, -time.Second)
	assert.Equal(t, 1.0, e.Strength)
	assert.Equal(t, 0.0, e.Confidence)
	assert.Equal(t, time.Duration(0), e.Delay)
	assert.NotEmpty(t, e.ID)
}
