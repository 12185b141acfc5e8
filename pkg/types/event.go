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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a node in the causal graph: one thing that happened in the world.
// Events are immutable after creation; corrections produce a replacement
// event, never an in-place edit.
type Event struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"` // short tag: "attack", "move", "negotiate", "discover", ...
	Actor           string         `json:"actor,omitempty"`
	Participants    []string       `json:"participants,omitempty"`
	Location        string         `json:"location,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Confidence      float64        `json:"confidence"`
	NarrativeWeight float64        `json:"narrative_weight"`
}

// NewEvent builds an event with a fresh id and clamped scores. The actor is
// always included in the participant set.
func NewEvent(kind, actor, location string, ts time.Time) *Event {
	e := &Event{
		ID:              uuid.New().String(),
		Kind:            kind,
		Actor:           actor,
		Location:        location,
		Timestamp:       ts,
		Confidence:      1.0,
		NarrativeWeight: 0.5,
	}
	if actor != "" {
		e.Participants = []string{actor}
	}
	return e
}

// AddParticipant records an agent as involved in the event, deduplicated.
func (e *Event) AddParticipant(agentID string) {
	if agentID == "" {
		return
	}
	for _, p := range e.Participants {
		if p == agentID {
			return
		}
	}
	e.Participants = append(e.Participants, agentID)
}

// HasParticipant reports whether agentID took part in the event.
func (e *Event) HasParticipant(agentID string) bool {
	for _, p := range e.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// PayloadString returns the payload value for key rendered as a string, or
// "" when absent.
func (e *Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PayloadStrings returns the payload value for key as a string list. It
// accepts []string, []any, or a comma-separated string; anything else yields
// nil.
func (e *Event) PayloadStrings(key string) []string {
	if e.Payload == nil {
		return nil
	}
	switch v := e.Payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a deep copy of the event. Used by the coherence checker to
// build correction candidates without touching the original.
func (e *Event) Clone() *Event {
	c := *e
	c.Participants = append([]string(nil), e.Participants...)
	if e.Payload != nil {
		c.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// EventFromMap converts a loosely-typed host record into a canonical Event.
// Hosts feed the simulation from JSON or YAML documents; this is the only
// place map-shaped events are accepted.
func EventFromMap(m map[string]any) (*Event, error) {
	if m == nil {
		return nil, fmt.Errorf("event map is nil")
	}
	e := &Event{
		Confidence:      1.0,
		NarrativeWeight: 0.5,
		Timestamp:       time.Now(),
	}
	if v, ok := m["id"].(string); ok {
		e.ID = v
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	kind, ok := m["kind"].(string)
	if !ok || kind == "" {
		return nil, fmt.Errorf("event map missing kind")
	}
	e.Kind = kind
	if v, ok := m["actor"].(string); ok {
		e.Actor = v
	}
	if v, ok := m["location"].(string); ok {
		e.Location = v
	}
	switch v := m["participants"].(type) {
	case []string:
		e.Participants = append([]string(nil), v...)
	case []any:
		for _, p := range v {
			if s, ok := p.(string); ok {
				e.AddParticipant(s)
			}
		}
	}
	if e.Actor != "" {
		e.AddParticipant(e.Actor)
	}
	switch v := m["timestamp"].(type) {
	case time.Time:
		e.Timestamp = v
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("event timestamp %q: %w", v, err)
		}
		e.Timestamp = ts
	}
	if v, ok := toFloat(m["confidence"]); ok {
		e.Confidence = Clamp01(v)
	}
	if v, ok := toFloat(m["narrative_weight"]); ok {
		e.NarrativeWeight = Clamp01(v)
	}
	if v, ok := m["payload"].(map[string]any); ok {
		e.Payload = v
	}
	return e, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// CausalRelation classifies how a cause event relates to its effect.
type CausalRelation string

const (
	RelationDirectCause   CausalRelation = "direct_cause"
	RelationIndirectCause CausalRelation = "indirect_cause"
	RelationEnabler       CausalRelation = "enabler"
	RelationCatalyst      CausalRelation = "catalyst"
	RelationInhibitor     CausalRelation = "inhibitor"
	RelationAmplifier     CausalRelation = "amplifier"
	RelationContradiction CausalRelation = "contradiction"
)

// Valid reports whether r is one of the defined relation kinds.
func (r CausalRelation) Valid() bool {
	switch r {
	case RelationDirectCause, RelationIndirectCause, RelationEnabler,
		RelationCatalyst, RelationInhibitor, RelationAmplifier,
		RelationContradiction:
		return true
	default:
		return false
	}
}

// CausalEdge is a directed, typed relation from a cause event to an effect
// event. At most one edge exists per (source, target) pair.
type CausalEdge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"` // cause event id
	Target     string         `json:"target"` // effect event id
	Relation   CausalRelation `json:"relation"`
	Strength   float64        `json:"strength"`
	Confidence float64        `json:"confidence"`
	Delay      time.Duration  `json:"delay"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewCausalEdge builds an edge with a fresh id and clamped scores.
func NewCausalEdge(source, target string, relation CausalRelation, strength, confidence float64, delay time.Duration) *CausalEdge {
	if delay < 0 {
		delay = 0
	}
	return &CausalEdge{
		ID:         uuid.New().String(),
		Source:     source,
		Target:     target,
		Relation:   relation,
		Strength:   Clamp01(strength),
		Confidence: Clamp01(confidence),
		Delay:      delay,
		CreatedAt:  time.Now(),
	}
}
