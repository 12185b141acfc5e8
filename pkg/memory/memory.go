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

// Package memory implements per-agent episodic and semantic memory with
// exponential decay, opportunistic consolidation, associative retrieval, and
// a seven-slot working-memory LRU. A store belongs to exactly one agent and
// is never shared between pipelines.
package memory

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/fable/pkg/types"
)

// Kind classifies what a memory holds.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
	KindEmotional  Kind = "emotional"
	KindWorking    Kind = "working"
)

// Memory is one remembered item. Strength and consolidation live in [0,1];
// emotional weight in [-1,1]; decay rate is per day.
type Memory struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	Kind            Kind      `json:"kind"`
	Content         string    `json:"content"`
	Strength        float64   `json:"strength"`
	EmotionalWeight float64   `json:"emotional_weight"`
	DecayRate       float64   `json:"decay_rate"`
	Consolidation   float64   `json:"consolidation"`
	CreatedAt       time.Time `json:"created_at"`
	LastAccessed    time.Time `json:"last_accessed"`
	LastReinforced  time.Time `json:"last_reinforced"`
	AccessCount     int       `json:"access_count"`
	Entities        []string  `json:"entities,omitempty"`
	Locations       []string  `json:"locations,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
}

// CurrentStrength is the decayed, consolidation-adjusted strength at now.
func (m *Memory) CurrentStrength(now time.Time) float64 {
	days := now.Sub(m.LastReinforced).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return m.Strength * math.Exp(-m.DecayRate*days) * (0.5 + 0.5*m.Consolidation)
}

// clone returns a copy with its own slices, so callers can hold results
// while the store keeps mutating.
func (m *Memory) clone() *Memory {
	c := *m
	c.Entities = append([]string(nil), m.Entities...)
	c.Locations = append([]string(nil), m.Locations...)
	c.Tags = append([]string(nil), m.Tags...)
	return &c
}

// NewMemory builds a memory with a fresh id and full initial strength.
func NewMemory(agentID string, kind Kind, content string, now time.Time) *Memory {
	return &Memory{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		Kind:           kind,
		Content:        content,
		Strength:       1.0,
		DecayRate:      0.1,
		CreatedAt:      now,
		LastAccessed:   now,
		LastReinforced: now,
	}
}

// Query describes what an agent is trying to recall.
type Query struct {
	Keywords  []string
	Entities  []string
	Locations []string
	Context   []string
	// MinProbability filters weak recalls; default 0.1 when zero.
	MinProbability float64
}

// relevance scores how well a memory matches the query, in [0,1].
func (q Query) relevance(m *Memory) float64 {
	keywords := overlap(q.Keywords, contentWords(m))
	entities := overlap(q.Entities, m.Entities)
	locations := overlap(q.Locations, m.Locations)
	context := overlap(q.Context, m.Tags)
	return keywords*0.4 + entities*0.3 + locations*0.2 + context*0.1
}

// overlap is the fraction of want found in have, case-insensitive.
func overlap(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[strings.ToLower(h)] = struct{}{}
	}
	matched := 0
	for _, w := range want {
		if _, ok := set[strings.ToLower(w)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

// contentWords tokenizes the memory content plus tags for keyword matching.
func contentWords(m *Memory) []string {
	words := strings.FieldsFunc(strings.ToLower(m.Content), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return append(words, m.Tags...)
}

// recencyBonus rewards recently accessed memories, fading to zero over a
// day.
func recencyBonus(m *Memory, now time.Time) float64 {
	hours := now.Sub(m.LastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}
	return types.Clamp01(1.0 - hours/24.0)
}
