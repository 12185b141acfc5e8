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
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/types"
)

// Config bounds one agent's store.
type Config struct {
	// Capacity caps retained memories. Default 10000.
	Capacity int
	// WorkingMemorySize is the LRU window. Default 7.
	WorkingMemorySize int
	// ForgettingThreshold: memories weaker than this are eligible for
	// capacity eviction. Default 0.1.
	ForgettingThreshold float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:            10000,
		WorkingMemorySize:   7,
		ForgettingThreshold: 0.1,
	}
}

// Recall is one retrieval result: the memory plus its retrieval probability.
type Recall struct {
	Memory      *Memory
	Probability float64
}

// Store holds one agent's memories. Guarded by a mutex; the owning pipeline
// and the maintenance scheduler are the only callers.
type Store struct {
	cfg     Config
	agentID string
	logger  *zap.Logger
	clock   types.Clock

	mu       sync.Mutex
	memories map[string]*Memory
	working  *workingSet
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock replaces the wall clock so tests can advance decay time.
func WithClock(clock types.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore builds a memory store for one agent.
func NewStore(agentID string, cfg Config, opts ...Option) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.WorkingMemorySize <= 0 {
		cfg.WorkingMemorySize = 7
	}
	if cfg.ForgettingThreshold <= 0 {
		cfg.ForgettingThreshold = 0.1
	}
	s := &Store{
		cfg:      cfg,
		agentID:  agentID,
		logger:   zap.NewNop(),
		clock:    time.Now,
		memories: make(map[string]*Memory),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.working = newWorkingSet(cfg.WorkingMemorySize)
	return s
}

// AgentID returns the owning agent.
func (s *Store) AgentID() string { return s.agentID }

// Store inserts a memory, touching working memory and enforcing capacity.
// Returns the stored id.
func (s *Store) Store(m *Memory) string {
	now := s.clock()
	if m.ID == "" {
		m.ID = NewMemory(s.agentID, m.Kind, m.Content, now).ID
	}
	if m.AgentID == "" {
		m.AgentID = s.agentID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessed.IsZero() {
		m.LastAccessed = now
	}
	if m.LastReinforced.IsZero() {
		m.LastReinforced = now
	}
	m.Strength = types.Clamp01(m.Strength)
	m.EmotionalWeight = types.ClampSigned(m.EmotionalWeight)
	m.Consolidation = types.Clamp01(m.Consolidation)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = m
	s.working.touch(m.ID)
	if len(s.memories) > s.cfg.Capacity {
		s.enforceCapacityLocked(now)
	}
	return m.ID
}

// Get returns a copy of the memory, or nil when unknown.
func (s *Store) Get(id string) *Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil
	}
	return m.clone()
}

// Retrieve returns up to limit memories relevant to the query, strongest
// recall first, each above the minimum probability. Returned memories have
// their access stats bumped.
func (s *Store) Retrieve(q Query, limit int) []Recall {
	minProb := q.MinProbability
	if minProb <= 0 {
		minProb = 0.1
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Recall
	for _, m := range s.memories {
		score := q.relevance(m)
		prob := m.CurrentStrength(now)*score +
			abs(m.EmotionalWeight)*0.2 +
			recencyBonus(m, now)*0.1
		if prob >= minProb {
			out = append(out, Recall{Memory: m, Probability: prob})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Probability > out[j].Probability })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		m := out[i].Memory
		m.LastAccessed = now
		m.AccessCount++
		s.working.touch(m.ID)
		out[i].Memory = m.clone()
	}
	return out
}

// Reinforce strengthens a memory by delta, resets its decay anchor, and
// nudges consolidation up by 0.1. Returns false when the id is unknown.
func (s *Store) Reinforce(id string, delta float64) bool {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return false
	}
	// Decay accrued so far is baked into the base strength before the
	// boost, so reinforcement builds on what actually remains.
	m.Strength = types.Clamp01(m.CurrentStrength(now)/(0.5+0.5*m.Consolidation) + delta)
	m.Consolidation = types.Clamp01(m.Consolidation + 0.1)
	m.LastReinforced = now
	m.LastAccessed = now
	m.AccessCount++
	s.working.touch(id)
	return true
}

// consolidationScore rates how worth keeping a memory is: access frequency,
// emotional charge, remaining strength, association richness, and how
// settled it already is.
func (s *Store) consolidationScore(m *Memory, now time.Time) float64 {
	frequency := types.Clamp01(float64(m.AccessCount) / 10.0)
	emotional := abs(m.EmotionalWeight)
	strength := m.CurrentStrength(now)
	associations := types.Clamp01(float64(len(m.Entities)+len(m.Locations)+len(m.Tags)) / 6.0)
	reliability := m.Strength
	return frequency*0.25 + emotional*0.2 + strength*0.25 + associations*0.15 + reliability*0.15
}

// Consolidate runs one opportunistic consolidation sweep: memories scoring
// above 0.5 that are not yet settled (consolidation < 0.7) get consolidation
// +0.3, decay slowed by 20%, and strength +0.1. Returns how many changed.
func (s *Store) Consolidate() int {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, m := range s.memories {
		if m.Consolidation >= 0.7 {
			continue
		}
		if s.consolidationScore(m, now) <= 0.5 {
			continue
		}
		m.Consolidation = types.Clamp01(m.Consolidation + 0.3)
		m.DecayRate *= 0.8
		m.Strength = types.Clamp01(m.Strength + 0.1)
		changed++
	}
	if changed > 0 {
		s.logger.Debug("memory consolidation sweep",
			zap.String("agent_id", s.agentID),
			zap.Int("consolidated", changed))
	}
	return changed
}

// Forget removes a memory. Returns false when the id is unknown.
func (s *Store) Forget(id, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return false
	}
	delete(s.memories, id)
	s.working.remove(id)
	s.logger.Debug("memory forgotten",
		zap.String("agent_id", s.agentID),
		zap.String("memory_id", id),
		zap.String("reason", reason))
	return true
}

// WorkingMemory returns copies of the working-set memories, most recently
// used first. Never more than the configured window.
func (s *Store) WorkingMemory() []*Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.working.ids()
	out := make([]*Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			out = append(out, m.clone())
		}
	}
	return out
}

// Len returns the stored memory count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories)
}

// enforceCapacityLocked drops the weakest memories below the forgetting
// threshold until the store fits. Caller holds mu.
func (s *Store) enforceCapacityLocked(now time.Time) {
	type weighted struct {
		id       string
		strength float64
	}
	var candidates []weighted
	for id, m := range s.memories {
		if cs := m.CurrentStrength(now); cs < s.cfg.ForgettingThreshold {
			candidates = append(candidates, weighted{id, cs})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].strength < candidates[j].strength })

	dropped := 0
	for _, c := range candidates {
		if len(s.memories) <= s.cfg.Capacity {
			break
		}
		delete(s.memories, c.id)
		s.working.remove(c.id)
		dropped++
	}
	if dropped > 0 {
		s.logger.Debug("memory capacity sweep",
			zap.String("agent_id", s.agentID),
			zap.Int("dropped", dropped),
			zap.Int("remaining", len(s.memories)))
	}
}

// Snapshot returns copies of every memory for serialization.
func (s *Store) Snapshot() []*Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Memory, 0, len(s.memories))
	for _, m := range s.memories {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Restore replaces the store contents from a snapshot.
func (s *Store) Restore(memories []*Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = make(map[string]*Memory, len(memories))
	s.working = newWorkingSet(s.cfg.WorkingMemorySize)
	for _, m := range memories {
		if m.ID == "" {
			return fmt.Errorf("memory without id in snapshot for agent %s", s.agentID)
		}
		s.memories[m.ID] = m.clone()
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
