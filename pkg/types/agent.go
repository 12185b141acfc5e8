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
	"sort"
	"sync"
	"time"
)

// AgentStatus describes what an agent is currently doing or suffering.
type AgentStatus string

const (
	StatusActive        AgentStatus = "active"
	StatusInjured       AgentStatus = "injured"
	StatusUnconscious   AgentStatus = "unconscious"
	StatusDead          AgentStatus = "dead"
	StatusResting       AgentStatus = "resting"
	StatusStunned       AgentStatus = "stunned"
	StatusIncapacitated AgentStatus = "incapacitated"
	StatusFleeing       AgentStatus = "fleeing"
	StatusHiding        AgentStatus = "hiding"
)

// CanAct reports whether an agent in this status can run a decision pipeline.
func (s AgentStatus) CanAct() bool {
	switch s {
	case StatusDead, StatusUnconscious, StatusIncapacitated:
		return false
	default:
		return true
	}
}

// HealthState is the physical condition of an agent, coarser than status.
type HealthState string

const (
	HealthHealthy    HealthState = "healthy"
	HealthInjured    HealthState = "injured"
	HealthCritical   HealthState = "critical"
	HealthDead       HealthState = "dead"
	HealthRecovering HealthState = "recovering"
)

// ThreatLevel grades how dangerous the current situation looks to an agent.
type ThreatLevel int

const (
	ThreatNegligible ThreatLevel = iota
	ThreatLow
	ThreatModerate
	ThreatHigh
	ThreatCritical
)

// String returns the lowercase threat name.
func (t ThreatLevel) String() string {
	switch t {
	case ThreatNegligible:
		return "negligible"
	case ThreatLow:
		return "low"
	case ThreatModerate:
		return "moderate"
	case ThreatHigh:
		return "high"
	case ThreatCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Escalate raises the threat by one level, saturating at critical.
func (t ThreatLevel) Escalate() ThreatLevel {
	if t >= ThreatCritical {
		return ThreatCritical
	}
	return t + 1
}

// Deescalate lowers the threat by one level, saturating at negligible.
func (t ThreatLevel) Deescalate() ThreatLevel {
	if t <= ThreatNegligible {
		return ThreatNegligible
	}
	return t - 1
}

// Modifier maps the threat level onto the action-score multiplier, 1.0 at
// negligible up to 2.0 at critical.
func (t ThreatLevel) Modifier() float64 {
	return 1.0 + 0.25*float64(t)
}

// CharacterData is the host-supplied character sheet: who the agent is,
// independent of anything that happens during the simulation.
type CharacterData struct {
	Name        string `json:"name" yaml:"name"`
	Faction     string `json:"faction,omitempty" yaml:"faction,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Personality traits in [0,1], 0.5 neutral: "aggression", "curiosity",
	// "caution", "loyalty", "empathy", ...
	Personality map[string]float64 `json:"personality,omitempty" yaml:"personality,omitempty"`
	// DecisionWeights in [-1,1] keyed by decision criterion name.
	DecisionWeights map[string]float64 `json:"decision_weights,omitempty" yaml:"decision_weights,omitempty"`
}

// Trait returns the named personality trait, defaulting to neutral 0.5.
func (c CharacterData) Trait(name string) float64 {
	if v, ok := c.Personality[name]; ok {
		return Clamp01(v)
	}
	return 0.5
}

// SalientTraits returns trait names whose value deviates from neutral by more
// than threshold, sorted for stable prompt output.
func (c CharacterData) SalientTraits(threshold float64) []string {
	var out []string
	for name, v := range c.Personality {
		if v > 0.5+threshold || v < 0.5-threshold {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Goal is one objective an agent pursues. Factor fields live in [0,1].
type Goal struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Urgency     float64   `json:"urgency"`
	Importance  float64   `json:"importance"`
	Feasibility float64   `json:"feasibility"`
	Alignment   float64   `json:"alignment"`
	Opportunity float64   `json:"opportunity"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Priority combines the goal factors into a single ordering score.
func (g Goal) Priority() float64 {
	return g.Urgency*0.3 + g.Importance*0.25 + g.Feasibility*0.2 +
		g.Alignment*0.15 + g.Opportunity*0.1
}

// StateTransition records one status change on an agent.
type StateTransition struct {
	From   AgentStatus `json:"from"`
	To     AgentStatus `json:"to"`
	Reason string      `json:"reason,omitempty"`
	At     time.Time   `json:"at"`
}

// maxTransitionHistory bounds the per-agent transition ring.
const maxTransitionHistory = 100

// AgentState is the mutable runtime state of one agent. It is owned by
// exactly one decision pipeline; other components read it through the guarded
// accessors. All numeric mutators clamp to their documented ranges.
type AgentState struct {
	mu sync.RWMutex

	ID            string             `json:"id"`
	Character     CharacterData      `json:"character"`
	Location      string             `json:"location,omitempty"`
	Status        AgentStatus        `json:"status"`
	Health        HealthState        `json:"health"`
	Morale        float64            `json:"morale"`     // [-1,1]
	Stress        float64            `json:"stress"`     // [0,1]
	Reputation    float64            `json:"reputation"` // [0,1]
	Goals         []Goal             `json:"goals,omitempty"`
	Relationships map[string]float64 `json:"relationships,omitempty"` // agent id -> [-1,1]
	Beliefs       map[string]float64 `json:"beliefs,omitempty"`       // statement -> [-1,1]
	Transitions   []StateTransition  `json:"transitions,omitempty"`
}

// NewAgentState builds an active, healthy agent from its character sheet.
func NewAgentState(id string, character CharacterData) *AgentState {
	return &AgentState{
		ID:            id,
		Character:     character,
		Status:        StatusActive,
		Health:        HealthHealthy,
		Reputation:    0.5,
		Relationships: make(map[string]float64),
		Beliefs:       make(map[string]float64),
	}
}

// GetLocation returns the agent's current location.
func (a *AgentState) GetLocation() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Location
}

// SetLocation moves the agent.
func (a *AgentState) SetLocation(loc string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Location = loc
}

// GetStatus returns the agent's current status.
func (a *AgentState) GetStatus() AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Status
}

// SetStatus transitions the agent to a new status and records it in the
// bounded transition ring.
func (a *AgentState) SetStatus(to AgentStatus, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Status == to {
		return
	}
	a.Transitions = append(a.Transitions, StateTransition{
		From:   a.Status,
		To:     to,
		Reason: reason,
		At:     time.Now(),
	})
	if len(a.Transitions) > maxTransitionHistory {
		a.Transitions = a.Transitions[len(a.Transitions)-maxTransitionHistory:]
	}
	a.Status = to
}

// GetMorale returns current morale.
func (a *AgentState) GetMorale() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Morale
}

// AdjustMorale shifts morale by delta, clamped to [-1,1].
func (a *AgentState) AdjustMorale(delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Morale = ClampSigned(a.Morale + delta)
}

// GetStress returns current stress.
func (a *AgentState) GetStress() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Stress
}

// AdjustStress shifts stress by delta, clamped to [0,1].
func (a *AgentState) AdjustStress(delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Stress = Clamp01(a.Stress + delta)
}

// GetReputation returns the agent's reputation in [0,1].
func (a *AgentState) GetReputation() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Reputation
}

// AdjustReputation shifts reputation by delta, clamped to [0,1].
func (a *AgentState) AdjustReputation(delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Reputation = Clamp01(a.Reputation + delta)
}

// Relationship returns the score toward another agent, 0 when unknown.
func (a *AgentState) Relationship(other string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Relationships[other]
}

// AdjustRelationship shifts the relationship score toward another agent by
// delta, clamped to [-1,1].
func (a *AgentState) AdjustRelationship(other string, delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Relationships == nil {
		a.Relationships = make(map[string]float64)
	}
	a.Relationships[other] = ClampSigned(a.Relationships[other] + delta)
}

// SetBelief records a belief score in [-1,1].
func (a *AgentState) SetBelief(statement string, score float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Beliefs == nil {
		a.Beliefs = make(map[string]float64)
	}
	a.Beliefs[statement] = ClampSigned(score)
}

// AddGoal appends a goal to the agent's active set.
func (a *AgentState) AddGoal(g Goal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	g.Active = true
	a.Goals = append(a.Goals, g)
}

// ActiveGoals returns the active goals ordered by descending priority.
func (a *AgentState) ActiveGoals() []Goal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Goal, 0, len(a.Goals))
	for _, g := range a.Goals {
		if g.Active {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})
	return out
}

// CompleteGoal deactivates the named goal. Returns false when unknown.
func (a *AgentState) CompleteGoal(goalID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.Goals {
		if a.Goals[i].ID == goalID && a.Goals[i].Active {
			a.Goals[i].Active = false
			return true
		}
	}
	return false
}

// RecentTransitions returns a copy of the transition ring, oldest first.
func (a *AgentState) RecentTransitions() []StateTransition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]StateTransition(nil), a.Transitions...)
}

// Snapshot returns a deep copy safe to serialize while the agent keeps
// running.
func (a *AgentState) Snapshot() *AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := &AgentState{
		ID:         a.ID,
		Character:  a.Character,
		Location:   a.Location,
		Status:     a.Status,
		Health:     a.Health,
		Morale:     a.Morale,
		Stress:     a.Stress,
		Reputation: a.Reputation,
	}
	cp.Goals = append([]Goal(nil), a.Goals...)
	cp.Transitions = append([]StateTransition(nil), a.Transitions...)
	cp.Relationships = make(map[string]float64, len(a.Relationships))
	for k, v := range a.Relationships {
		cp.Relationships[k] = v
	}
	cp.Beliefs = make(map[string]float64, len(a.Beliefs))
	for k, v := range a.Beliefs {
		cp.Beliefs[k] = v
	}
	cp.Character.Personality = copyFloatMap(a.Character.Personality)
	cp.Character.DecisionWeights = copyFloatMap(a.Character.DecisionWeights)
	return cp
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ActionDecision is the outcome of one agent's decision pipeline for one
// turn.
type ActionDecision struct {
	AgentID    string         `json:"agent_id"`
	ActionType string         `json:"action_type"`
	Target     string         `json:"target,omitempty"`
	Location   string         `json:"location,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Score      float64        `json:"score"`
	Fallback   bool           `json:"fallback,omitempty"` // true when validation substituted "wait"
	Params     map[string]any `json:"params,omitempty"`
	DecidedAt  time.Time      `json:"decided_at"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// WorldState is the host-supplied view of the world for one turn.
type WorldState struct {
	Turn             int            `json:"turn"`
	Location         string         `json:"location,omitempty"`
	RecentEvents     []*Event       `json:"recent_events,omitempty"`
	AvailableActions []string       `json:"available_actions,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
}
