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

package agent

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/broker"
	"github.com/teradata-labs/fable/pkg/causal"
	"github.com/teradata-labs/fable/pkg/memory"
	"github.com/teradata-labs/fable/pkg/types"
)

// ActionWait is the safe fallback action.
const ActionWait = "wait"

// pressureWindow is the remaining-deadline span over which time pressure
// ramps from 0 to 1.
const pressureWindow = 5 * time.Second

// Config tunes a decision pipeline.
type Config struct {
	// LLMInterpretation lets the pipeline ask the broker to interpret the
	// most severe direct threat. Best-effort: failures are logged and the
	// heuristic interpretation stands.
	LLMInterpretation bool
	// InterpretationMaxTokens caps one interpretation completion.
	InterpretationMaxTokens int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		LLMInterpretation:       true,
		InterpretationMaxTokens: 200,
	}
}

// Pipeline is one agent's decision pipeline. It owns the agent's memory
// store; graph and broker are shared with the rest of the runtime.
type Pipeline struct {
	cfg      Config
	agentID  string
	graph    *causal.Graph
	memories *memory.Store
	broker   *broker.Broker
	logger   *zap.Logger
	clock    types.Clock
	rng      *rand.Rand
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithPipelineClock replaces the wall clock.
func WithPipelineClock(clock types.Clock) PipelineOption {
	return func(p *Pipeline) { p.clock = clock }
}

// WithPipelineSeed makes tie-breaking deterministic.
func WithPipelineSeed(seed int64) PipelineOption {
	return func(p *Pipeline) { p.rng = rand.New(rand.NewSource(seed)) }
}

// NewPipeline builds a pipeline for one agent. Graph, memories, and broker
// may each be nil; the corresponding stages degrade gracefully.
func NewPipeline(cfg Config, agentID string, graph *causal.Graph, memories *memory.Store, br *broker.Broker, opts ...PipelineOption) *Pipeline {
	if cfg.InterpretationMaxTokens <= 0 {
		cfg.InterpretationMaxTokens = 200
	}
	p := &Pipeline{
		cfg:      cfg,
		agentID:  agentID,
		graph:    graph,
		memories: memories,
		broker:   br,
		logger:   zap.NewNop(),
		clock:    time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Memories exposes the agent's memory store for maintenance sweeps.
func (p *Pipeline) Memories() *memory.Store { return p.memories }

// Decide runs the whole pipeline for one turn and returns the chosen action.
// It never returns an error for a degraded stage; only a cancelled context
// aborts it.
func (p *Pipeline) Decide(ctx context.Context, world *types.WorldState, state *types.AgentState) (*types.ActionDecision, error) {
	start := p.clock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if world == nil {
		return nil, fmt.Errorf("nil world state")
	}

	if !state.GetStatus().CanAct() {
		return p.fallback(state, start, fmt.Sprintf("status %s cannot act", state.GetStatus())), nil
	}

	bias := PickBias(state.Character, state.GetStress())
	interps := interpretEvents(world.RecentEvents, p.graph, state, bias, start)
	p.rememberSignificant(interps, start)
	recalled := p.recall(world)
	if p.cfg.LLMInterpretation {
		p.llmInterpret(ctx, state, interps)
	}

	threat := assessThreat(state, interps, bias)

	goals := state.ActiveGoals()
	var topGoal string
	if len(goals) > 0 {
		topGoal = goals[0].Name
	}

	actions := world.AvailableActions
	if len(actions) == 0 {
		actions = DefaultActions
	}
	pressure := p.timePressure(ctx)
	candidates := scoreActions(actions, state.Character, threat, pressure)
	pick := p.selectAction(candidates)

	decision := &types.ActionDecision{
		AgentID:    state.ID,
		ActionType: pick.Action,
		Score:      pick.Score,
		Location:   state.GetLocation(),
		Target:     p.pickTarget(pick.Action, state, interps),
		DecidedAt:  start,
		Params: map[string]any{
			"bias":         string(bias),
			"threat":       threat.String(),
			"recalled":     recalled,
			"candidates":   len(candidates),
			"time_pressed": pressure > 0,
		},
	}
	decision.Reason = p.reason(bias, threat, topGoal, pick)

	if issue := p.validateDecision(decision, interps); issue != "" {
		p.logger.Debug("decision failed validation, falling back",
			zap.String("agent_id", state.ID),
			zap.String("action", decision.ActionType),
			zap.String("issue", issue))
		decision = p.fallback(state, start, issue)
	}
	decision.Elapsed = p.clock().Sub(start)
	return decision, nil
}

// rememberSignificant writes direct or heavy events into episodic memory.
func (p *Pipeline) rememberSignificant(interps []Interpretation, now time.Time) {
	if p.memories == nil {
		return
	}
	for _, it := range interps {
		if !it.DirectHit && it.Event.NarrativeWeight <= 0.6 {
			continue
		}
		m := memory.NewMemory(p.agentID, memory.KindEpisodic,
			fmt.Sprintf("%s by %s at %s", it.Event.Kind, it.Event.Actor, it.Event.Location), now)
		m.EmotionalWeight = it.Sentiment
		m.Entities = append([]string(nil), it.Event.Participants...)
		if it.Event.Location != "" {
			m.Locations = []string{it.Event.Location}
		}
		m.Tags = []string{it.Event.Kind}
		p.memories.Store(m)
	}
}

// recall pulls memories relevant to the current scene; the count feeds the
// decision record.
func (p *Pipeline) recall(world *types.WorldState) int {
	if p.memories == nil {
		return 0
	}
	q := memory.Query{}
	if world.Location != "" {
		q.Locations = []string{world.Location}
	}
	for _, e := range world.RecentEvents {
		if e.Actor != "" {
			q.Entities = append(q.Entities, e.Actor)
		}
		q.Context = append(q.Context, e.Kind)
	}
	if len(q.Entities) == 0 && len(q.Locations) == 0 && len(q.Context) == 0 {
		return 0
	}
	return len(p.memories.Retrieve(q, 5))
}

// llmInterpret asks the broker to read the worst direct threat. Best-effort.
func (p *Pipeline) llmInterpret(ctx context.Context, state *types.AgentState, interps []Interpretation) {
	if p.broker == nil {
		return
	}
	var worst *Interpretation
	for i := range interps {
		it := &interps[i]
		if !it.DirectHit || it.Sentiment > -0.6 {
			continue
		}
		if worst == nil || it.Sentiment < worst.Sentiment {
			worst = it
		}
	}
	if worst == nil {
		return
	}
	prompt := ContextBlock(state) +
		fmt.Sprintf("\nInterpret this event from the character's point of view in one sentence:\n%s by %s at %s\n",
			worst.Event.Kind, worst.Event.Actor, worst.Event.Location)
	resp, err := p.broker.Submit(ctx, &types.LLMRequest{
		Kind:      "interpretation",
		Prompt:    prompt,
		Priority:  types.PriorityLow,
		MaxTokens: p.cfg.InterpretationMaxTokens,
	})
	if err != nil {
		p.logger.Debug("llm interpretation unavailable",
			zap.String("agent_id", p.agentID),
			zap.Error(err))
		return
	}
	if p.memories != nil && resp.Content != "" {
		m := memory.NewMemory(p.agentID, memory.KindSemantic, resp.Content, p.clock())
		m.EmotionalWeight = worst.Sentiment
		m.Tags = []string{"interpretation", worst.Event.Kind}
		p.memories.Store(m)
	}
}

// timePressure ramps from 0 to 1 as the context deadline closes in.
func (p *Pipeline) timePressure(ctx context.Context) float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	remaining := deadline.Sub(p.clock())
	if remaining >= pressureWindow {
		return 0
	}
	if remaining <= 0 {
		return 1
	}
	return 1 - float64(remaining)/float64(pressureWindow)
}

// pickTarget chooses whom the action is aimed at, when it needs an aim.
func (p *Pipeline) pickTarget(action string, state *types.AgentState, interps []Interpretation) string {
	switch action {
	case "attack", "defend":
		var target string
		worst := 0.0
		for _, it := range interps {
			if it.Event.Actor == "" || it.Event.Actor == state.ID {
				continue
			}
			if it.Sentiment < worst {
				worst = it.Sentiment
				target = it.Event.Actor
			}
		}
		return target
	case "negotiate", "socialize":
		var target string
		best := -2.0
		for _, it := range interps {
			actor := it.Event.Actor
			if actor == "" || actor == state.ID {
				continue
			}
			if rel := state.Relationship(actor); rel > best {
				best = rel
				target = actor
			}
		}
		return target
	default:
		return ""
	}
}

func (p *Pipeline) reason(bias Bias, threat types.ThreatLevel, topGoal string, pick Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s read of the situation, threat %s", bias, threat)
	if topGoal != "" {
		fmt.Fprintf(&b, ", pursuing %q", topGoal)
	}
	fmt.Fprintf(&b, "; %s scored %.3f", pick.Action, pick.Score)
	return b.String()
}

// validateDecision runs stage six. A non-empty return is a critical issue
// that forces the wait fallback.
func (p *Pipeline) validateDecision(d *types.ActionDecision, interps []Interpretation) string {
	switch d.ActionType {
	case "attack":
		if d.Target == "" {
			return "attack with no identifiable target"
		}
		hostile := false
		for _, it := range interps {
			if it.Event.Actor == d.Target && it.Sentiment <= hostileSentimentFloor {
				hostile = true
				break
			}
		}
		if !hostile {
			return fmt.Sprintf("attack on %s without hostile provocation", d.Target)
		}
	case "negotiate", "socialize":
		if d.Target == "" {
			return d.ActionType + " with nobody present"
		}
	}
	return ""
}

// fallback is the safe wait decision.
func (p *Pipeline) fallback(state *types.AgentState, start time.Time, reason string) *types.ActionDecision {
	return &types.ActionDecision{
		AgentID:    state.ID,
		ActionType: ActionWait,
		Reason:     reason,
		Fallback:   true,
		Location:   state.GetLocation(),
		DecidedAt:  start,
		Elapsed:    p.clock().Sub(start),
	}
}
