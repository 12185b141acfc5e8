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

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/fable/pkg/coherence"
	"github.com/teradata-labs/fable/pkg/communication"
	"github.com/teradata-labs/fable/pkg/dialogue"
	"github.com/teradata-labs/fable/pkg/negotiation"
	"github.com/teradata-labs/fable/pkg/types"
)

// EnhancedWorldState is the per-turn world view handed to every pipeline.
type EnhancedWorldState struct {
	Turn            int               `json:"turn"`
	Positions       map[string]string `json:"positions"`
	ActiveDialogues []string          `json:"active_dialogues,omitempty"`
	Metrics         map[string]any    `json:"metrics,omitempty"`
	RecentEvents    []*types.Event    `json:"recent_events,omitempty"`
}

// TurnRecord is the structured performance record of one turn.
type TurnRecord struct {
	Turn                int           `json:"turn"`
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"duration"`
	ActiveAgents        int           `json:"active_agents"`
	Decisions           int           `json:"decisions"`
	Fallbacks           int           `json:"fallbacks"`
	EventsAccepted      int           `json:"events_accepted"`
	EventsRejected      int           `json:"events_rejected"`
	Dialogues           int           `json:"dialogues"`
	Negotiations        int           `json:"negotiations"`
	DialogueSuccessRate float64       `json:"dialogue_success_rate"`
	Coordination        float64       `json:"coordination_effectiveness"`
	AvgDialogueQuality  float64       `json:"avg_dialogue_quality"`
	LatencyMeanMs       float64       `json:"latency_mean_ms"`
	LatencyP95Ms        float64       `json:"latency_p95_ms"`
	TurnCostUSD         float64       `json:"turn_cost_usd"`
	Errors              int           `json:"errors"`
}

// TurnResult is everything one turn produced.
type TurnResult struct {
	Turn      int                     `json:"turn"`
	World     *EnhancedWorldState     `json:"world"`
	Decisions []*types.ActionDecision `json:"decisions"`
	Dialogues []*dialogue.Dialogue    `json:"dialogues,omitempty"`
	Errors    map[string]string       `json:"errors,omitempty"` // agent id -> failure
	Record    TurnRecord              `json:"record"`
	Summary   string                  `json:"summary"`
}

// ExecuteTurn runs one full turn: pre-analysis, dialogue opportunities, the
// concurrent base step, post-analysis, and the turn summary. A failing or
// panicking agent is attributed and the turn still completes.
func (r *Runtime) ExecuteTurn(ctx context.Context) (*TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.comps.Meter.StartTurn()
	start := r.clock()

	r.mu.Lock()
	r.turn++
	turn := r.turn
	entries := make([]*agentEntry, 0, len(r.agents))
	for _, id := range r.order {
		entries = append(entries, r.agents[id])
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.TurnTimeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	world := r.buildWorldState(turn, entries)
	active := r.activeEntries(entries)

	dialogues := r.runDialogues(ctx, turn, active, deadline)
	negotiated := r.escalateConflicts(ctx, turn, dialogues, active)

	decisions, errs := r.baseStep(ctx, world, active)
	accepted, rejected, conflicts := r.commitDecisions(ctx, decisions, world.RecentEvents)
	negotiated += r.escalateContradictions(ctx, turn, conflicts)

	if ctx.Err() != nil && r.comps.Dialogues != nil {
		if n := r.comps.Dialogues.InterruptAll("turn budget exhausted"); n > 0 {
			r.logger.Warn("turn deadline interrupted dialogues",
				zap.Int("turn", turn), zap.Int("interrupted", n))
		}
	}

	record := r.postAnalysis(turn, start, active, decisions, dialogues, accepted, rejected, errs)
	record.Negotiations = negotiated
	summary := r.summarize(record, errs)

	r.mu.Lock()
	r.records = append(r.records, record)
	if len(r.records) > r.cfg.PerfHistoryCap {
		r.records = r.records[len(r.records)-r.cfg.PerfHistoryCap:]
	}
	r.mu.Unlock()

	result := &TurnResult{
		Turn:      turn,
		World:     world,
		Decisions: decisions,
		Dialogues: dialogues,
		Errors:    errs,
		Record:    record,
		Summary:   summary,
	}
	r.publishTurn(result)
	if r.progress != nil {
		r.progress(record)
	}
	r.logger.Info("turn completed",
		zap.Int("turn", turn),
		zap.Duration("duration", record.Duration),
		zap.Int("decisions", record.Decisions),
		zap.Int("dialogues", record.Dialogues),
		zap.Int("errors", record.Errors))
	return result, nil
}

// buildWorldState assembles the pre-analysis snapshot every pipeline sees.
func (r *Runtime) buildWorldState(turn int, entries []*agentEntry) *EnhancedWorldState {
	positions := make(map[string]string, len(entries))
	for _, e := range entries {
		positions[e.state.ID] = e.state.GetLocation()
	}
	metrics := map[string]any{
		"turn_cost_usd":  r.comps.Meter.TurnCost(),
		"total_cost_usd": r.comps.Meter.TotalCost(),
		"graph_events":   r.comps.Graph.Len(),
	}
	if r.comps.Broker != nil {
		metrics["broker"] = r.comps.Broker.Snapshot()
	}
	var activeDialogues []string
	if r.comps.Dialogues != nil {
		for _, d := range r.comps.Dialogues.Active() {
			activeDialogues = append(activeDialogues, d.ID)
		}
	}
	return &EnhancedWorldState{
		Turn:            turn,
		Positions:       positions,
		ActiveDialogues: activeDialogues,
		Metrics:         metrics,
		RecentEvents:    r.comps.Graph.RecentEvents(r.cfg.RecentEventWindow),
	}
}

func (r *Runtime) activeEntries(entries []*agentEntry) []*agentEntry {
	out := make([]*agentEntry, 0, len(entries))
	for _, e := range entries {
		if e.state.GetStatus().CanAct() {
			out = append(out, e)
		}
	}
	return out
}

// runDialogues pairs first-available active agents, up to the per-turn cap,
// and runs each dialogue to a terminal state. Fast mode is forced when the
// turn is nearly out of time.
func (r *Runtime) runDialogues(ctx context.Context, turn int, active []*agentEntry, deadline time.Time) []*dialogue.Dialogue {
	if r.comps.Dialogues == nil || len(active) < 2 {
		return nil
	}
	remaining := deadline.Sub(r.clock())
	forceFast := remaining < r.cfg.FastModeThreshold

	// Rotate the pairing start point so the same agents do not always pair
	// up first. A seeded runtime keeps this deterministic.
	offset := 0
	if len(active) > 2 {
		offset = r.rng.Intn(len(active))
	}
	var out []*dialogue.Dialogue
	for i := 0; i+1 < len(active) && len(out) < r.cfg.MaxDialoguesPerTurn; i += 2 {
		a := active[(offset+i)%len(active)]
		b := active[(offset+i+1)%len(active)]
		commType := r.pickCommunicationType(a.state, b.state)
		d, err := r.comps.Dialogues.Open(commType, a.state.ID, b.state.ID)
		if err != nil {
			r.logger.Debug("dialogue opportunity skipped",
				zap.Int("turn", turn),
				zap.String("initiator", a.state.ID),
				zap.String("responder", b.state.ID),
				zap.Error(err))
			continue
		}
		done, err := r.comps.Dialogues.Run(ctx, d.ID, &dialogue.RunContext{
			Initiator: a.state,
			Responder: b.state,
			Scene:     fmt.Sprintf("Turn %d at %s.", turn, a.state.GetLocation()),
			Remaining: deadline.Sub(r.clock()),
			ForceFast: forceFast,
		})
		if err != nil {
			r.logger.Warn("dialogue failed",
				zap.Int("turn", turn),
				zap.String("dialogue_id", d.ID),
				zap.Error(err))
		}
		if done != nil {
			out = append(out, done)
			r.publishDialogue(done)
		}
	}
	return out
}

// escalateConflicts opens a negotiation session for each conflict dialogue
// that did not settle things: an interrupted or failed confrontation, or one
// that concluded with the relationship still getting worse. The initiator
// tables an opening proposal from the dialogue outcome; the responder answers
// from their side of the relationship. Sessions that stay open are swept by
// the negotiation engine's expiry.
func (r *Runtime) escalateConflicts(ctx context.Context, turn int, dialogues []*dialogue.Dialogue, active []*agentEntry) int {
	if r.comps.Negotiations == nil {
		return 0
	}
	states := make(map[string]*types.AgentState, len(active))
	for _, e := range active {
		states[e.state.ID] = e.state
	}

	opened := 0
	for _, d := range dialogues {
		if d.Type != dialogue.TypeConfrontation && d.Type != dialogue.TypeNegotiation {
			continue
		}
		if d.State == dialogue.StateConcluded && d.Impact >= 0 {
			continue // the pair worked it out in conversation
		}
		a, b := states[d.Initiator], states[d.Responder]
		if a == nil || b == nil {
			continue
		}

		topic := "conflict_resolution_" + string(d.Type)
		s, err := r.comps.Negotiations.Open(topic, d.Initiator,
			[]string{d.Initiator, d.Responder},
			map[string]*types.AgentState{d.Initiator: a, d.Responder: b})
		if err != nil {
			r.logger.Debug("negotiation not opened",
				zap.Int("turn", turn),
				zap.String("initiator", d.Initiator),
				zap.Error(err))
			continue
		}
		opened++

		content := d.Outcome
		if content == "" {
			content = fmt.Sprintf("settle the %s between %s and %s",
				strings.ReplaceAll(string(d.Type), "_", " "), d.Initiator, d.Responder)
		}
		if _, err := r.comps.Negotiations.Propose(s.ID, &negotiation.Proposal{
			Proposer: d.Initiator,
			Content:  content,
			Benefits: []string{"end the standoff"},
		}); err != nil {
			r.logger.Debug("opening proposal rejected",
				zap.String("session_id", s.ID), zap.Error(err))
			continue
		}

		kind := negotiation.RespondReject
		if b.Relationship(d.Initiator) >= -0.2 {
			kind = negotiation.RespondAccept
		}
		final, err := r.comps.Negotiations.Respond(ctx, s.ID, &negotiation.Response{
			Responder: d.Responder,
			Kind:      kind,
		})
		if err != nil {
			r.logger.Debug("negotiation response failed",
				zap.String("session_id", s.ID), zap.Error(err))
		}
		if final != nil {
			r.publishNegotiation(final)
		}
	}
	return opened
}

// disputeTopics names the negotiation topic for a contradicting event kind.
var disputeTopics = map[string]string{
	"claim_territory": "territorial_dispute",
	"claim":           "territorial_dispute",
	"seize":           "territorial_dispute",
}

func disputeTopic(kind string) string {
	if t, ok := disputeTopics[kind]; ok {
		return "conflict_resolution_" + t
	}
	return "conflict_resolution_" + kind
}

// escalateContradictions opens a negotiation for each contradiction edge the
// turn's committed events produced: the later claimant challenges the
// earlier one over the disputed action. One session per pair per turn; each
// contradiction is also announced on the conflicts topic.
func (r *Runtime) escalateContradictions(ctx context.Context, turn int, conflicts []*types.CausalEdge) int {
	opened := 0
	seen := make(map[string]bool)
	for _, edge := range conflicts {
		cause := r.comps.Graph.Event(edge.Source)
		effect := r.comps.Graph.Event(edge.Target)
		if cause == nil || effect == nil ||
			cause.Actor == "" || effect.Actor == "" || cause.Actor == effect.Actor {
			continue
		}
		holderID, challengerID := cause.Actor, effect.Actor
		key := holderID + "|" + challengerID
		if challengerID < holderID {
			key = challengerID + "|" + holderID
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		r.publishConflict(edge, cause, effect)

		if r.comps.Negotiations == nil {
			continue
		}
		r.mu.Lock()
		var holder, challenger *types.AgentState
		if e, ok := r.agents[holderID]; ok {
			holder = e.state
		}
		if e, ok := r.agents[challengerID]; ok {
			challenger = e.state
		}
		r.mu.Unlock()
		if holder == nil || challenger == nil {
			continue
		}

		s, err := r.comps.Negotiations.Open(disputeTopic(effect.Kind), challengerID,
			[]string{holderID},
			map[string]*types.AgentState{holderID: holder, challengerID: challenger})
		if err != nil {
			r.logger.Debug("conflict negotiation not opened",
				zap.Int("turn", turn),
				zap.String("initiator", challengerID),
				zap.Error(err))
			continue
		}
		opened++
		r.logger.Info("contradiction escalated to negotiation",
			zap.Int("turn", turn),
			zap.String("topic", s.Topic),
			zap.String("holder", holderID),
			zap.String("challenger", challengerID),
			zap.String("location", effect.Location))

		if _, err := r.comps.Negotiations.Propose(s.ID, &negotiation.Proposal{
			Proposer: challengerID,
			Content: fmt.Sprintf("resolve the rival %s at %s",
				strings.ReplaceAll(effect.Kind, "_", " "), effect.Location),
			Requirements: []string{fmt.Sprintf("%s yields the claim", holderID)},
		}); err != nil {
			r.logger.Debug("opening proposal rejected",
				zap.String("session_id", s.ID), zap.Error(err))
			continue
		}

		kind := negotiation.RespondReject
		if holder.Relationship(challengerID) >= -0.2 {
			kind = negotiation.RespondAccept
		}
		final, err := r.comps.Negotiations.Respond(ctx, s.ID, &negotiation.Response{
			Responder: holderID,
			Kind:      kind,
		})
		if err != nil {
			r.logger.Debug("negotiation response failed",
				zap.String("session_id", s.ID), zap.Error(err))
		}
		if final != nil {
			r.publishNegotiation(final)
		}
	}
	return opened
}

// pickCommunicationType chooses the dialogue flavor from the pair's mutual
// relationship.
func (r *Runtime) pickCommunicationType(a, b *types.AgentState) dialogue.CommunicationType {
	rel := (a.Relationship(b.ID) + b.Relationship(a.ID)) / 2
	switch {
	case rel < -0.3:
		return dialogue.TypeConfrontation
	case rel < 0:
		return dialogue.TypeNegotiation
	case rel > 0.4:
		return dialogue.TypeSocial
	case a.Character.Faction != "" && a.Character.Faction == b.Character.Faction:
		return dialogue.TypeCoordination
	default:
		return dialogue.TypeInformation
	}
}

// baseStep runs every active agent's pipeline on its own goroutine. Panics
// are recovered and attributed; the step always reports partial results.
func (r *Runtime) baseStep(ctx context.Context, world *EnhancedWorldState, active []*agentEntry) ([]*types.ActionDecision, map[string]string) {
	ws := &types.WorldState{
		Turn:         world.Turn,
		RecentEvents: world.RecentEvents,
	}

	var mu sync.Mutex
	decisions := make([]*types.ActionDecision, 0, len(active))
	errs := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range active {
		entry := entry
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("agent pipeline panicked",
						zap.String("agent_id", entry.state.ID),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()))
					mu.Lock()
					errs[entry.state.ID] = fmt.Sprintf("panic: %v", rec)
					mu.Unlock()
				}
			}()
			agentWorld := *ws
			agentWorld.Location = entry.state.GetLocation()
			d, err := entry.pipeline.Decide(gctx, &agentWorld, entry.state)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[entry.state.ID] = err.Error()
				return nil // a single agent's failure never aborts the turn
			}
			decisions = append(decisions, d)
			return nil
		})
	}
	_ = g.Wait()

	// Deterministic order for downstream consumers.
	ordered := make([]*types.ActionDecision, 0, len(decisions))
	for _, entry := range active {
		for _, d := range decisions {
			if d.AgentID == entry.state.ID {
				ordered = append(ordered, d)
				break
			}
		}
	}
	return ordered, errs
}

// commitDecisions turns decisions into world events, validates them through
// the coherence checker, appends survivors to the causal graph, and
// publishes them. Contradiction edges inferred during the append are
// returned for conflict escalation.
func (r *Runtime) commitDecisions(ctx context.Context, decisions []*types.ActionDecision, recent []*types.Event) (accepted, rejected int, conflicts []*types.CausalEdge) {
	now := r.clock()
	for i, d := range decisions {
		e := types.NewEvent(d.ActionType, d.AgentID, d.Location, now.Add(time.Duration(i)*time.Millisecond))
		if d.Target != "" {
			e.AddParticipant(d.Target)
			if e.Payload == nil {
				e.Payload = map[string]any{}
			}
			e.Payload["target"] = d.Target
		}
		e.NarrativeWeight = types.Clamp01(0.4 + d.Score*0.1)
		if d.Fallback {
			e.NarrativeWeight = 0.1
		}

		final := e
		if r.comps.Checker != nil {
			validated, err := r.comps.Checker.Validate(ctx, e, recent)
			if err != nil {
				rejected++
				var rej *coherence.RejectionError
				if errors.As(err, &rej) {
					r.logger.Warn("action rejected by coherence checker",
						zap.String("agent_id", d.AgentID),
						zap.String("action", d.ActionType),
						zap.String("reason", rej.Error()))
				} else {
					r.logger.Warn("coherence validation errored",
						zap.String("agent_id", d.AgentID), zap.Error(err))
				}
				continue
			}
			final = validated
		}

		inferred, err := r.comps.Graph.AddEvent(final)
		if err != nil {
			r.logger.Warn("event not recorded in causal graph",
				zap.String("event_id", final.ID), zap.Error(err))
			rejected++
			continue
		}
		accepted++
		for _, edge := range inferred {
			if edge.Relation == types.RelationContradiction {
				conflicts = append(conflicts, edge)
			}
		}
		r.publishEvent(final, d)
	}
	return accepted, rejected, conflicts
}

// postAnalysis computes the turn's structured performance record.
func (r *Runtime) postAnalysis(turn int, start time.Time, active []*agentEntry, decisions []*types.ActionDecision, dialogues []*dialogue.Dialogue, accepted, rejected int, errs map[string]string) TurnRecord {
	record := TurnRecord{
		Turn:           turn,
		StartedAt:      start,
		Duration:       r.clock().Sub(start),
		ActiveAgents:   len(active),
		Decisions:      len(decisions),
		EventsAccepted: accepted,
		EventsRejected: rejected,
		Dialogues:      len(dialogues),
		TurnCostUSD:    r.comps.Meter.TurnCost(),
		Errors:         len(errs),
	}
	for _, d := range decisions {
		if d.Fallback {
			record.Fallbacks++
		}
	}

	var successes int
	var qualities []float64
	for _, d := range dialogues {
		if d.State == dialogue.StateConcluded {
			successes++
			qualities = append(qualities, d.Quality)
		}
	}
	if len(dialogues) > 0 {
		record.DialogueSuccessRate = float64(successes) / float64(len(dialogues))
	}
	record.Coordination = float64(successes) / float64(max(1, len(active)))
	if len(qualities) > 0 {
		if mean, err := stats.Mean(qualities); err == nil {
			record.AvgDialogueQuality = mean
		}
	}

	var latencies []float64
	for _, d := range decisions {
		latencies = append(latencies, float64(d.Elapsed.Microseconds())/1000.0)
	}
	if len(latencies) > 0 {
		if mean, err := stats.Mean(latencies); err == nil {
			record.LatencyMeanMs = mean
		}
		if p95, err := stats.Percentile(latencies, 95); err == nil {
			record.LatencyP95Ms = p95
		}
	}
	return record
}

// summarize renders the human-readable turn summary.
func (r *Runtime) summarize(record TurnRecord, errs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "turn %d: %d/%d agents decided (%d fallbacks), %d events accepted, %d rejected",
		record.Turn, record.Decisions, record.ActiveAgents, record.Fallbacks,
		record.EventsAccepted, record.EventsRejected)
	if record.Dialogues > 0 {
		fmt.Fprintf(&b, "; %d dialogues (%.0f%% success, avg quality %.2f)",
			record.Dialogues, record.DialogueSuccessRate*100, record.AvgDialogueQuality)
	}
	if record.Negotiations > 0 {
		fmt.Fprintf(&b, "; %d negotiations opened", record.Negotiations)
	}
	fmt.Fprintf(&b, "; cost $%.4f in %s", record.TurnCostUSD, record.Duration.Round(time.Millisecond))
	if len(errs) > 0 {
		ids := make([]string, 0, len(errs))
		for id := range errs {
			ids = append(ids, id)
		}
		fmt.Fprintf(&b, "; failed agents: %s", strings.Join(ids, ", "))
	}
	return b.String()
}

func (r *Runtime) publishEvent(e *types.Event, d *types.ActionDecision) {
	if r.comps.Bus == nil {
		return
	}
	if err := r.comps.Bus.PublishEvent(communication.TopicEvents, e); err != nil {
		r.logger.Debug("event publish failed", zap.Error(err))
	}
	_, _, err := r.comps.Bus.Publish(communication.TopicActions, &communication.Message{
		Source: d.AgentID,
		Payload: map[string]any{
			"action":   d.ActionType,
			"target":   d.Target,
			"score":    d.Score,
			"fallback": d.Fallback,
		},
	})
	if err != nil {
		r.logger.Debug("action publish failed", zap.Error(err))
	}
}

func (r *Runtime) publishDialogue(d *dialogue.Dialogue) {
	if r.comps.Bus == nil {
		return
	}
	_, _, err := r.comps.Bus.Publish(communication.TopicDialogues, &communication.Message{
		Source: d.Initiator,
		Payload: map[string]any{
			"dialogue_id": d.ID,
			"type":        string(d.Type),
			"state":       string(d.State),
			"outcome":     d.Outcome,
			"quality":     d.Quality,
			"fast_mode":   d.FastMode,
		},
	})
	if err != nil {
		r.logger.Debug("dialogue publish failed", zap.Error(err))
	}
}

func (r *Runtime) publishNegotiation(s *negotiation.Session) {
	if r.comps.Bus == nil {
		return
	}
	_, _, err := r.comps.Bus.Publish(communication.TopicNegotiations, &communication.Message{
		Source: s.Initiator,
		Payload: map[string]any{
			"session_id":   s.ID,
			"topic":        s.Topic,
			"state":        string(s.State),
			"participants": s.Participants,
			"rounds":       s.Round,
			"outcome":      s.Outcome,
		},
	})
	if err != nil {
		r.logger.Debug("negotiation publish failed", zap.Error(err))
	}
}

func (r *Runtime) publishConflict(edge *types.CausalEdge, cause, effect *types.Event) {
	if r.comps.Bus == nil {
		return
	}
	_, _, err := r.comps.Bus.Publish(communication.TopicConflicts, &communication.Message{
		Source: effect.Actor,
		Payload: map[string]any{
			"edge_id":  edge.ID,
			"kind":     effect.Kind,
			"location": effect.Location,
			"holder":   cause.Actor,
			"rival":    effect.Actor,
			"strength": edge.Strength,
		},
	})
	if err != nil {
		r.logger.Debug("conflict publish failed", zap.Error(err))
	}
}

func (r *Runtime) publishTurn(result *TurnResult) {
	if r.comps.Bus == nil {
		return
	}
	_, _, err := r.comps.Bus.Publish(communication.TopicTurns, &communication.Message{
		Payload: map[string]any{
			"turn":    result.Turn,
			"summary": result.Summary,
			"record":  result.Record,
		},
	})
	if err != nil {
		r.logger.Debug("turn publish failed", zap.Error(err))
	}
}
