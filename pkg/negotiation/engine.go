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

package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/teradata-labs/fable/pkg/agent"
	"github.com/teradata-labs/fable/pkg/broker"
	"github.com/teradata-labs/fable/pkg/types"
)

// Reputation deltas applied when a session reaches a terminal state.
const (
	reputationOnResolve = 0.10
	reputationOnFailure = -0.05
)

// Config bounds the negotiation engine.
type Config struct {
	// MaxRounds caps proposal rounds per session.
	MaxRounds int
	// SessionTimeout bounds a whole session.
	SessionTimeout time.Duration
	// ProposalTimeout is the default expiry of a proposal; mediated
	// proposals get half of it.
	ProposalTimeout time.Duration
	// HistoryCap caps retained terminal sessions.
	HistoryCap int
	// MediationMaxTokens caps one compromise completion.
	MediationMaxTokens int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:          5,
		SessionTimeout:     5 * time.Minute,
		ProposalTimeout:    time.Minute,
		HistoryCap:         100,
		MediationMaxTokens: 400,
	}
}

// Stats is a read-only snapshot of engine counters.
type Stats struct {
	Active     int   `json:"active"`
	Resolved   int64 `json:"resolved"`
	Failed     int64 `json:"failed"`
	Deadlocked int64 `json:"deadlocked"`
	TimedOut   int64 `json:"timed_out"`
	Mediations int64 `json:"mediations"`
	HistoryLen int   `json:"history_len"`
}

// Engine owns negotiation sessions. Safe for concurrent use.
type Engine struct {
	cfg    Config
	broker *broker.Broker
	logger *zap.Logger
	clock  types.Clock

	mu       sync.Mutex
	sessions map[string]*Session
	history  []*Session

	resolved   int64
	failed     int64
	deadlocked int64
	timedOut   int64
	mediations int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces the wall clock for timeout tests.
func WithClock(clock types.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine builds a negotiation engine. The broker may be nil, which
// disables mediation: a mixed round without counters deadlocks directly.
func NewEngine(cfg Config, br *broker.Broker, opts ...Option) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 5
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 100
	}
	e := &Engine{
		cfg:      cfg,
		broker:   br,
		logger:   zap.NewNop(),
		clock:    time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open starts a session between the initiator and at least one other
// participant. The agents map supplies live states for reputation moves and
// mediation prompts; missing entries are tolerated.
func (e *Engine) Open(topic, initiator string, participants []string, agents map[string]*types.AgentState) (*Session, error) {
	if initiator == "" {
		return nil, fmt.Errorf("negotiation needs an initiator")
	}
	all := map[string]bool{initiator: true}
	for _, p := range participants {
		if p != "" {
			all[p] = true
		}
	}
	if len(all) < 2 {
		return nil, fmt.Errorf("negotiation needs at least two participants")
	}
	ordered := make([]string, 0, len(all))
	ordered = append(ordered, initiator)
	for _, p := range participants {
		if p != "" && p != initiator {
			ordered = append(ordered, p)
		}
	}

	now := e.clock()
	s := &Session{
		ID:           uuid.New().String(),
		Topic:        topic,
		Initiator:    initiator,
		Participants: ordered,
		State:        StateInitiated,
		MaxRounds:    e.cfg.MaxRounds,
		Deadline:     now.Add(e.cfg.SessionTimeout),
		Responses:    make(map[string]*Response),
		StartedAt:    now,
		agents:       agents,
	}
	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()
	return s.clone(), nil
}

// Propose puts a proposal on the table. The first proposal moves the session
// to in_progress; later ones replace the current proposal and reset the
// response set.
func (e *Engine) Propose(sessionID string, p *Proposal) (*Session, error) {
	if p == nil || p.Proposer == "" {
		return nil, fmt.Errorf("proposal needs a proposer")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no active negotiation %s", sessionID)
	}
	if e.expireLocked(s) {
		return s.clone(), fmt.Errorf("negotiation %s timed out", sessionID)
	}
	if !s.hasParticipant(p.Proposer) {
		return nil, fmt.Errorf("%s is not a participant of negotiation %s", p.Proposer, sessionID)
	}
	if err := e.tableLocked(s, p); err != nil {
		return nil, err
	}
	return s.clone(), nil
}

// tableLocked installs p as the current proposal and advances the round.
func (e *Engine) tableLocked(s *Session, p *Proposal) error {
	if s.Round >= s.MaxRounds {
		e.finishLocked(s, StateDeadlock, fmt.Sprintf("round cap %d reached", s.MaxRounds))
		return fmt.Errorf("negotiation %s deadlocked at round cap %d", s.ID, s.MaxRounds)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if len(p.Targets) == 0 {
		for _, id := range s.Participants {
			if id != p.Proposer {
				p.Targets = append(p.Targets, id)
			}
		}
	}
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = e.clock().Add(e.cfg.ProposalTimeout)
	}
	s.Proposals = append(s.Proposals, p)
	s.Responses = make(map[string]*Response)
	s.Round++
	s.State = StateInProgress
	return nil
}

// Respond records one target's answer. When every target of the current
// proposal has answered, the round resolves: unanimous accept resolves the
// session, counters promote, dominated rejects fail, and a mixed round goes
// to mediation.
func (e *Engine) Respond(ctx context.Context, sessionID string, r *Response) (*Session, error) {
	if r == nil || !r.Kind.Valid() {
		return nil, fmt.Errorf("invalid response")
	}
	if r.Kind == RespondCounter && r.Counter == nil {
		return nil, fmt.Errorf("counter response needs a counter-proposal")
	}

	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("no active negotiation %s", sessionID)
	}
	if e.expireLocked(s) {
		e.mu.Unlock()
		return s.clone(), fmt.Errorf("negotiation %s timed out", sessionID)
	}
	cur := s.Current()
	if cur == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("negotiation %s has no proposal on the table", sessionID)
	}
	if !cur.targets(r.Responder) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s is not a target of the current proposal", r.Responder)
	}
	if r.At.IsZero() {
		r.At = e.clock()
	}
	s.Responses[r.Responder] = r

	if len(s.Responses) < len(cur.Targets) {
		out := s.clone()
		e.mu.Unlock()
		return out, nil
	}

	needMediation := e.resolveRoundLocked(s)
	out := s.clone()
	e.mu.Unlock()

	if !needMediation {
		return out, nil
	}
	return e.mediate(ctx, sessionID)
}

// resolveRoundLocked applies the round outcome. It returns true when the
// round needs mediation, which must run without the lock.
func (e *Engine) resolveRoundLocked(s *Session) bool {
	var accepts, rejects int
	var counters []*Proposal
	for _, r := range s.Responses {
		switch r.Kind {
		case RespondAccept:
			accepts++
		case RespondReject:
			rejects++
		case RespondCounter:
			counters = append(counters, r.Counter)
		}
	}
	total := len(s.Responses)

	switch {
	case accepts == total:
		e.finishLocked(s, StateResolved, "unanimous accept")
		return false
	case len(counters) > 0:
		best := counters[0]
		for _, c := range counters[1:] {
			if c.Viability() > best.Viability() {
				best = c
			}
		}
		if err := e.tableLocked(s, best); err != nil {
			return false // deadlocked at the round cap
		}
		e.logger.Debug("counter-proposal promoted",
			zap.String("session_id", s.ID),
			zap.String("proposer", best.Proposer),
			zap.Float64("viability", best.Viability()))
		return false
	case rejects > accepts:
		e.finishLocked(s, StateFailed, "rejects dominate without counters")
		return false
	default:
		// Mixed accepts and conditionals: seek a compromise.
		return true
	}
}

// mediate asks the broker for a compromise proposal and tables it with a
// shortened expiry. Mediation failure deadlocks the session.
func (e *Engine) mediate(ctx context.Context, sessionID string) (*Session, error) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("no active negotiation %s", sessionID)
	}
	prompt := e.mediationPromptLocked(s)
	e.mu.Unlock()

	var proposal *Proposal
	if e.broker != nil {
		if p, err := e.requestCompromise(ctx, prompt); err == nil {
			proposal = p
		} else {
			e.logger.Debug("mediation request failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok = e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no active negotiation %s", sessionID)
	}
	if proposal == nil {
		e.finishLocked(s, StateDeadlock, "mediation failed")
		return s.clone(), nil
	}
	e.mediations++
	proposal.Mediated = true
	proposal.ExpiresAt = e.clock().Add(e.cfg.ProposalTimeout / 2)
	if err := e.tableLocked(s, proposal); err != nil {
		return s.clone(), nil
	}
	return s.clone(), nil
}

// mediationPromptLocked renders the compromise prompt from the participants'
// characters and the proposal history.
var topicTitler = cases.Title(language.English)

// topicTitle renders a snake_case topic id ("territorial_dispute") as prose
// for prompts ("Territorial Dispute").
func topicTitle(topic string) string {
	return topicTitler.String(strings.ReplaceAll(topic, "_", " "))
}

func (e *Engine) mediationPromptLocked(s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mediate a negotiation about %q between these characters:\n\n", topicTitle(s.Topic))
	for _, id := range s.Participants {
		if st, ok := s.agents[id]; ok && st != nil {
			b.WriteString(agent.ContextBlock(st))
			b.WriteString("\n")
		} else {
			fmt.Fprintf(&b, "## Character: %s\n\n", id)
		}
	}
	b.WriteString("Proposals so far:\n")
	for i, p := range s.Proposals {
		fmt.Fprintf(&b, "%d. %s proposed: %s", i+1, p.Proposer, p.Content)
		if len(p.Benefits) > 0 {
			fmt.Fprintf(&b, " (offers: %s)", strings.Join(p.Benefits, ", "))
		}
		if len(p.Requirements) > 0 {
			fmt.Fprintf(&b, " (requires: %s)", strings.Join(p.Requirements, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nPropose a compromise both sides could accept. Respond with only a JSON object:\n")
	b.WriteString(`{"content": "...", "benefits": ["..."], "requirements": ["..."]}` + "\n")
	return b.String()
}

// compromiseEnvelope is the JSON shape the mediation prompt asks for.
type compromiseEnvelope struct {
	Content      string   `json:"content"`
	Benefits     []string `json:"benefits"`
	Requirements []string `json:"requirements"`
}

func (e *Engine) requestCompromise(ctx context.Context, prompt string) (*Proposal, error) {
	resp, err := e.broker.Submit(ctx, &types.LLMRequest{
		Kind:           "negotiation_mediation",
		Prompt:         prompt,
		Priority:       types.PriorityNormal,
		MaxTokens:      e.cfg.MediationMaxTokens,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, err
	}
	var env compromiseEnvelope
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &env); err != nil {
		return nil, fmt.Errorf("compromise not parseable: %w", err)
	}
	if env.Content == "" {
		return nil, fmt.Errorf("compromise carried no content")
	}
	return &Proposal{
		Proposer:     "mediator",
		Content:      env.Content,
		Benefits:     env.Benefits,
		Requirements: env.Requirements,
	}, nil
}

// extractJSON strips markdown fences around a JSON body.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}

// finishLocked moves a session to a terminal state, applies reputation
// deltas, and retires it to the bounded history.
func (e *Engine) finishLocked(s *Session, state State, outcome string) {
	s.State = state
	s.Outcome = outcome
	s.EndedAt = e.clock()

	var delta float64
	switch state {
	case StateResolved:
		e.resolved++
		delta = reputationOnResolve
	case StateFailed:
		e.failed++
		delta = reputationOnFailure
	case StateDeadlock:
		e.deadlocked++
	case StateTimeout:
		e.timedOut++
	}
	if delta != 0 {
		for _, id := range s.Participants {
			if st, ok := s.agents[id]; ok && st != nil {
				st.AdjustReputation(delta)
			}
		}
	}

	delete(e.sessions, s.ID)
	e.history = append(e.history, s)
	if len(e.history) > e.cfg.HistoryCap {
		e.history = e.history[len(e.history)-e.cfg.HistoryCap:]
	}
	e.logger.Debug("negotiation finished",
		zap.String("session_id", s.ID),
		zap.String("state", string(state)),
		zap.Int("rounds", s.Round),
		zap.String("outcome", outcome))
}

// expireLocked times the session out when its deadline passed. Returns true
// when it did.
func (e *Engine) expireLocked(s *Session) bool {
	if e.clock().After(s.Deadline) {
		e.finishLocked(s, StateTimeout, "session deadline passed")
		return true
	}
	return false
}

// ExpireSessions times out every session past its deadline. Returns how many
// expired. Called periodically by the maintenance scheduler.
func (e *Engine) ExpireSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var expired []*Session
	for _, s := range e.sessions {
		if e.clock().After(s.Deadline) {
			expired = append(expired, s)
		}
	}
	for _, s := range expired {
		e.finishLocked(s, StateTimeout, "session deadline passed")
	}
	return len(expired)
}

func (s *Session) hasParticipant(id string) bool {
	for _, p := range s.Participants {
		if p == id {
			return true
		}
	}
	return false
}

func (p *Proposal) targets(id string) bool {
	for _, t := range p.Targets {
		if t == id {
			return true
		}
	}
	return false
}

// Get returns a copy of a session by id, active or historical.
func (e *Engine) Get(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[id]; ok {
		return s.clone(), true
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			return e.history[i].clone(), true
		}
	}
	return nil, false
}

// Active returns copies of every open session.
func (e *Engine) Active() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.clone())
	}
	return out
}

// History returns copies of retained terminal sessions, oldest first.
func (e *Engine) History() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.history))
	for _, s := range e.history {
		out = append(out, s.clone())
	}
	return out
}

// Snapshot returns a copy of the engine counters.
func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Active:     len(e.sessions),
		Resolved:   e.resolved,
		Failed:     e.failed,
		Deadlocked: e.deadlocked,
		TimedOut:   e.timedOut,
		Mediations: e.mediations,
		HistoryLen: len(e.history),
	}
}
