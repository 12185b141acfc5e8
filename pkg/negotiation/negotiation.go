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

// Package negotiation runs multi-party proposal/response sessions with
// bounded rounds, counter-proposal promotion, and LLM-mediated compromise
// when positions split without counters.
package negotiation

import (
	"time"

	"github.com/teradata-labs/fable/pkg/types"
)

// State is the session lifecycle position.
type State string

const (
	StateInitiated  State = "initiated"
	StateInProgress State = "in_progress"
	StateResolved   State = "resolved"
	StateFailed     State = "failed"
	StateDeadlock   State = "deadlock"
	StateTimeout    State = "timeout"
)

// Terminal reports whether the session has finished in this state.
func (s State) Terminal() bool {
	switch s {
	case StateResolved, StateFailed, StateDeadlock, StateTimeout:
		return true
	default:
		return false
	}
}

// Proposal is one offer on the table. Targets are the participants expected
// to respond; the proposer never responds to its own proposal.
type Proposal struct {
	ID           string    `json:"id"`
	Proposer     string    `json:"proposer"`
	Content      string    `json:"content"`
	Benefits     []string  `json:"benefits,omitempty"`
	Requirements []string  `json:"requirements,omitempty"`
	Targets      []string  `json:"targets"`
	ExpiresAt    time.Time `json:"expires_at"`
	Mediated     bool      `json:"mediated,omitempty"`
}

// Viability scores how promotable a counter-proposal is: 0.5 base, +0.2 when
// it offers benefits, -0.1 per requirement it imposes.
func (p *Proposal) Viability() float64 {
	v := 0.5
	if len(p.Benefits) > 0 {
		v += 0.2
	}
	v -= 0.1 * float64(len(p.Requirements))
	return types.Clamp01(v)
}

func (p *Proposal) clone() *Proposal {
	c := *p
	c.Benefits = append([]string(nil), p.Benefits...)
	c.Requirements = append([]string(nil), p.Requirements...)
	c.Targets = append([]string(nil), p.Targets...)
	return &c
}

// ResponseKind is how a target answers a proposal.
type ResponseKind string

const (
	RespondAccept      ResponseKind = "accept"
	RespondReject      ResponseKind = "reject"
	RespondCounter     ResponseKind = "counter"
	RespondConditional ResponseKind = "conditional"
)

// Valid reports whether k is a defined response kind.
func (k ResponseKind) Valid() bool {
	switch k {
	case RespondAccept, RespondReject, RespondCounter, RespondConditional:
		return true
	default:
		return false
	}
}

// Response is one target's answer to the current proposal. Counter responses
// carry the counter-proposal; conditional responses carry conditions.
type Response struct {
	Responder  string       `json:"responder"`
	Kind       ResponseKind `json:"kind"`
	Counter    *Proposal    `json:"counter,omitempty"`
	Conditions []string     `json:"conditions,omitempty"`
	At         time.Time    `json:"at"`
}

// Session is one negotiation. The engine owns it; callers see copies.
type Session struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Initiator    string    `json:"initiator"`
	Participants []string  `json:"participants"`
	State        State     `json:"state"`
	Round        int       `json:"round"`
	MaxRounds    int       `json:"max_rounds"`
	Deadline     time.Time `json:"deadline"`

	Proposals []*Proposal          `json:"proposals,omitempty"` // latest is current
	Responses map[string]*Response `json:"responses,omitempty"` // to the current proposal

	Outcome   string    `json:"outcome,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// agents are the live states used for reputation moves and mediation
	// prompts; not serialized.
	agents map[string]*types.AgentState
}

// Current returns the proposal currently on the table, or nil.
func (s *Session) Current() *Proposal {
	if len(s.Proposals) == 0 {
		return nil
	}
	return s.Proposals[len(s.Proposals)-1]
}

func (s *Session) clone() *Session {
	c := *s
	c.agents = nil
	c.Participants = append([]string(nil), s.Participants...)
	c.Proposals = make([]*Proposal, 0, len(s.Proposals))
	for _, p := range s.Proposals {
		c.Proposals = append(c.Proposals, p.clone())
	}
	c.Responses = make(map[string]*Response, len(s.Responses))
	for k, v := range s.Responses {
		r := *v
		c.Responses[k] = &r
	}
	return &c
}
