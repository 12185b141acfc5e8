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

// Package dialogue runs short stateful conversations between two agents.
// A dialogue either goes through the LLM broker (transcript plus outcome
// parsed from the response) or takes the fast path with a canned outcome
// when time or budget is short.
package dialogue

import (
	"time"
)

// CommunicationType selects the flavor of a dialogue and its fast-mode
// templates.
type CommunicationType string

const (
	TypeNegotiation   CommunicationType = "negotiation"
	TypeInformation   CommunicationType = "information_exchange"
	TypeSocial        CommunicationType = "social"
	TypeCoordination  CommunicationType = "coordination"
	TypeConfrontation CommunicationType = "confrontation"
)

// Valid reports whether t is a defined communication type.
func (t CommunicationType) Valid() bool {
	switch t {
	case TypeNegotiation, TypeInformation, TypeSocial, TypeCoordination, TypeConfrontation:
		return true
	default:
		return false
	}
}

// State is the dialogue lifecycle position.
type State string

const (
	StateInitiating      State = "initiating"
	StateActive          State = "active"
	StateWaitingResponse State = "waiting_response"
	StateConcluded       State = "concluded"
	StateInterrupted     State = "interrupted"
	StateFailed          State = "failed"
)

// Terminal reports whether the dialogue has finished in this state.
func (s State) Terminal() bool {
	switch s {
	case StateConcluded, StateInterrupted, StateFailed:
		return true
	default:
		return false
	}
}

// Exchange is one utterance inside a dialogue.
type Exchange struct {
	Speaker string    `json:"speaker"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Dialogue is one conversation between two agents. The manager owns it;
// callers see copies.
type Dialogue struct {
	ID           string            `json:"id"`
	Type         CommunicationType `json:"type"`
	Initiator    string            `json:"initiator"`
	Responder    string            `json:"responder"`
	State        State             `json:"state"`
	Exchanges    []Exchange        `json:"exchanges,omitempty"`
	Outcome      string            `json:"outcome,omitempty"`
	Impact       float64           `json:"impact"` // relationship delta, [-1,1]
	Quality      float64           `json:"quality"`
	FastMode     bool              `json:"fast_mode"`
	StartedAt    time.Time         `json:"started_at"`
	ConcludedAt  time.Time         `json:"concluded_at,omitempty"`
	FailureCause string            `json:"failure_cause,omitempty"`
}

// Participants returns both agent ids, initiator first.
func (d *Dialogue) Participants() [2]string {
	return [2]string{d.Initiator, d.Responder}
}

func (d *Dialogue) clone() *Dialogue {
	c := *d
	c.Exchanges = append([]Exchange(nil), d.Exchanges...)
	return &c
}

// fastTemplates are the canned outcomes the fast path picks from, keyed by
// communication type.
var fastTemplates = map[CommunicationType][]string{
	TypeNegotiation: {
		"The two reach a cautious provisional agreement and part to consider terms.",
		"Terms are exchanged but neither side commits; talks will resume later.",
	},
	TypeInformation: {
		"They trade what each has seen recently and part better informed.",
		"A brief exchange of rumors and observations, nothing decisive.",
	},
	TypeSocial: {
		"A short friendly exchange leaves both slightly more at ease.",
		"Small talk and shared complaints; the mood lightens a little.",
	},
	TypeCoordination: {
		"They quickly agree on who covers what and split up.",
		"A terse sync on next steps; each knows their part.",
	},
	TypeConfrontation: {
		"Sharp words are exchanged; both withdraw before it escalates.",
		"The standoff ends unresolved, tension hanging in the air.",
	},
}

// fastImpact is the relationship delta the fast path applies per type.
var fastImpact = map[CommunicationType]float64{
	TypeNegotiation:   0.02,
	TypeInformation:   0.03,
	TypeSocial:        0.05,
	TypeCoordination:  0.04,
	TypeConfrontation: -0.05,
}

// FastTemplates returns the canned outcomes for a communication type. Tests
// and callers use it to recognize a fast-path outcome.
func FastTemplates(t CommunicationType) []string {
	return append([]string(nil), fastTemplates[t]...)
}
