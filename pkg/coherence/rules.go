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

package coherence

import (
	"fmt"
	"time"

	"github.com/teradata-labs/fable/pkg/types"
)

// Violation is one invariant an event breaks.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string { return fmt.Sprintf("%s: %s", v.Rule, v.Message) }

// RuleContext is what a rule sees: the recent event window and the instant
// "now" for temporal checks.
type RuleContext struct {
	Recent []*types.Event
	Now    time.Time
}

// Rule validates one aspect of narrative coherence. Rules are pluggable;
// the checker ships with the three defaults below.
type Rule interface {
	Name() string
	Check(e *types.Event, rctx *RuleContext) []Violation
}

// TemporalRule rejects events timestamped after now.
type TemporalRule struct {
	// Skew tolerates slightly-ahead host clocks.
	Skew time.Duration
}

// Name implements Rule.
func (TemporalRule) Name() string { return "temporal" }

// Check implements Rule.
func (r TemporalRule) Check(e *types.Event, rctx *RuleContext) []Violation {
	if e.Timestamp.After(rctx.Now.Add(r.Skew)) {
		return []Violation{{
			Rule:    r.Name(),
			Message: fmt.Sprintf("event timestamped %s, after now %s", e.Timestamp.Format(time.RFC3339), rctx.Now.Format(time.RFC3339)),
		}}
	}
	return nil
}

// colocationWindow is how close two sightings must be to count as
// simultaneous presence.
const colocationWindow = 60 * time.Second

// CoLocationRule rejects an actor appearing in two places within the
// window, unless a move connects them.
type CoLocationRule struct{}

// Name implements Rule.
func (CoLocationRule) Name() string { return "co_location" }

// Check implements Rule.
func (r CoLocationRule) Check(e *types.Event, rctx *RuleContext) []Violation {
	if e.Actor == "" || e.Location == "" || e.Kind == "move" {
		return nil
	}
	for _, prior := range rctx.Recent {
		if prior.Actor != e.Actor || prior.Location == "" || prior.Location == e.Location {
			continue
		}
		if prior.Kind == "move" {
			continue
		}
		gap := e.Timestamp.Sub(prior.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap <= colocationWindow {
			return []Violation{{
				Rule: r.Name(),
				Message: fmt.Sprintf("actor %s at %q and %q within %s without a move",
					e.Actor, prior.Location, e.Location, colocationWindow),
			}}
		}
	}
	return nil
}

// PreconditionRule checks that each entry of the event's "requires" payload
// list is satisfied by some prior event: by kind, or by a value the prior
// event's "provides" list carries.
type PreconditionRule struct{}

// Name implements Rule.
func (PreconditionRule) Name() string { return "precondition" }

// Check implements Rule.
func (r PreconditionRule) Check(e *types.Event, rctx *RuleContext) []Violation {
	requires := e.PayloadStrings("requires")
	if len(requires) == 0 {
		return nil
	}
	var out []Violation
	for _, req := range requires {
		if !satisfied(req, rctx.Recent) {
			out = append(out, Violation{
				Rule:    r.Name(),
				Message: fmt.Sprintf("requirement %q not met by any prior event in context", req),
			})
		}
	}
	return out
}

func satisfied(req string, recent []*types.Event) bool {
	for _, prior := range recent {
		if prior.Kind == req {
			return true
		}
		for _, p := range prior.PayloadStrings("provides") {
			if p == req {
				return true
			}
		}
	}
	return false
}

// DefaultRules returns the standard rule set.
func DefaultRules() []Rule {
	return []Rule{
		TemporalRule{Skew: 2 * time.Second},
		CoLocationRule{},
		PreconditionRule{},
	}
}
