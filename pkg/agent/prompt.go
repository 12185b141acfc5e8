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
	"fmt"
	"strings"

	"github.com/teradata-labs/fable/pkg/types"
)

// traitSalience is the deviation from neutral 0.5 past which a personality
// trait earns a line in the prompt.
const traitSalience = 0.2

// maxPromptGoals caps how many goals the context block lists.
const maxPromptGoals = 3

// ContextBlock renders the character context every LLM prompt carries:
// identity, faction, salient traits, current state, and the top goals.
func ContextBlock(state *types.AgentState) string {
	snap := state.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "## Character: %s", snap.Character.Name)
	if snap.Character.Faction != "" {
		fmt.Fprintf(&b, " (faction: %s)", snap.Character.Faction)
	}
	b.WriteString("\n")
	if snap.Character.Description != "" {
		fmt.Fprintf(&b, "Identity: %s\n", snap.Character.Description)
	}

	if salient := snap.Character.SalientTraits(traitSalience); len(salient) > 0 {
		parts := make([]string, 0, len(salient))
		for _, name := range salient {
			parts = append(parts, fmt.Sprintf("%s=%.2f", name, snap.Character.Trait(name)))
		}
		fmt.Fprintf(&b, "Traits: %s\n", strings.Join(parts, ", "))
	}

	fmt.Fprintf(&b, "State: status=%s health=%s morale=%+.2f stress=%.2f",
		snap.Status, snap.Health, snap.Morale, snap.Stress)
	if snap.Location != "" {
		fmt.Fprintf(&b, " location=%s", snap.Location)
	}
	b.WriteString("\n")

	goals := state.ActiveGoals()
	if len(goals) > maxPromptGoals {
		goals = goals[:maxPromptGoals]
	}
	if len(goals) > 0 {
		b.WriteString("Goals:\n")
		for _, g := range goals {
			fmt.Fprintf(&b, "- %s (priority %.2f)\n", g.Name, g.Priority())
		}
	}
	return b.String()
}
