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
	"fmt"

	"github.com/teradata-labs/fable/pkg/memory"
	"github.com/teradata-labs/fable/pkg/storage"
	"github.com/teradata-labs/fable/pkg/types"
)

// memoryHolder is satisfied by deciders that own a memory store, such as
// agent.Pipeline.
type memoryHolder interface {
	Memories() *memory.Store
}

// Snapshot captures the full simulation state for persistence. Call between
// turns, not while ExecuteTurn is running.
func (r *Runtime) Snapshot(label string) *storage.SimulationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &storage.SimulationSnapshot{
		Label:   label,
		Turn:    r.turn,
		TakenAt: r.clock(),
		Graph:   r.comps.Graph.Snapshot(),
		Budget:  r.comps.Meter.Snapshot(),
	}
	for _, id := range r.order {
		entry := r.agents[id]
		snap.Agents = append(snap.Agents, entry.state.Snapshot())
		if h, ok := entry.pipeline.(memoryHolder); ok && h.Memories() != nil {
			if snap.Memories == nil {
				snap.Memories = make(map[string][]*memory.Memory)
			}
			snap.Memories[id] = h.Memories().Snapshot()
		}
	}
	if r.comps.Checker != nil {
		snap.Narrative = r.comps.Checker.SnapshotNarrative()
	}
	return snap
}

// RestoreSnapshot rebuilds the runtime's state from a snapshot. Every agent
// in the snapshot must already be registered with its pipeline; the host
// wires pipelines, the snapshot restores state.
func (r *Runtime) RestoreSnapshot(snap *storage.SimulationSnapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, state := range snap.Agents {
		if _, ok := r.agents[state.ID]; !ok {
			return fmt.Errorf("snapshot agent %s is not registered", state.ID)
		}
	}
	if err := r.comps.Graph.Restore(snap.Graph); err != nil {
		return fmt.Errorf("restore causal graph: %w", err)
	}

	r.turn = snap.Turn
	for _, state := range snap.Agents {
		entry := r.agents[state.ID]
		entry.state = restoredState(state)
		if h, ok := entry.pipeline.(memoryHolder); ok && h.Memories() != nil {
			if err := h.Memories().Restore(snap.Memories[state.ID]); err != nil {
				return fmt.Errorf("restore memories for %s: %w", state.ID, err)
			}
		}
	}
	r.comps.Meter.Restore(snap.Budget)
	if r.comps.Checker != nil {
		r.comps.Checker.RestoreNarrative(snap.Narrative)
	}
	return nil
}

// restoredState re-clones a deserialized agent state so the runtime never
// aliases the snapshot document.
func restoredState(s *types.AgentState) *types.AgentState {
	return s.Snapshot()
}
