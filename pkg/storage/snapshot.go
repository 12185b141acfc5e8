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

// Package storage persists full simulation snapshots. A snapshot is one JSON
// document, zstd-compressed, written through a pluggable backend (SQLite by
// default, Postgres optional).
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/teradata-labs/fable/pkg/budget"
	"github.com/teradata-labs/fable/pkg/causal"
	"github.com/teradata-labs/fable/pkg/coherence"
	"github.com/teradata-labs/fable/pkg/memory"
	"github.com/teradata-labs/fable/pkg/types"
)

// SimulationSnapshot is the complete persisted state of a runtime: agent
// states, per-agent memories, the causal graph, the narrative side
// structures, and the cost meters.
type SimulationSnapshot struct {
	ID      string    `json:"id"`
	Label   string    `json:"label,omitempty"`
	Turn    int       `json:"turn"`
	TakenAt time.Time `json:"taken_at"`

	Agents    []*types.AgentState          `json:"agents"`
	Memories  map[string][]*memory.Memory  `json:"memories,omitempty"`
	Graph     causal.GraphSnapshot         `json:"graph"`
	Narrative coherence.NarrativeSnapshot  `json:"narrative"`
	Budget    budget.Stats                 `json:"budget"`
}

// encodeSnapshot renders the snapshot as zstd-compressed JSON.
func encodeSnapshot(snap *SimulationSnapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// decodeSnapshot reverses encodeSnapshot.
func decodeSnapshot(data []byte) (*SimulationSnapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var snap SimulationSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
