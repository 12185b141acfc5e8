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

package scheduler

import (
	"time"

	"github.com/teradata-labs/fable/pkg/causal"
	"github.com/teradata-labs/fable/pkg/llm/cache"
	"github.com/teradata-labs/fable/pkg/memory"
	"github.com/teradata-labs/fable/pkg/negotiation"
)

// MaintenanceConfig selects the schedules and retention for the standard
// task set. Zero values take the documented defaults.
type MaintenanceConfig struct {
	// ConsolidationSpec schedules memory consolidation sweeps.
	ConsolidationSpec string
	// GraphGCSpec schedules causal graph retention collection.
	GraphGCSpec string
	// GraphRetention is how long events are kept. Events on protected ids
	// survive regardless.
	GraphRetention time.Duration
	// CachePurgeSpec schedules expired cache entry purges.
	CachePurgeSpec string
	// NegotiationSweepSpec schedules negotiation session expiry.
	NegotiationSweepSpec string
}

// DefaultMaintenanceConfig returns the documented defaults.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		ConsolidationSpec:    "*/10 * * * *",
		GraphGCSpec:          "0 * * * *",
		GraphRetention:       24 * time.Hour,
		CachePurgeSpec:       "*/5 * * * *",
		NegotiationSweepSpec: "* * * * *",
	}
}

// MemorySource yields the memory stores to sweep. The orchestrator's agent
// set changes at runtime, so the source is consulted on every run.
type MemorySource func() []*memory.Store

// RegisterMaintenance adds the standard maintenance tasks for whichever
// components are non-nil.
func (s *Scheduler) RegisterMaintenance(cfg MaintenanceConfig, memories MemorySource, graph *causal.Graph, respCache *cache.Cache, negotiations *negotiation.Engine) error {
	def := DefaultMaintenanceConfig()
	if cfg.ConsolidationSpec == "" {
		cfg.ConsolidationSpec = def.ConsolidationSpec
	}
	if cfg.GraphGCSpec == "" {
		cfg.GraphGCSpec = def.GraphGCSpec
	}
	if cfg.GraphRetention <= 0 {
		cfg.GraphRetention = def.GraphRetention
	}
	if cfg.CachePurgeSpec == "" {
		cfg.CachePurgeSpec = def.CachePurgeSpec
	}
	if cfg.NegotiationSweepSpec == "" {
		cfg.NegotiationSweepSpec = def.NegotiationSweepSpec
	}

	if memories != nil {
		err := s.Add(Task{
			Name: "memory_consolidation",
			Spec: cfg.ConsolidationSpec,
			Run: func() (int, error) {
				total := 0
				for _, store := range memories() {
					if store != nil {
						total += store.Consolidate()
					}
				}
				return total, nil
			},
		})
		if err != nil {
			return err
		}
	}
	if graph != nil {
		err := s.Add(Task{
			Name: "causal_graph_gc",
			Spec: cfg.GraphGCSpec,
			Run: func() (int, error) {
				cutoff := s.clock().Add(-cfg.GraphRetention)
				return graph.CollectGarbage(cutoff, nil), nil
			},
		})
		if err != nil {
			return err
		}
	}
	if respCache != nil {
		err := s.Add(Task{
			Name: "cache_purge",
			Spec: cfg.CachePurgeSpec,
			Run:  func() (int, error) { return respCache.Purge(), nil },
		})
		if err != nil {
			return err
		}
	}
	if negotiations != nil {
		err := s.Add(Task{
			Name: "negotiation_expiry",
			Spec: cfg.NegotiationSweepSpec,
			Run:  func() (int, error) { return negotiations.ExpireSessions(), nil },
		})
		if err != nil {
			return err
		}
	}
	return nil
}
