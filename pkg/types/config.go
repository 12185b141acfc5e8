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

package types

import (
	"fmt"
	"time"
)

// SimulationConfig is the tunable surface of the runtime. Hosts load it from
// flags, file, or environment; every component derives its own config from
// this one inside orchestration.NewRuntime.
type SimulationConfig struct {
	MaxTurnTimeSeconds       float64 `json:"max_turn_time_seconds" yaml:"max_turn_time_seconds" mapstructure:"max_turn_time_seconds"`
	MaxCostPerTurn           float64 `json:"max_cost_per_turn" yaml:"max_cost_per_turn" mapstructure:"max_cost_per_turn"`
	MaxTotalCost             float64 `json:"max_total_cost" yaml:"max_total_cost" mapstructure:"max_total_cost"`
	MaxRequestsPerHour       int     `json:"max_requests_per_hour" yaml:"max_requests_per_hour" mapstructure:"max_requests_per_hour"`
	CacheTTLSeconds          float64 `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
	CacheCapacity            int     `json:"cache_capacity" yaml:"cache_capacity" mapstructure:"cache_capacity"`
	MaxBatchSize             int     `json:"max_batch_size" yaml:"max_batch_size" mapstructure:"max_batch_size"`
	BatchTimeoutMS           int     `json:"batch_timeout_ms" yaml:"batch_timeout_ms" mapstructure:"batch_timeout_ms"`
	MemoryCapacity           int     `json:"memory_capacity" yaml:"memory_capacity" mapstructure:"memory_capacity"`
	WorkingMemorySize        int     `json:"working_memory_size" yaml:"working_memory_size" mapstructure:"working_memory_size"`
	DialogueHistoryCap       int     `json:"dialogue_history_cap" yaml:"dialogue_history_cap" mapstructure:"dialogue_history_cap"`
	FastModeThresholdSeconds float64 `json:"fast_mode_threshold_seconds" yaml:"fast_mode_threshold_seconds" mapstructure:"fast_mode_threshold_seconds"`
	PrimaryProvider          string  `json:"primary_provider" yaml:"primary_provider" mapstructure:"primary_provider"`
	MaxNegotiationRounds     int     `json:"max_negotiation_rounds" yaml:"max_negotiation_rounds" mapstructure:"max_negotiation_rounds"`
}

// DefaultSimulationConfig returns the documented defaults.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		MaxTurnTimeSeconds:       5.0,
		MaxCostPerTurn:           0.10,
		MaxTotalCost:             1.00,
		MaxRequestsPerHour:       100,
		CacheTTLSeconds:          300,
		CacheCapacity:            1000,
		MaxBatchSize:             5,
		BatchTimeoutMS:           150,
		MemoryCapacity:           10000,
		WorkingMemorySize:        7,
		DialogueHistoryCap:       100,
		FastModeThresholdSeconds: 3.0,
		PrimaryProvider:          "gemini",
		MaxNegotiationRounds:     5,
	}
}

// TurnBudget returns the per-turn wall-clock budget as a duration.
func (c SimulationConfig) TurnBudget() time.Duration {
	return time.Duration(c.MaxTurnTimeSeconds * float64(time.Second))
}

// CacheTTL returns the cache freshness window as a duration.
func (c SimulationConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds * float64(time.Second))
}

// BatchTimeout returns the broker drain interval as a duration.
func (c SimulationConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMS) * time.Millisecond
}

// FastModeThreshold returns the remaining-time floor below which dialogues
// run in fast mode.
func (c SimulationConfig) FastModeThreshold() time.Duration {
	return time.Duration(c.FastModeThresholdSeconds * float64(time.Second))
}

// Validate rejects configurations the runtime cannot honor.
func (c SimulationConfig) Validate() error {
	if c.MaxTurnTimeSeconds <= 0 {
		return fmt.Errorf("max_turn_time_seconds must be positive, got %v", c.MaxTurnTimeSeconds)
	}
	if c.MaxCostPerTurn <= 0 {
		return fmt.Errorf("max_cost_per_turn must be positive, got %v", c.MaxCostPerTurn)
	}
	if c.MaxTotalCost < c.MaxCostPerTurn {
		return fmt.Errorf("max_total_cost %v is below max_cost_per_turn %v", c.MaxTotalCost, c.MaxCostPerTurn)
	}
	if c.MaxRequestsPerHour <= 0 {
		return fmt.Errorf("max_requests_per_hour must be positive, got %d", c.MaxRequestsPerHour)
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("cache_ttl_seconds must be positive, got %v", c.CacheTTLSeconds)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", c.MaxBatchSize)
	}
	if c.BatchTimeoutMS <= 0 {
		return fmt.Errorf("batch_timeout_ms must be positive, got %d", c.BatchTimeoutMS)
	}
	if c.MemoryCapacity <= 0 {
		return fmt.Errorf("memory_capacity must be positive, got %d", c.MemoryCapacity)
	}
	if c.WorkingMemorySize <= 0 {
		return fmt.Errorf("working_memory_size must be positive, got %d", c.WorkingMemorySize)
	}
	if c.DialogueHistoryCap <= 0 {
		return fmt.Errorf("dialogue_history_cap must be positive, got %d", c.DialogueHistoryCap)
	}
	if c.FastModeThresholdSeconds < 0 {
		return fmt.Errorf("fast_mode_threshold_seconds must be non-negative, got %v", c.FastModeThresholdSeconds)
	}
	if c.PrimaryProvider == "" {
		return fmt.Errorf("primary_provider must be set")
	}
	if c.MaxNegotiationRounds <= 0 {
		return fmt.Errorf("max_negotiation_rounds must be positive, got %d", c.MaxNegotiationRounds)
	}
	return nil
}
