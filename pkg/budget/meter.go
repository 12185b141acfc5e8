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

// Package budget meters the money, tokens, and request rate a simulation is
// allowed to spend. The meter fails closed: once a turn or the whole run
// crosses its cap, further spending is denied until the next turn (or
// forever, for the total cap).
package budget

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/types"
)

// Config bounds what the meter will allow.
type Config struct {
	// MaxCostPerTurn is the USD cap for a single turn.
	MaxCostPerTurn float64
	// MaxTotalCost is the USD cap for the whole run.
	MaxTotalCost float64
	// MaxRequestsPerHour bounds accepted submissions in any sliding hour.
	MaxRequestsPerHour int
	// RateLimitCacheHits counts cache hits against the hourly rate when set.
	// Off by default: a hit costs nothing upstream.
	RateLimitCacheHits bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxCostPerTurn:     0.10,
		MaxTotalCost:       1.00,
		MaxRequestsPerHour: 100,
	}
}

// KindStats aggregates spend for one request kind.
type KindStats struct {
	CostUSD  float64 `json:"cost_usd"`
	Tokens   int64   `json:"tokens"`
	Requests int64   `json:"requests"`
}

// Stats is a read-only snapshot of the meter.
type Stats struct {
	TurnCostUSD      float64              `json:"turn_cost_usd"`
	TotalCostUSD     float64              `json:"total_cost_usd"`
	TotalTokens      int64                `json:"total_tokens"`
	TotalCharges     int64                `json:"total_charges"`
	DeniedCharges    int64                `json:"denied_charges"`
	Turns            int64                `json:"turns"`
	RequestsLastHour int                  `json:"requests_last_hour"`
	PerKind          map[string]KindStats `json:"per_kind,omitempty"`
}

// Meter tracks per-turn and total spend plus the hourly submission rate.
// Counter updates are atomic; the per-kind map and the rate window sit behind
// a short mutex.
type Meter struct {
	cfg    Config
	logger *zap.Logger
	clock  types.Clock

	// Costs are held in integer microdollars so concurrent charges do not
	// accumulate float drift.
	turnCostMicros  atomic.Int64
	totalCostMicros atomic.Int64
	totalTokens     atomic.Int64
	totalCharges    atomic.Int64
	deniedCharges   atomic.Int64
	turns           atomic.Int64

	mu           sync.Mutex
	perKind      map[string]*KindStats
	requestTimes []time.Time
}

// Option customizes a Meter.
type Option func(*Meter)

// WithLogger sets the meter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Meter) { m.logger = logger }
}

// WithClock replaces the wall clock, letting tests slide the rate window.
func WithClock(clock types.Clock) Option {
	return func(m *Meter) { m.clock = clock }
}

// NewMeter builds a meter from config.
func NewMeter(cfg Config, opts ...Option) *Meter {
	m := &Meter{
		cfg:     cfg,
		logger:  zap.NewNop(),
		clock:   time.Now,
		perKind: make(map[string]*KindStats),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

const microsPerDollar = 1e6

func toMicros(usd float64) int64 {
	return int64(math.Round(usd * microsPerDollar))
}

func toUSD(micros int64) float64 {
	return float64(micros) / microsPerDollar
}

// StartTurn resets the per-turn cost counter and bumps the turn count.
func (m *Meter) StartTurn() {
	m.turnCostMicros.Store(0)
	m.turns.Add(1)
}

// Charge records cost and tokens against kind and reports whether the meter
// is still under budget after the charge. The charge that crosses a cap is
// recorded (the provider already spent the money); everything after it is
// denied by Allows.
func (m *Meter) Charge(kind string, cost float64, tokens int) bool {
	micros := toMicros(cost)
	turn := m.turnCostMicros.Add(micros)
	total := m.totalCostMicros.Add(micros)
	m.totalTokens.Add(int64(tokens))
	m.totalCharges.Add(1)

	m.mu.Lock()
	ks, ok := m.perKind[kind]
	if !ok {
		ks = &KindStats{}
		m.perKind[kind] = ks
	}
	ks.CostUSD += cost
	ks.Tokens += int64(tokens)
	ks.Requests++
	m.mu.Unlock()

	under := turn <= toMicros(m.cfg.MaxCostPerTurn) && total <= toMicros(m.cfg.MaxTotalCost)
	if !under {
		m.logger.Warn("budget cap crossed",
			zap.String("kind", kind),
			zap.Float64("turn_cost_usd", toUSD(turn)),
			zap.Float64("total_cost_usd", toUSD(total)),
			zap.Float64("max_cost_per_turn", m.cfg.MaxCostPerTurn),
			zap.Float64("max_total_cost", m.cfg.MaxTotalCost))
	}
	return under
}

// Allows reports whether a request with the given estimated cost still fits
// within both caps. Pure read over current counters.
func (m *Meter) Allows(estimatedCost float64) bool {
	est := toMicros(estimatedCost)
	if m.turnCostMicros.Load()+est > toMicros(m.cfg.MaxCostPerTurn) {
		return false
	}
	if m.totalCostMicros.Load()+est > toMicros(m.cfg.MaxTotalCost) {
		return false
	}
	return true
}

// RecordDenial counts a submission the broker refused on budget or rate
// grounds. Metrics only; no caps change.
func (m *Meter) RecordDenial() {
	m.deniedCharges.Add(1)
}

// RecordRequest appends the current instant to the rolling rate window. The
// broker calls this once per accepted submission.
func (m *Meter) RecordRequest() {
	now := m.clock()
	m.mu.Lock()
	m.requestTimes = append(m.requestTimes, now)
	m.pruneLocked(now)
	m.mu.Unlock()
}

// RateAllows reports whether fewer than MaxRequestsPerHour submissions fall
// within the last 60 minutes.
func (m *Meter) RateAllows() bool {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(now)
	return len(m.requestTimes) < m.cfg.MaxRequestsPerHour
}

// pruneLocked drops window entries older than one hour. Caller holds mu.
func (m *Meter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(m.requestTimes) && !m.requestTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.requestTimes = append([]time.Time(nil), m.requestTimes[i:]...)
	}
}

// TurnCost returns the USD spent in the current turn.
func (m *Meter) TurnCost() float64 {
	return toUSD(m.turnCostMicros.Load())
}

// TotalCost returns the USD spent across the run.
func (m *Meter) TotalCost() float64 {
	return toUSD(m.totalCostMicros.Load())
}

// RemainingTurnBudget returns how much USD the current turn may still spend.
func (m *Meter) RemainingTurnBudget() float64 {
	rem := m.cfg.MaxCostPerTurn - m.TurnCost()
	if rem < 0 {
		return 0
	}
	return rem
}

// Snapshot returns a copy of all counters.
func (m *Meter) Snapshot() Stats {
	now := m.clock()
	m.mu.Lock()
	m.pruneLocked(now)
	perKind := make(map[string]KindStats, len(m.perKind))
	for k, v := range m.perKind {
		perKind[k] = *v
	}
	window := len(m.requestTimes)
	m.mu.Unlock()

	return Stats{
		TurnCostUSD:      m.TurnCost(),
		TotalCostUSD:     m.TotalCost(),
		TotalTokens:      m.totalTokens.Load(),
		TotalCharges:     m.totalCharges.Load(),
		DeniedCharges:    m.deniedCharges.Load(),
		Turns:            m.turns.Load(),
		RequestsLastHour: window,
		PerKind:          perKind,
	}
}

// Restore rewinds the meter to a previously snapshotted spend. Used when a
// host restores a saved simulation; the rate window restarts empty.
func (m *Meter) Restore(s Stats) {
	m.turnCostMicros.Store(toMicros(s.TurnCostUSD))
	m.totalCostMicros.Store(toMicros(s.TotalCostUSD))
	m.totalTokens.Store(s.TotalTokens)
	m.totalCharges.Store(s.TotalCharges)
	m.deniedCharges.Store(s.DeniedCharges)
	m.turns.Store(s.Turns)

	m.mu.Lock()
	m.perKind = make(map[string]*KindStats, len(s.PerKind))
	for k, v := range s.PerKind {
		ks := v
		m.perKind[k] = &ks
	}
	m.requestTimes = nil
	m.mu.Unlock()
}
