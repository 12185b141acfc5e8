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

// Package agent implements the per-agent decision pipeline: interpret recent
// events through a personality bias, assess threat, prioritize goals, score
// candidate actions against the character's decision weights, and validate
// the pick. It also owns the character registry that loads and hot-reloads
// character sheets.
package agent

import "github.com/teradata-labs/fable/pkg/types"

// Bias is the interpretive lens an agent applies to incoming events.
type Bias string

const (
	BiasOptimistic  Bias = "optimistic"
	BiasPessimistic Bias = "pessimistic"
	BiasParanoid    Bias = "paranoid"
	BiasNaive       Bias = "naive"
	BiasCynical     Bias = "cynical"
	BiasIdealistic  Bias = "idealistic"
	BiasPragmatic   Bias = "pragmatic"
	BiasEmotional   Bias = "emotional"
)

// emotionalStress is the stress level past which feeling overrides trait.
const emotionalStress = 0.7

// PickBias selects the interpretive bias from personality traits and current
// stress. High stress wins over every trait; otherwise the most extreme
// trait decides, falling back to pragmatic.
func PickBias(c types.CharacterData, stress float64) Bias {
	if stress > emotionalStress {
		return BiasEmotional
	}
	caution := c.Trait("caution")
	trust := c.Trait("trust")
	optimism := c.Trait("optimism")
	idealism := c.Trait("idealism")

	switch {
	case caution > 0.75 && trust < 0.4:
		return BiasParanoid
	case caution < 0.25 && trust > 0.6:
		return BiasNaive
	case trust < 0.25:
		return BiasCynical
	case idealism > 0.75:
		return BiasIdealistic
	case optimism > 0.7:
		return BiasOptimistic
	case optimism < 0.3:
		return BiasPessimistic
	default:
		return BiasPragmatic
	}
}

// sentimentSkew is how the bias shifts an event's perceived sentiment.
func (b Bias) sentimentSkew() float64 {
	switch b {
	case BiasOptimistic, BiasIdealistic, BiasNaive:
		return 0.15
	case BiasPessimistic, BiasCynical, BiasParanoid:
		return -0.15
	case BiasEmotional:
		return -0.05
	default:
		return 0
	}
}
