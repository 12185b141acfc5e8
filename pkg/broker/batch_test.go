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

package broker

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/fable/pkg/types"
)

func mkGroup(prompts ...string) []*pending {
	out := make([]*pending, len(prompts))
	for i, p := range prompts {
		out[i] = &pending{req: &types.LLMRequest{ID: "id-" + p, Kind: "dialogue", Prompt: p}}
	}
	return out
}

func TestSynthesizeBatchPrompt(t *testing.T) {
	prompt := synthesizeBatchPrompt(mkGroup("first question", "second question"))

	assert.Contains(t, prompt, "## Request 1 (ID: id-first question)")
	assert.Contains(t, prompt, "## Request 2 (ID: id-second question)")
	assert.Contains(t, prompt, "first question")
	assert.Contains(t, prompt, "**Response 1:**")
	assert.Contains(t, prompt, "**Response 2:**")
}

func TestSplitBatchResponse(t *testing.T) {
	content := `**Response 1:** the scout reports movement

**Response 2:** hold the line
and wait for dawn

**Response 3:** retreat east`

	segments := splitBatchResponse(content, 3)
	require.Len(t, segments, 3)
	assert.Equal(t, "the scout reports movement", segments[0])
	assert.Equal(t, "hold the line\nand wait for dawn", segments[1])
	assert.Equal(t, "retreat east", segments[2])
}

func TestSplitBatchResponseMissingSuffix(t *testing.T) {
	segments := splitBatchResponse("**Response 1:** only one answer", 3)
	require.Len(t, segments, 1)
	_, ok := segments[1]
	assert.False(t, ok)
	_, ok = segments[2]
	assert.False(t, ok)
}

func TestSplitBatchResponseIgnoresOutOfRangeMarkers(t *testing.T) {
	segments := splitBatchResponse("**Response 7:** ghost\n**Response 1:** real", 2)
	require.Len(t, segments, 1)
	assert.Equal(t, "real", segments[0])
}

func TestDivideUsageConservesTotals(t *testing.T) {
	total := types.Usage{InputTokens: 10, OutputTokens: 7, TotalTokens: 17, CostUSD: 0.09}
	shares := divideUsage(total, 3)
	require.Len(t, shares, 3)

	var in, out, tot int
	var cost float64
	for _, s := range shares {
		in += s.InputTokens
		out += s.OutputTokens
		tot += s.TotalTokens
		cost += s.CostUSD
	}
	assert.Equal(t, total.InputTokens, in)
	assert.Equal(t, total.OutputTokens, out)
	assert.Equal(t, total.TotalTokens, tot)
	assert.InDelta(t, total.CostUSD, cost, 1e-9)
}

func TestQueueOrdering(t *testing.T) {
	q := &requestQueue{}
	push := func(prio types.Priority, seq uint64) {
		*q = append(*q, &pending{req: &types.LLMRequest{Priority: prio}, seq: seq})
	}
	push(types.PriorityLow, 1)
	push(types.PriorityNormal, 2)
	push(types.PriorityNormal, 3)
	push(types.PriorityHigh, 4)

	heap.Init(q)
	var got []uint64
	for q.Len() > 0 {
		got = append(got, heap.Pop(q).(*pending).seq)
	}
	assert.Equal(t, []uint64{4, 2, 3, 1}, got, "priority first, then submission order")
}
