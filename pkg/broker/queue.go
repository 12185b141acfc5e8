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
	"context"
	"sync/atomic"

	"github.com/teradata-labs/fable/pkg/types"
)

// outcome is what a waiter receives: exactly one of resp or err.
type outcome struct {
	resp *types.LLMResponse
	err  error
}

// pending is one queued submission plus its delivery handle. The result
// channel has capacity 1 so the worker never blocks on delivery; a waiter
// that gave up simply never reads it.
type pending struct {
	req       *types.LLMRequest
	seq       uint64
	ctx       context.Context
	result    chan outcome
	cancelled atomic.Bool
}

// deliver hands the outcome to the waiter without blocking.
func (p *pending) deliver(o outcome) {
	select {
	case p.result <- o:
	default:
	}
}

// requestQueue is a min-heap ordered by priority ascending (critical first)
// then insertion sequence, which preserves submission order inside a
// priority class and, transitively, inside a batch group of one kind.
type requestQueue []*pending

var _ heap.Interface = (*requestQueue)(nil)

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].req.Priority != q[j].req.Priority {
		return q[i].req.Priority < q[j].req.Priority
	}
	return q[i].seq < q[j].seq
}

func (q requestQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *requestQueue) Push(x any) { *q = append(*q, x.(*pending)) }

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
