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

// Package broker multiplexes many small LLM requests onto few provider
// calls. It owns the priority queue, the background batch worker, and the
// pending-results table; requests flow budget check → rate check → immediate
// path or queue → batch prompt → cache → provider → charge → fan-out.
package broker

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/budget"
	"github.com/teradata-labs/fable/pkg/llm"
	"github.com/teradata-labs/fable/pkg/llm/cache"
	"github.com/teradata-labs/fable/pkg/types"
)

// Config bounds the broker.
type Config struct {
	// MaxBatchSize caps how many requests one provider call carries.
	MaxBatchSize int
	// BatchTimeout is the worker drain interval.
	BatchTimeout time.Duration
	// DefaultDeadline bounds a waiter when the request carries none.
	DefaultDeadline time.Duration
	// ImmediateHighDepth is the queue depth below which high-priority
	// requests skip the queue.
	ImmediateHighDepth int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:       5,
		BatchTimeout:       150 * time.Millisecond,
		DefaultDeadline:    30 * time.Second,
		ImmediateHighDepth: 2,
	}
}

// Stats is a read-only snapshot of broker counters.
type Stats struct {
	Submitted         int64 `json:"submitted"`
	ImmediateRequests int64 `json:"immediate_requests"`
	BatchedRequests   int64 `json:"batched_requests"`
	SuccessfulBatches int64 `json:"successful_batches"`
	FailedBatches     int64 `json:"failed_batches"`
	CacheHits         int64 `json:"cache_hits"`
	Timeouts          int64 `json:"timeouts"`
	Denials           int64 `json:"denials"`
	QueueDepth        int   `json:"queue_depth"`
}

// Broker is the batching scheduler between agent pipelines and the provider.
// Safe for concurrent use; Close is idempotent.
type Broker struct {
	cfg      Config
	provider llm.Provider
	cache    *cache.Cache
	meter    *budget.Meter
	logger   *zap.Logger

	mu    sync.Mutex
	queue requestQueue
	seq   uint64

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	submitted         atomic.Int64
	immediateRequests atomic.Int64
	batchedRequests   atomic.Int64
	successfulBatches atomic.Int64
	failedBatches     atomic.Int64
	cacheHits         atomic.Int64
	timeouts          atomic.Int64
	denials           atomic.Int64
}

// Option customizes a Broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// New builds a broker and starts its batch worker. The caller owns Close.
func New(cfg Config, provider llm.Provider, respCache *cache.Cache, meter *budget.Meter, opts ...Option) *Broker {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 5
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 150 * time.Millisecond
	}
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = 30 * time.Second
	}
	if cfg.ImmediateHighDepth <= 0 {
		cfg.ImmediateHighDepth = 2
	}
	b := &Broker{
		cfg:      cfg,
		provider: provider,
		cache:    respCache,
		meter:    meter,
		logger:   zap.NewNop(),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

// Submit runs one request through the broker and blocks until its result,
// its deadline, or ctx cancellation. Critical requests (and high-priority
// ones while the queue is shallow) execute on the caller's goroutine;
// everything else waits for the batch worker.
func (b *Broker) Submit(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	if b.closed.Load() {
		return nil, &BrokerError{Code: ErrClosed, Message: "broker is closed"}
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	if req.Deadline.IsZero() {
		req.Deadline = req.SubmittedAt.Add(b.cfg.DefaultDeadline)
	}
	b.submitted.Add(1)

	// Budget and rate are evaluated before the cache: a denied request
	// must not populate or consult the cache.
	if !b.meter.RateAllows() {
		b.denials.Add(1)
		b.meter.RecordDenial()
		return nil, &BrokerError{Code: ErrRateDenied, RequestID: req.ID, Message: "hourly request rate exceeded"}
	}
	est := req.EstimatedCost
	if est <= 0 {
		est = llm.EstimateRequestCost(b.provider, req)
	}
	if !b.meter.Allows(est) {
		b.denials.Add(1)
		b.meter.RecordDenial()
		return nil, &BrokerError{Code: ErrBudgetDenied, RequestID: req.ID, Message: "estimated cost exceeds remaining budget"}
	}
	b.meter.RecordRequest()

	if req.Priority == types.PriorityCritical ||
		(req.Priority == types.PriorityHigh && b.queueDepth() < b.cfg.ImmediateHighDepth) {
		b.immediateRequests.Add(1)
		return b.executeSingle(ctx, req)
	}

	p := &pending{
		req:    req,
		ctx:    ctx,
		result: make(chan outcome, 1),
	}
	b.mu.Lock()
	b.seq++
	p.seq = b.seq
	heap.Push(&b.queue, p)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}

	timer := time.NewTimer(time.Until(req.Deadline))
	defer timer.Stop()
	select {
	case out := <-p.result:
		return out.resp, out.err
	case <-ctx.Done():
		p.cancelled.Store(true)
		b.timeouts.Add(1)
		return nil, &BrokerError{Code: ErrQueueTimeout, RequestID: req.ID, Message: "submission cancelled", Err: ctx.Err()}
	case <-timer.C:
		p.cancelled.Store(true)
		b.timeouts.Add(1)
		return nil, &BrokerError{Code: ErrQueueTimeout, RequestID: req.ID, Message: "deadline expired before delivery"}
	}
}

// queueDepth returns the current pending count.
func (b *Broker) queueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// executeSingle is the immediate path: cache, then provider, then charge.
func (b *Broker) executeSingle(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	key := cache.Key(req, b.provider.Name())
	resp, err := b.cache.GetOrCall(ctx, key, func(ctx context.Context) (*types.LLMResponse, error) {
		return b.provider.Call(ctx, req)
	})
	if err != nil {
		return nil, wrapProviderError(req.ID, err)
	}
	if resp.CacheHit {
		b.cacheHits.Add(1)
	} else {
		b.meter.Charge(req.Kind, resp.Usage.CostUSD, resp.Usage.TotalTokens)
	}
	out := *resp
	out.RequestID = req.ID
	return &out, nil
}

// worker is the batching loop: sleep until the queue is non-empty, hold the
// drain for one batch-timeout window so concurrent submissions coalesce,
// then dispatch.
func (b *Broker) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			b.failRemaining()
			return
		case <-b.wake:
		}

		timer := time.NewTimer(b.cfg.BatchTimeout)
		select {
		case <-b.stopCh:
			timer.Stop()
			b.failRemaining()
			return
		case <-timer.C:
		}
		b.dispatch()

		// Anything left over (drain cap, or arrivals during dispatch)
		// schedules the next window immediately.
		if b.queueDepth() > 0 {
			select {
			case b.wake <- struct{}{}:
			default:
			}
		}
	}
}

// dispatch drains up to MaxBatchSize live requests, groups them by kind, and
// runs one provider call per group.
func (b *Broker) dispatch() {
	b.mu.Lock()
	var drained []*pending
	for b.queue.Len() > 0 && len(drained) < b.cfg.MaxBatchSize {
		p := heap.Pop(&b.queue).(*pending)
		if p.cancelled.Load() {
			continue
		}
		drained = append(drained, p)
	}
	b.mu.Unlock()
	if len(drained) == 0 {
		return
	}

	groups := make(map[string][]*pending)
	var order []string
	for _, p := range drained {
		if _, ok := groups[p.req.Kind]; !ok {
			order = append(order, p.req.Kind)
		}
		groups[p.req.Kind] = append(groups[p.req.Kind], p)
	}
	for _, kind := range order {
		b.dispatchGroup(kind, groups[kind])
	}
}

// dispatchGroup runs one batch: synthesize, call through cache, split,
// charge once, deliver in submission order.
func (b *Broker) dispatchGroup(kind string, group []*pending) {
	// A second cancellation sweep: waiters may have expired while the
	// group sat in the drain.
	live := group[:0]
	for _, p := range group {
		if !p.cancelled.Load() {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return
	}

	if len(live) == 1 {
		p := live[0]
		resp, err := b.executeSingle(p.ctx, p.req)
		if err != nil {
			b.failedBatches.Add(1)
			p.deliver(outcome{err: err})
			return
		}
		b.batchedRequests.Add(1)
		b.successfulBatches.Add(1)
		p.deliver(outcome{resp: resp})
		return
	}

	first := live[0].req
	batchReq := &types.LLMRequest{
		ID:             uuid.New().String(),
		Kind:           kind,
		Prompt:         synthesizeBatchPrompt(live),
		Priority:       first.Priority,
		Temperature:    first.Temperature,
		MaxTokens:      batchMaxTokens(live),
		ResponseFormat: first.ResponseFormat,
	}

	key := cache.Key(batchReq, b.provider.Name())
	resp, err := b.cache.GetOrCall(context.Background(), key, func(ctx context.Context) (*types.LLMResponse, error) {
		return b.provider.Call(ctx, batchReq)
	})
	if err != nil {
		b.failedBatches.Add(1)
		werr := wrapProviderError("", err)
		for _, p := range live {
			p.deliver(outcome{err: werr})
		}
		b.logger.Warn("batch dispatch failed",
			zap.String("kind", kind),
			zap.Int("size", len(live)),
			zap.Error(err))
		return
	}
	if resp.CacheHit {
		b.cacheHits.Add(1)
	} else {
		b.meter.Charge(kind, resp.Usage.CostUSD, resp.Usage.TotalTokens)
	}

	segments := splitBatchResponse(resp.Content, len(live))
	shares := divideUsage(resp.Usage, len(live))
	delivered := 0
	for i, p := range live {
		content, ok := segments[i]
		if !ok {
			p.deliver(outcome{err: &BrokerError{
				Code:      ErrMalformed,
				RequestID: p.req.ID,
				Message:   "batch response missing section for this request",
			}})
			continue
		}
		p.deliver(outcome{resp: &types.LLMResponse{
			RequestID: p.req.ID,
			Content:   content,
			Usage:     shares[i],
			CacheHit:  resp.CacheHit,
			Provider:  resp.Provider,
			Model:     resp.Model,
			Elapsed:   resp.Elapsed,
		}})
		delivered++
	}
	b.batchedRequests.Add(int64(len(live)))
	if delivered == len(live) {
		b.successfulBatches.Add(1)
	} else {
		b.failedBatches.Add(1)
	}
	b.logger.Debug("batch dispatched",
		zap.String("kind", kind),
		zap.Int("size", len(live)),
		zap.Int("delivered", delivered),
		zap.Bool("cache_hit", resp.CacheHit))
}

// batchMaxTokens sizes the merged call's output allowance.
func batchMaxTokens(group []*pending) int {
	total := 0
	for _, p := range group {
		mt := p.req.MaxTokens
		if mt <= 0 {
			mt = 1024
		}
		total += mt
	}
	return total
}

// failRemaining drains the queue on shutdown so no waiter hangs.
func (b *Broker) failRemaining() {
	b.mu.Lock()
	remaining := make([]*pending, len(b.queue))
	copy(remaining, b.queue)
	b.queue = b.queue[:0]
	b.mu.Unlock()
	for _, p := range remaining {
		p.deliver(outcome{err: &BrokerError{Code: ErrClosed, RequestID: p.req.ID, Message: "broker closed before dispatch"}})
	}
}

// wrapProviderError maps a provider failure onto the broker taxonomy: auth
// and malformed surface as-is inside llm_unavailable or malformed codes.
func wrapProviderError(requestID string, err error) error {
	var perr *llm.ProviderError
	code := ErrUnavailable
	msg := "provider call failed"
	if errors.As(err, &perr) && perr.Category == llm.ErrorMalformed {
		code = ErrMalformed
		msg = "provider returned a malformed response"
	}
	return &BrokerError{Code: code, RequestID: requestID, Message: msg, Err: err}
}

// Snapshot returns a copy of the broker counters.
func (b *Broker) Snapshot() Stats {
	return Stats{
		Submitted:         b.submitted.Load(),
		ImmediateRequests: b.immediateRequests.Load(),
		BatchedRequests:   b.batchedRequests.Load(),
		SuccessfulBatches: b.successfulBatches.Load(),
		FailedBatches:     b.failedBatches.Load(),
		CacheHits:         b.cacheHits.Load(),
		Timeouts:          b.timeouts.Load(),
		Denials:           b.denials.Load(),
		QueueDepth:        b.queueDepth(),
	}
}

// Close stops the worker and fails any queued waiters. Idempotent.
func (b *Broker) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.stopCh)
	b.wg.Wait()
}
