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

// Package communication provides the in-process event bus: topic-keyed
// publish/subscribe with best-effort delivery. Subscribers are advisory;
// a slow subscriber loses its oldest buffered messages, never the
// publisher's time. No ordering is guaranteed across topics.
package communication

import (
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/types"
)

// Well-known topics published by the runtime.
const (
	TopicEvents       = "world.events"
	TopicActions      = "agent.actions"
	TopicDialogues    = "dialogue.outcomes"
	TopicNegotiations = "negotiation.outcomes"
	TopicTurns        = "turn.summaries"
	TopicConflicts    = "narrative.conflicts"
)

// DefaultBufferSize is the per-subscriber queue depth.
const DefaultBufferSize = 64

// asyncThreshold is the subscriber count at which fan-out moves off the
// publisher's goroutine.
const asyncThreshold = 32

// Message is one bus delivery. Exactly one of Event or Payload is usually
// set; both are allowed.
type Message struct {
	ID          string         `json:"id"`
	Topic       string         `json:"topic"`
	Source      string         `json:"source,omitempty"`
	Event       *types.Event   `json:"event,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	PublishedAt time.Time      `json:"published_at"`
}

// Subscription is a live topic subscription. Receive from C; the bus closes
// it on Unsubscribe and on bus Close.
type Subscription struct {
	ID      string
	Pattern string
	C       <-chan *Message

	// mu serializes delivery against close so a publisher holding this
	// subscription never sends on a closed channel.
	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

// deliver sends msg, dropping the oldest buffered message when the queue is
// full. A message for a subscription already closed counts as dropped.
func (s *Subscription) deliver(msg *Message) (delivered, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 1
	}
	select {
	case s.ch <- msg:
		return 1, 0
	default:
	}
	// Queue full: evict the oldest entry, then retry once.
	select {
	case <-s.ch:
		dropped++
	default:
	}
	select {
	case s.ch <- msg:
		return 1, dropped
	default:
		return 0, dropped + 1
	}
}

// shut closes the channel exactly once, after any in-flight delivery.
func (s *Subscription) shut() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

// Stats is a read-only snapshot of bus counters.
type Stats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Subscribers int   `json:"subscribers"`
}

// Bus is the in-process pub/sub fabric. Safe for concurrent use; Close is
// idempotent.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// Option customizes a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// NewBus builds an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger: zap.NewNop(),
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers for every topic matching pattern (path.Match syntax:
// "turn.*" matches "turn.summaries"). Buffer ≤ 0 uses the default depth.
func (b *Bus) Subscribe(pattern string, buffer int) (*Subscription, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("bus is closed")
	}
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}
	if _, err := path.Match(pattern, "probe"); err != nil {
		return nil, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	ch := make(chan *Message, buffer)
	sub := &Subscription{
		ID:      uuid.New().String(),
		Pattern: pattern,
		C:       ch,
		ch:      ch,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.shut()
	}
}

// Publish fans a message out to every matching subscriber. Delivery is
// synchronous while the subscriber list is small and moves to a background
// goroutine beyond the threshold. Returns delivered and dropped counts for
// the synchronous path (async fan-out reports zero here and counts in
// Stats).
func (b *Bus) Publish(topic string, msg *Message) (delivered, dropped int, err error) {
	if b.closed.Load() {
		return 0, 0, fmt.Errorf("bus is closed")
	}
	if topic == "" {
		return 0, 0, fmt.Errorf("topic cannot be empty")
	}
	if msg == nil {
		return 0, 0, fmt.Errorf("message cannot be nil")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Topic = topic
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	var targets []*Subscription
	for _, sub := range b.subs {
		if ok, _ := path.Match(sub.Pattern, topic); ok {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if len(targets) < asyncThreshold {
		d, dr := b.fanOut(targets, msg)
		return d, dr, nil
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.fanOut(targets, msg)
	}()
	return 0, 0, nil
}

// fanOut delivers to each target through its own lock, so a concurrent
// Unsubscribe or Close never closes a channel out from under a send.
func (b *Bus) fanOut(targets []*Subscription, msg *Message) (delivered, dropped int) {
	for _, sub := range targets {
		d, dr := sub.deliver(msg)
		delivered += d
		dropped += dr
	}
	b.delivered.Add(int64(delivered))
	b.dropped.Add(int64(dropped))
	return delivered, dropped
}

// PublishEvent is the common case: wrap a world event and publish it.
func (b *Bus) PublishEvent(topic string, e *types.Event) error {
	_, _, err := b.Publish(topic, &Message{Event: e})
	return err
}

// Snapshot returns a copy of the bus counters.
func (b *Bus) Snapshot() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

// Close stops the bus and closes every subscription channel. Idempotent.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.wg.Wait()
	b.mu.Lock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.shut()
	}
	b.mu.Unlock()
	b.logger.Debug("event bus closed")
}
