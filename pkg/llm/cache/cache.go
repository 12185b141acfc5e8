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

// Package cache stores validated LLM responses under a deterministic key so
// identical prompts inside the TTL window never reach the provider twice.
// Concurrent misses for the same key are collapsed into a single provider
// call via singleflight.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teradata-labs/fable/pkg/types"
)

// Config bounds the cache.
type Config struct {
	// TTL is how long an entry stays valid. Default 5 minutes.
	TTL time.Duration
	// Capacity is the maximum entry count. When exceeded the oldest 20%
	// by insertion time are evicted. Default 1000.
	Capacity int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TTL:      5 * time.Minute,
		Capacity: 1000,
	}
}

// Stats is a read-only snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type entry struct {
	resp       *types.LLMResponse
	insertedAt time.Time
}

// Cache is a TTL + capacity bounded response cache. Safe for concurrent use.
type Cache struct {
	cfg    Config
	logger *zap.Logger
	clock  types.Clock

	mu      sync.RWMutex
	entries map[string]*entry

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option customizes a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock replaces the wall clock for TTL tests.
func WithClock(clock types.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// New builds a cache from config.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	c := &Cache{
		cfg:     cfg,
		logger:  zap.NewNop(),
		clock:   time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the deterministic cache key for a request against a provider.
// Everything that changes the provider's answer participates in the digest.
func Key(req *types.LLMRequest, provider string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%.4f\x00%s", req.Prompt, provider, req.Temperature, req.ResponseFormat)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response for key when present and fresh. The
// returned response is a copy with CacheHit set.
func (c *Cache) Get(key string) (*types.LLMResponse, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.clock().Sub(e.insertedAt) > c.cfg.TTL {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	resp := *e.resp
	resp.CacheHit = true
	return &resp, true
}

// Put stores a response under key, evicting the oldest fifth when full.
func (c *Cache) Put(key string, resp *types.LLMResponse) {
	if resp == nil {
		return
	}
	cp := *resp
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.Capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry{resp: &cp, insertedAt: c.clock()}
}

// GetOrCall returns the cached response for key, or runs fn exactly once per
// key across concurrent callers and caches its result. Errors are never
// cached.
func (c *Cache) GetOrCall(ctx context.Context, key string, fn func(context.Context) (*types.LLMResponse, error)) (*types.LLMResponse, error) {
	if resp, ok := c.Get(key); ok {
		return resp, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have populated the entry between the
		// miss above and acquiring the flight.
		if resp, ok := c.Get(key); ok {
			return resp, nil
		}
		resp, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.LLMResponse), nil
}

// evictOldestLocked removes the oldest 20% of entries by insertion time.
// Caller holds mu.
func (c *Cache) evictOldestLocked() {
	n := len(c.entries) / 5
	if n < 1 {
		n = 1
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.insertedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for i := 0; i < n && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
	c.evictions.Add(int64(n))
	c.logger.Debug("cache evicted oldest entries",
		zap.Int("evicted", n),
		zap.Int("remaining", len(c.entries)))
}

// Purge drops every entry older than the TTL. The maintenance scheduler
// calls this between turns.
func (c *Cache) Purge() int {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) > c.cfg.TTL {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the cache counters.
func (c *Cache) Snapshot() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}
