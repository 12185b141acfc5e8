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

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/fable/pkg/storage/backend"
	"github.com/teradata-labs/fable/pkg/types"
)

// Store persists simulation snapshots through a backend.
type Store struct {
	backend backend.Backend
	logger  *zap.Logger
	clock   types.Clock
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(clock types.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore wraps a backend.
func NewStore(b backend.Backend, opts ...Option) (*Store, error) {
	if b == nil {
		return nil, fmt.Errorf("store requires a backend")
	}
	s := &Store{backend: b, logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save persists a snapshot, assigning id and timestamp when unset. Returns
// the snapshot id.
func (s *Store) Save(ctx context.Context, snap *SimulationSnapshot) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("nil snapshot")
	}
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = s.clock()
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	rec := &backend.Record{
		ID:      snap.ID,
		Label:   snap.Label,
		Turn:    snap.Turn,
		TakenAt: snap.TakenAt,
		Data:    data,
	}
	if err := s.backend.Put(ctx, rec); err != nil {
		return "", err
	}
	s.logger.Info("snapshot saved",
		zap.String("snapshot_id", snap.ID),
		zap.Int("turn", snap.Turn),
		zap.Int("compressed_bytes", len(data)))
	return snap.ID, nil
}

// Load retrieves and decodes a snapshot.
func (s *Store) Load(ctx context.Context, id string) (*SimulationSnapshot, error) {
	rec, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := decodeSnapshot(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return snap, nil
}

// List returns stored snapshot metadata, newest first.
func (s *Store) List(ctx context.Context) ([]backend.Info, error) {
	return s.backend.List(ctx)
}

// Delete removes a snapshot.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, id)
}

// Prune deletes all but the newest keep snapshots. Returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative")
	}
	infos, err := s.backend.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos[min(keep, len(infos)):] {
		if err := s.backend.Delete(ctx, info.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("snapshots pruned", zap.Int("removed", removed), zap.Int("kept", keep))
	}
	return removed, nil
}

// Ping verifies the underlying backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
