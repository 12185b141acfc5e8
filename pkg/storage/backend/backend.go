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

// Package backend defines the snapshot storage backend interface and its
// factory. One backend per process; implementations include SQLiteBackend
// and PostgresBackend.
package backend

import (
	"context"
	"fmt"
	"time"
)

// Record is one stored snapshot: identifying metadata plus the compressed
// document.
type Record struct {
	ID      string
	Label   string
	Turn    int
	TakenAt time.Time
	Data    []byte
}

// Info is the metadata of a stored snapshot, without its document.
type Info struct {
	ID      string
	Label   string
	Turn    int
	TakenAt time.Time
	Size    int
}

// NotFoundError reports a snapshot id with no stored record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("snapshot %s not found", e.ID)
}

// Backend stores snapshot records. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Put inserts or replaces a record by id.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for id, or a *NotFoundError.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns metadata for every stored snapshot, newest first.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all underlying connections.
	Close() error
}
