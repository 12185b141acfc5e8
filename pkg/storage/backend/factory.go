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

package backend

import (
	"context"
	"fmt"
)

// Kind names a backend implementation.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	// Kind picks the implementation. Empty defaults to SQLite.
	Kind Kind `json:"kind" yaml:"kind" mapstructure:"kind"`
	// Path is the SQLite database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`
	// DSN is the Postgres connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// New builds the configured backend. A nil-equivalent config yields SQLite
// at the given path.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Kind {
	case "", KindSQLite:
		return NewSQLiteBackend(ctx, cfg.Path)
	case KindPostgres:
		return NewPostgresBackend(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported snapshot backend: %q", cfg.Kind)
	}
}
