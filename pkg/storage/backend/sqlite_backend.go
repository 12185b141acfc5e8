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
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/teradata-labs/fable/internal/sqlitedriver" // registers "sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id       TEXT PRIMARY KEY,
	label    TEXT NOT NULL DEFAULT '',
	turn     INTEGER NOT NULL,
	taken_at TIMESTAMP NOT NULL,
	data     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at DESC);
`

// SQLiteBackend stores snapshots in a single SQLite file. The default
// backend; needs no external service.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite backend requires a database path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, rec *Record) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (id, label, turn, taken_at, data) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Label, rec.Turn, rec.TakenAt.UTC(), rec.Data)
	if err != nil {
		return fmt.Errorf("store snapshot %s: %w", rec.ID, err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{ID: id}
	err := b.db.QueryRowContext(ctx,
		`SELECT label, turn, taken_at, data FROM snapshots WHERE id = ?`, id).
		Scan(&rec.Label, &rec.Turn, &rec.TakenAt, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return rec, nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]Info, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, label, turn, taken_at, LENGTH(data) FROM snapshots ORDER BY taken_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.Label, &info.Turn, &info.TakenAt, &info.Size); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
