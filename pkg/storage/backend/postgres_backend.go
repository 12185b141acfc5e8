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
	"time"

	_ "github.com/lib/pq" // registers "postgres"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id       TEXT PRIMARY KEY,
	label    TEXT NOT NULL DEFAULT '',
	turn     INTEGER NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL,
	data     BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at DESC);
`

// PostgresBackend stores snapshots in PostgreSQL, for deployments where the
// simulation state must outlive the host machine.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend connects with the given DSN and applies the schema.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend requires a connection string")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	b := &PostgresBackend{db: db}
	if err := b.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) Put(ctx context.Context, rec *Record) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, label, turn, taken_at, data) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET label = $2, turn = $3, taken_at = $4, data = $5`,
		rec.ID, rec.Label, rec.Turn, rec.TakenAt.UTC(), rec.Data)
	if err != nil {
		return fmt.Errorf("store snapshot %s: %w", rec.ID, err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{ID: id}
	err := b.db.QueryRowContext(ctx,
		`SELECT label, turn, taken_at, data FROM snapshots WHERE id = $1`, id).
		Scan(&rec.Label, &rec.Turn, &rec.TakenAt, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return rec, nil
}

func (b *PostgresBackend) List(ctx context.Context) ([]Info, error) {
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

func (b *PostgresBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*PostgresBackend)(nil)
