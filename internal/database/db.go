package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS processing_jobs (
  id              TEXT PRIMARY KEY,
  filename        TEXT NOT NULL,
  status          TEXT NOT NULL,
  total_pages     INTEGER NOT NULL DEFAULT 0,
  processed_pages INTEGER NOT NULL DEFAULT 0,
  current_step    TEXT NOT NULL DEFAULT '',
  result_data     JSONB,
  error_message   TEXT,
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS processing_jobs_status_idx ON processing_jobs (status);

CREATE TABLE IF NOT EXISTS chunk_uploads (
  upload_id     TEXT PRIMARY KEY,
  filename      TEXT NOT NULL,
  total_chunks  INTEGER NOT NULL,
  total_size    BIGINT NOT NULL,
  created_at    TIMESTAMPTZ NOT NULL,
  last_activity TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS file_chunks (
  upload_id   TEXT NOT NULL REFERENCES chunk_uploads (upload_id) ON DELETE CASCADE,
  chunk_index INTEGER NOT NULL,
  data        BYTEA NOT NULL,
  PRIMARY KEY (upload_id, chunk_index)
);
`

// EnsureSchema creates the job and chunk tables if they are missing.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
