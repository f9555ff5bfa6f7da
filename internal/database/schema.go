package database

import (
	"context"
	"fmt"
)

// schema is applied by the migrate binary. Documents live in JSONB columns;
// the key columns exist for conflict targets and filtered deletes.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS provider_titles (
		provider_id TEXT NOT NULL,
		title_key TEXT NOT NULL,
		type TEXT NOT NULL,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (provider_id, title_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_provider_titles_type ON provider_titles (provider_id, type)`,
	`CREATE TABLE IF NOT EXISTS titles (
		key TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_titles_type ON titles (type)`,
	`CREATE INDEX IF NOT EXISTS idx_titles_sources ON titles USING GIN ((doc->'sources'))`,
	`CREATE TABLE IF NOT EXISTS provider_categories (
		provider_id TEXT NOT NULL,
		type TEXT NOT NULL,
		category_id TEXT NOT NULL,
		doc JSONB NOT NULL,
		PRIMARY KEY (provider_id, type, category_id)
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		provider_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (provider_id, channel_id)
	)`,
	`CREATE TABLE IF NOT EXISTS programs (
		provider_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		start_ts BIGINT NOT NULL,
		stop_ts BIGINT NOT NULL,
		doc JSONB NOT NULL,
		PRIMARY KEY (provider_id, channel_id, start_ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_programs_stop ON programs (stop_ts)`,
	`CREATE TABLE IF NOT EXISTS job_history (
		job_name TEXT NOT NULL,
		run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		doc JSONB NOT NULL,
		PRIMARY KEY (job_name, run_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_history_started ON job_history (job_name, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS watchlists (
		user_id TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`,
}

// Migrate applies the schema statements in order.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i+1, err)
		}
	}
	return nil
}
