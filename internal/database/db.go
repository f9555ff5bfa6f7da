// Package database implements the repository contracts on Postgres.
// Entities are stored as JSONB documents beside the key columns the
// queries filter on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/catalogarr/catalogarr/internal/repository"
)

type DB struct {
	*sql.DB
}

// Connect opens a pooled connection and verifies it responds.
func Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func New(dsn string) (*DB, error) {
	db, err := Connect(dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Store builds the full repository set over one connection pool.
func (db *DB) Store() *repository.Store {
	return &repository.Store{
		Providers:      NewProviderStore(db.DB),
		ProviderTitles: NewProviderTitleStore(db.DB),
		Titles:         NewTitleStore(db.DB),
		Categories:     NewCategoryStore(db.DB),
		Channels:       NewChannelStore(db.DB),
		Programs:       NewProgramStore(db.DB),
		Jobs:           NewJobHistoryStore(db.DB),
		Watchlists:     NewWatchlistStore(db.DB),
	}
}

// withTx runs fn inside a transaction, rolling back on error.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
