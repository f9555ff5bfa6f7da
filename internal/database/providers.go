package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
)

type ProviderStore struct {
	db *sql.DB
}

func NewProviderStore(db *sql.DB) *ProviderStore {
	return &ProviderStore{db: db}
}

func (s *ProviderStore) Upsert(ctx context.Context, p models.Provider) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal provider: %w", err)
	}
	query := `
		INSERT INTO providers (id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`
	if _, err := s.db.ExecContext(ctx, query, p.ID, doc); err != nil {
		return fmt.Errorf("failed to upsert provider: %w", err)
	}
	return nil
}

func (s *ProviderStore) Get(ctx context.Context, id string) (*models.Provider, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM providers WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query provider: %w", err)
	}
	var p models.Provider
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider: %w", err)
	}
	return &p, nil
}

func (s *ProviderStore) List(ctx context.Context) ([]models.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var out []models.Provider
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		var p models.Provider
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ProviderStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	return nil
}
