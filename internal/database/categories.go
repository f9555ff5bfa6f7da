package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/catalogarr/catalogarr/internal/models"
)

type CategoryStore struct {
	db *sql.DB
}

func NewCategoryStore(db *sql.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

func (s *CategoryStore) BulkUpsert(ctx context.Context, cats []models.ProviderCategory) error {
	if len(cats) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO provider_categories (provider_id, type, category_id, doc)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (provider_id, type, category_id) DO UPDATE SET doc = EXCLUDED.doc
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range cats {
			doc, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to marshal category: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, c.ProviderID, string(c.Type), c.CategoryID, doc); err != nil {
				return fmt.Errorf("failed to upsert category %s: %w", c.CategoryKey(), err)
			}
		}
		return nil
	})
}

func (s *CategoryStore) ListByProvider(ctx context.Context, providerID string) ([]models.ProviderCategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM provider_categories WHERE provider_id = $1 ORDER BY type, category_id`, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderCategory
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		var c models.ProviderCategory
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CategoryStore) DeleteByProvider(ctx context.Context, providerID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_categories WHERE provider_id = $1`, providerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete categories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
