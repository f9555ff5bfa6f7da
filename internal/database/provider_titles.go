package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/catalogarr/catalogarr/internal/models"
)

type ProviderTitleStore struct {
	db *sql.DB
}

func NewProviderTitleStore(db *sql.DB) *ProviderTitleStore {
	return &ProviderTitleStore{db: db}
}

// BulkUpsert writes a batch in one transaction so a flush is all-or-nothing.
func (s *ProviderTitleStore) BulkUpsert(ctx context.Context, items []models.ProviderTitle) error {
	if len(items) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO provider_titles (provider_id, title_key, type, doc, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (provider_id, title_key)
			DO UPDATE SET type = EXCLUDED.type, doc = EXCLUDED.doc, updated_at = now()
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, it := range items {
			doc, err := json.Marshal(it)
			if err != nil {
				return fmt.Errorf("failed to marshal provider title: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, it.ProviderID, it.TitleKey, string(it.Type), doc); err != nil {
				return fmt.Errorf("failed to upsert provider title %s: %w", it.TitleKey, err)
			}
		}
		return nil
	})
}

func (s *ProviderTitleStore) ListByProvider(ctx context.Context, providerID string, t models.MediaType) ([]models.ProviderTitle, error) {
	query := `SELECT doc FROM provider_titles WHERE provider_id = $1`
	args := []interface{}{providerID}
	if t != "" {
		query += ` AND type = $2`
		args = append(args, string(t))
	}
	query += ` ORDER BY title_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider titles: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderTitle
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan provider title: %w", err)
		}
		var it models.ProviderTitle
		if err := json.Unmarshal(doc, &it); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider title: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *ProviderTitleStore) DeleteByProvider(ctx context.Context, providerID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM provider_titles WHERE provider_id = $1`, providerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provider titles: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *ProviderTitleStore) DeleteByProviderType(ctx context.Context, providerID string, t models.MediaType) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_titles WHERE provider_id = $1 AND type = $2`, providerID, string(t))
	if err != nil {
		return 0, fmt.Errorf("failed to delete provider titles: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetLastUpdated zeroes the sync marker inside the stored document and
// the row timestamp, so the next sync treats every title as unseen.
func (s *ProviderTitleStore) ResetLastUpdated(ctx context.Context, providerID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provider_titles
		SET doc = jsonb_set(doc, '{last_updated}', '"0001-01-01T00:00:00Z"'),
		    updated_at = to_timestamp(0)
		WHERE provider_id = $1
	`, providerID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset provider titles: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *ProviderTitleStore) DeleteKeys(ctx context.Context, providerID string, titleKeys []string) (int, error) {
	if len(titleKeys) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_titles WHERE provider_id = $1 AND title_key = ANY($2)`,
		providerID, pq.Array(titleKeys))
	if err != nil {
		return 0, fmt.Errorf("failed to delete provider titles: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
