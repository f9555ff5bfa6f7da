package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/catalogarr/catalogarr/internal/models"
)

type ChannelStore struct {
	db *sql.DB
}

func NewChannelStore(db *sql.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

func (s *ChannelStore) BulkUpsert(ctx context.Context, channels []models.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO channels (provider_id, channel_id, doc, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (provider_id, channel_id)
			DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range channels {
			doc, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to marshal channel: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, c.ProviderID, c.ChannelID, doc, c.UpdatedAt); err != nil {
				return fmt.Errorf("failed to upsert channel %s: %w", c.ChannelID, err)
			}
		}
		return nil
	})
}

func (s *ChannelStore) ListByProvider(ctx context.Context, providerID string) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM channels WHERE provider_id = $1 ORDER BY channel_id`, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		var c models.Channel
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// refQuery runs a query yielding (provider_id, channel_id) pairs and joins
// them into "{provider_id}/{channel_id}" refs.
func (s *ChannelStore) refQuery(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("channel ref query failed: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var providerID, channelID string
		if err := rows.Scan(&providerID, &channelID); err != nil {
			return nil, fmt.Errorf("failed to scan channel ref: %w", err)
		}
		refs = append(refs, providerID+"/"+channelID)
	}
	return refs, rows.Err()
}

func (s *ChannelStore) DeleteByProvider(ctx context.Context, providerID string) ([]string, error) {
	return s.refQuery(ctx,
		`DELETE FROM channels WHERE provider_id = $1 RETURNING provider_id, channel_id`, providerID)
}

func (s *ChannelStore) ListStale(ctx context.Context, providerID string, before time.Time) ([]string, error) {
	return s.refQuery(ctx,
		`SELECT provider_id, channel_id FROM channels WHERE provider_id = $1 AND updated_at < $2 ORDER BY channel_id`,
		providerID, before)
}

func (s *ChannelStore) DeleteStale(ctx context.Context, providerID string, before time.Time) ([]string, error) {
	return s.refQuery(ctx,
		`DELETE FROM channels WHERE provider_id = $1 AND updated_at < $2 RETURNING provider_id, channel_id`,
		providerID, before)
}
