package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/catalogarr/catalogarr/internal/models"
)

type ProgramStore struct {
	db *sql.DB
}

func NewProgramStore(db *sql.DB) *ProgramStore {
	return &ProgramStore{db: db}
}

func (s *ProgramStore) BulkUpsert(ctx context.Context, programs []models.Program) error {
	if len(programs) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO programs (provider_id, channel_id, start_ts, stop_ts, doc)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (provider_id, channel_id, start_ts)
			DO UPDATE SET stop_ts = EXCLUDED.stop_ts, doc = EXCLUDED.doc
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range programs {
			doc, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to marshal program: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, p.ProviderID, p.ChannelID, p.StartTS, p.StopTS, doc); err != nil {
				return fmt.Errorf("failed to upsert program: %w", err)
			}
		}
		return nil
	})
}

func (s *ProgramStore) deleteWhere(ctx context.Context, query string, args ...interface{}) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete programs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *ProgramStore) DeleteByProvider(ctx context.Context, providerID string) (int, error) {
	return s.deleteWhere(ctx, `DELETE FROM programs WHERE provider_id = $1`, providerID)
}

func (s *ProgramStore) DeleteByChannel(ctx context.Context, providerID, channelID string) (int, error) {
	return s.deleteWhere(ctx,
		`DELETE FROM programs WHERE provider_id = $1 AND channel_id = $2`, providerID, channelID)
}

func (s *ProgramStore) DeleteEndedBefore(ctx context.Context, ts int64) (int, error) {
	return s.deleteWhere(ctx, `DELETE FROM programs WHERE stop_ts < $1`, ts)
}
