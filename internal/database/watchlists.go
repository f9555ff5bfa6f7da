package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/catalogarr/catalogarr/internal/models"
)

type WatchlistStore struct {
	db *sql.DB
}

func NewWatchlistStore(db *sql.DB) *WatchlistStore {
	return &WatchlistStore{db: db}
}

// scrubRefs removes the given values from one JSON array field across all
// watchlists that reference any of them.
func (s *WatchlistStore) scrubRefs(ctx context.Context, field string, refs []string, strip func(*models.Watchlist, map[string]bool) int) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	drop := make(map[string]bool, len(refs))
	for _, r := range refs {
		drop[r] = true
	}

	removed := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		query := fmt.Sprintf(
			`SELECT user_id, doc FROM watchlists WHERE doc->'%s' ?| $1 FOR UPDATE`, field)
		rows, err := tx.QueryContext(ctx, query, pq.Array(refs))
		if err != nil {
			return fmt.Errorf("failed to query watchlists: %w", err)
		}
		type pending struct {
			userID string
			doc    []byte
		}
		var updates []pending
		for rows.Next() {
			var userID string
			var doc []byte
			if err := rows.Scan(&userID, &doc); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan watchlist: %w", err)
			}
			var w models.Watchlist
			if err := json.Unmarshal(doc, &w); err != nil {
				rows.Close()
				return fmt.Errorf("failed to unmarshal watchlist %s: %w", userID, err)
			}
			removed += strip(&w, drop)
			out, err := json.Marshal(w)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to marshal watchlist %s: %w", userID, err)
			}
			updates = append(updates, pending{userID: userID, doc: out})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, u := range updates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE watchlists SET doc = $1 WHERE user_id = $2`, u.doc, u.userID); err != nil {
				return fmt.Errorf("failed to update watchlist %s: %w", u.userID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *WatchlistStore) RemoveTitleRefs(ctx context.Context, titleKeys []string) (int, error) {
	return s.scrubRefs(ctx, "title_keys", titleKeys, func(w *models.Watchlist, drop map[string]bool) int {
		kept := w.TitleKeys[:0]
		n := 0
		for _, k := range w.TitleKeys {
			if drop[k] {
				n++
				continue
			}
			kept = append(kept, k)
		}
		w.TitleKeys = kept
		return n
	})
}

func (s *WatchlistStore) RemoveChannelRefs(ctx context.Context, channelRefs []string) (int, error) {
	return s.scrubRefs(ctx, "channels", channelRefs, func(w *models.Watchlist, drop map[string]bool) int {
		kept := w.Channels[:0]
		n := 0
		for _, ref := range w.Channels {
			if drop[ref] {
				n++
				continue
			}
			kept = append(kept, ref)
		}
		w.Channels = kept
		return n
	})
}
