package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
)

type TitleStore struct {
	db *sql.DB
}

func NewTitleStore(db *sql.DB) *TitleStore {
	return &TitleStore{db: db}
}

// BulkUpsertSources merges each source into its title inside one
// transaction. Rows are locked before the merge so concurrent flushes
// never lose a source.
func (s *TitleStore) BulkUpsertSources(ctx context.Context, updates []repository.SourceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, u := range updates {
			var doc []byte
			err := tx.QueryRowContext(ctx,
				`SELECT doc FROM titles WHERE key = $1 FOR UPDATE`, u.Key).Scan(&doc)

			var title models.Title
			switch {
			case err == sql.ErrNoRows:
				title = models.Title{
					Key:          u.Key,
					MDBID:        u.MDBID,
					Type:         u.Type,
					DisplayTitle: u.DisplayTitle,
					Meta:         u.Meta,
				}
			case err != nil:
				return fmt.Errorf("failed to lock title %s: %w", u.Key, err)
			default:
				if err := json.Unmarshal(doc, &title); err != nil {
					return fmt.Errorf("failed to unmarshal title %s: %w", u.Key, err)
				}
			}

			mergeSource(&title, u.Source)
			title.UpdatedAt = time.Now().UTC()

			out, err := json.Marshal(title)
			if err != nil {
				return fmt.Errorf("failed to marshal title %s: %w", u.Key, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO titles (key, type, doc, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
			`, title.Key, string(title.Type), out)
			if err != nil {
				return fmt.Errorf("failed to upsert title %s: %w", u.Key, err)
			}
		}
		return nil
	})
}

// mergeSource replaces any existing source from the same provider and
// restores the priority ordering.
func mergeSource(t *models.Title, src models.Source) {
	kept := t.Sources[:0]
	for _, s := range t.Sources {
		if s.ProviderID != src.ProviderID {
			kept = append(kept, s)
		}
	}
	t.Sources = append(kept, src)
	sort.SliceStable(t.Sources, func(i, j int) bool {
		if t.Sources[i].Priority != t.Sources[j].Priority {
			return t.Sources[i].Priority < t.Sources[j].Priority
		}
		return t.Sources[i].ProviderID < t.Sources[j].ProviderID
	})
}

func (s *TitleStore) Get(ctx context.Context, key string) (*models.Title, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM titles WHERE key = $1`, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query title: %w", err)
	}
	var t models.Title
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal title: %w", err)
	}
	return &t, nil
}

func (s *TitleStore) List(ctx context.Context, t models.MediaType) ([]models.Title, error) {
	query := `SELECT doc FROM titles`
	args := []interface{}{}
	if t != "" {
		query += ` WHERE type = $1`
		args = append(args, string(t))
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list titles: %w", err)
	}
	defer rows.Close()

	var out []models.Title
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		var title models.Title
		if err := json.Unmarshal(doc, &title); err != nil {
			return nil, fmt.Errorf("failed to unmarshal title: %w", err)
		}
		out = append(out, title)
	}
	return out, rows.Err()
}

// removeSources strips matching sources from every title that carries one
// from the given provider, optionally restricted by type.
func (s *TitleStore) removeSources(ctx context.Context, providerID string, t models.MediaType) (int, error) {
	match, err := json.Marshal([]map[string]string{{"provider_id": providerID}})
	if err != nil {
		return 0, err
	}

	removed := 0
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `SELECT key, doc FROM titles WHERE doc->'sources' @> $1`
		args := []interface{}{match}
		if t != "" {
			query += ` AND type = $2`
			args = append(args, string(t))
		}
		query += ` FOR UPDATE`

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query titles for provider %s: %w", providerID, err)
		}
		type pending struct {
			key string
			doc []byte
		}
		var updates []pending
		for rows.Next() {
			var key string
			var doc []byte
			if err := rows.Scan(&key, &doc); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan title: %w", err)
			}
			var title models.Title
			if err := json.Unmarshal(doc, &title); err != nil {
				rows.Close()
				return fmt.Errorf("failed to unmarshal title %s: %w", key, err)
			}
			kept := title.Sources[:0]
			for _, src := range title.Sources {
				if src.ProviderID == providerID {
					removed++
					continue
				}
				kept = append(kept, src)
			}
			title.Sources = kept
			title.UpdatedAt = time.Now().UTC()
			out, err := json.Marshal(title)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to marshal title %s: %w", key, err)
			}
			updates = append(updates, pending{key: key, doc: out})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, u := range updates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE titles SET doc = $1, updated_at = now() WHERE key = $2`, u.doc, u.key); err != nil {
				return fmt.Errorf("failed to update title %s: %w", u.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *TitleStore) RemoveSourcesByProvider(ctx context.Context, providerID string) (int, error) {
	return s.removeSources(ctx, providerID, "")
}

func (s *TitleStore) RemoveSourcesByProviderType(ctx context.Context, providerID string, t models.MediaType) (int, error) {
	return s.removeSources(ctx, providerID, t)
}

// RemoveSourceKeys drops one provider's source from the named titles.
func (s *TitleStore) RemoveSourceKeys(ctx context.Context, providerID string, titleKeys []string) (int, error) {
	if len(titleKeys) == 0 {
		return 0, nil
	}
	removed := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, key := range titleKeys {
			var doc []byte
			err := tx.QueryRowContext(ctx,
				`SELECT doc FROM titles WHERE key = $1 FOR UPDATE`, key).Scan(&doc)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to lock title %s: %w", key, err)
			}
			var title models.Title
			if err := json.Unmarshal(doc, &title); err != nil {
				return fmt.Errorf("failed to unmarshal title %s: %w", key, err)
			}
			kept := title.Sources[:0]
			for _, src := range title.Sources {
				if src.ProviderID == providerID {
					removed++
					continue
				}
				kept = append(kept, src)
			}
			title.Sources = kept
			title.UpdatedAt = time.Now().UTC()
			out, err := json.Marshal(title)
			if err != nil {
				return fmt.Errorf("failed to marshal title %s: %w", key, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE titles SET doc = $1, updated_at = now() WHERE key = $2`, out, key); err != nil {
				return fmt.Errorf("failed to update title %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *TitleStore) DeleteEmpty(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM titles
		WHERE jsonb_array_length(COALESCE(doc->'sources', '[]'::jsonb)) = 0
		RETURNING key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to delete empty titles: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan deleted key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *TitleStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM titles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count titles: %w", err)
	}
	return count, nil
}
