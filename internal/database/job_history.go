package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/catalogarr/catalogarr/internal/models"
)

type JobHistoryStore struct {
	db *sql.DB
}

func NewJobHistoryStore(db *sql.DB) *JobHistoryStore {
	return &JobHistoryStore{db: db}
}

// Record persists one run, updating it in place as the run progresses.
func (s *JobHistoryStore) Record(ctx context.Context, h models.JobHistory) error {
	doc, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal job history: %w", err)
	}
	query := `
		INSERT INTO job_history (job_name, run_id, status, started_at, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_name, run_id)
		DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc
	`
	if _, err := s.db.ExecContext(ctx, query, h.JobName, h.RunID, string(h.Status), h.StartedAt, doc); err != nil {
		return fmt.Errorf("failed to record job history: %w", err)
	}
	return nil
}

func (s *JobHistoryStore) List(ctx context.Context, jobName string, limit int) ([]models.JobHistory, error) {
	query := `SELECT doc FROM job_history`
	args := []interface{}{}
	if jobName != "" {
		query += ` WHERE job_name = $1`
		args = append(args, jobName)
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args)+1)
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	defer rows.Close()

	var out []models.JobHistory
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan job history: %w", err)
		}
		var h models.JobHistory
		if err := json.Unmarshal(doc, &h); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *JobHistoryStore) LastRuns(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_name, MAX(started_at)
		FROM job_history
		WHERE status = $1
		GROUP BY job_name
	`, string(models.JobCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query last runs: %w", err)
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var name string
		var ts time.Time
		if err := rows.Scan(&name, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan last run: %w", err)
		}
		out[name] = ts
	}
	return out, rows.Err()
}
