package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/catalogarr/catalogarr/internal/logging"
	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
)

const (
	// DefaultFlushInterval is the cadence of the background flush loop.
	DefaultFlushInterval = 5 * time.Second
	// maxFlushFailures is how many consecutive flush failures are tolerated
	// before the saver reports itself broken.
	maxFlushFailures = 5
)

// ErrSaverBroken is returned once flushing has failed too many times in a
// row; staged writes are still retained.
var ErrSaverBroken = fmt.Errorf("saver: too many consecutive flush failures")

// Saver batches writes from concurrent sync jobs and flushes them
// periodically, one bulk request per collection. Staging dedupes by entity
// key, so re-staging the same record is idempotent and the newest staged
// version wins.
type Saver struct {
	store    *repository.Store
	interval time.Duration

	mu         sync.Mutex
	categories map[string]models.ProviderCategory // provider_id + category key
	titles     map[string]models.ProviderTitle    // provider_id + title_key
	sources    map[string]repository.SourceUpdate // title key + provider_id
	failures   int
}

func NewSaver(store *repository.Store, interval time.Duration) *Saver {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Saver{
		store:      store,
		interval:   interval,
		categories: map[string]models.ProviderCategory{},
		titles:     map[string]models.ProviderTitle{},
		sources:    map[string]repository.SourceUpdate{},
	}
}

// StageCategory queues a category upsert.
func (s *Saver) StageCategory(c models.ProviderCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ProviderID+"/"+c.CategoryKey()] = c
}

// StageProviderTitle queues a provider title upsert.
func (s *Saver) StageProviderTitle(t models.ProviderTitle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[t.ProviderID+"/"+t.TitleKey] = t
}

// StageSource queues a unified-title source merge.
func (s *Saver) StageSource(u repository.SourceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[u.Key+"/"+u.Source.ProviderID] = u
}

// Pending reports how many staged writes await the next flush.
func (s *Saver) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.categories) + len(s.titles) + len(s.sources)
}

// take detaches the current staging maps so staging can continue while a
// flush is in flight.
func (s *Saver) take() (map[string]models.ProviderCategory, map[string]models.ProviderTitle, map[string]repository.SourceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats, titles, sources := s.categories, s.titles, s.sources
	s.categories = map[string]models.ProviderCategory{}
	s.titles = map[string]models.ProviderTitle{}
	s.sources = map[string]repository.SourceUpdate{}
	return cats, titles, sources
}

// restore puts an unflushed batch back without clobbering entries staged
// while the failed flush ran; the newer staged version wins.
func (s *Saver) restore(cats map[string]models.ProviderCategory, titles map[string]models.ProviderTitle, sources map[string]repository.SourceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range cats {
		if _, ok := s.categories[k]; !ok {
			s.categories[k] = v
		}
	}
	for k, v := range titles {
		if _, ok := s.titles[k]; !ok {
			s.titles[k] = v
		}
	}
	for k, v := range sources {
		if _, ok := s.sources[k]; !ok {
			s.sources[k] = v
		}
	}
}

// Flush writes staged entities in dependency order: categories before the
// provider titles that reference them, provider titles before the unified
// titles built from them. A failed flush keeps the batch for the next tick.
func (s *Saver) Flush(ctx context.Context) error {
	cats, titles, sources := s.take()
	if len(cats) == 0 && len(titles) == 0 && len(sources) == 0 {
		return nil
	}

	err := s.flushBatch(ctx, cats, titles, sources)
	s.mu.Lock()
	if err != nil {
		s.failures++
	} else {
		s.failures = 0
	}
	broken := s.failures >= maxFlushFailures
	s.mu.Unlock()

	if err != nil {
		s.restore(cats, titles, sources)
		if broken {
			return fmt.Errorf("%w: %v", ErrSaverBroken, err)
		}
		return err
	}
	return nil
}

func (s *Saver) flushBatch(ctx context.Context, cats map[string]models.ProviderCategory, titles map[string]models.ProviderTitle, sources map[string]repository.SourceUpdate) error {
	if len(cats) > 0 {
		batch := make([]models.ProviderCategory, 0, len(cats))
		for _, c := range cats {
			batch = append(batch, c)
		}
		if err := s.store.Categories.BulkUpsert(ctx, batch); err != nil {
			return fmt.Errorf("flush categories: %w", err)
		}
	}
	if len(titles) > 0 {
		batch := make([]models.ProviderTitle, 0, len(titles))
		for _, t := range titles {
			batch = append(batch, t)
		}
		if err := s.store.ProviderTitles.BulkUpsert(ctx, batch); err != nil {
			return fmt.Errorf("flush provider titles: %w", err)
		}
	}
	if len(sources) > 0 {
		batch := make([]repository.SourceUpdate, 0, len(sources))
		for _, u := range sources {
			batch = append(batch, u)
		}
		if err := s.store.Titles.BulkUpsertSources(ctx, batch); err != nil {
			return fmt.Errorf("flush title sources: %w", err)
		}
	}
	return nil
}

// Run flushes on a fixed cadence until ctx is cancelled, then performs one
// final drain so shutdown loses nothing already staged.
func (s *Saver) Run(ctx context.Context) {
	log := logging.Component("saver")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.Flush(drainCtx); err != nil {
				log.Error().Err(err).Msg("final flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				log.Error().Err(err).Int("pending", s.Pending()).Msg("flush failed, batch retained")
			}
		}
	}
}
