package services

import (
	"context"
	"errors"
	"time"

	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/logging"
	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/providers"
	"github.com/catalogarr/catalogarr/internal/repository"
)

// Job names. The ops API triggers and cancels jobs by these names.
const (
	JobSyncTitles     = "sync-titles"
	JobSyncCategories = "sync-categories"
	JobSyncLive       = "sync-live"
	JobCleanup        = "cleanup"
	JobCachePurge     = "cache-purge"
	JobMetricsRefresh = "metrics-refresh"
)

// defaultCadences apply when the configuration does not override a job.
var defaultCadences = map[string]time.Duration{
	JobSyncTitles:     1 * time.Hour,
	JobSyncCategories: 1 * time.Hour,
	JobSyncLive:       6 * time.Hour,
	JobCleanup:        30 * time.Minute,
	JobCachePurge:     diskcache.DefaultPurgeInterval,
	JobMetricsRefresh: 1 * time.Minute,
}

// Jobs wires the sync pipeline into the scheduler's job table.
type Jobs struct {
	store     *repository.Store
	processor *Processor
	cleanup   *Cleanup
	purger    *diskcache.Purger
	fetcher   *fetch.Client
	cache     *diskcache.Store
	scheduler *Scheduler
}

func NewJobs(store *repository.Store, processor *Processor, cleanup *Cleanup, purger *diskcache.Purger, fetcher *fetch.Client, cache *diskcache.Store) *Jobs {
	return &Jobs{
		store:     store,
		processor: processor,
		cleanup:   cleanup,
		purger:    purger,
		fetcher:   fetcher,
		cache:     cache,
	}
}

// Register adds every job to the scheduler, with cadence overrides from
// the configuration.
func (j *Jobs) Register(s *Scheduler, cadences map[string]time.Duration) {
	j.scheduler = s
	interval := func(name string) time.Duration {
		if d, ok := cadences[name]; ok && d > 0 {
			return d
		}
		return defaultCadences[name]
	}
	s.Register(Job{Name: JobSyncTitles, Interval: interval(JobSyncTitles), Run: j.syncTitles})
	s.Register(Job{Name: JobSyncCategories, Interval: interval(JobSyncCategories), Run: j.syncCategories})
	s.Register(Job{Name: JobSyncLive, Interval: interval(JobSyncLive), Run: j.syncLive})
	s.Register(Job{Name: JobCleanup, Interval: interval(JobCleanup), Run: j.runCleanup})
	s.Register(Job{Name: JobCachePurge, Interval: interval(JobCachePurge), Run: j.purgeCache})
	s.Register(Job{Name: JobMetricsRefresh, Interval: interval(JobMetricsRefresh), Run: j.refreshMetrics})
}

// activeProviders lists the providers a sync job should visit. A non-empty
// scope narrows the list to that one provider.
func (j *Jobs) activeProviders(ctx context.Context, scope string) ([]models.Provider, error) {
	provs, err := j.store.Providers.List(ctx)
	if err != nil {
		return nil, err
	}
	active := provs[:0]
	for _, p := range provs {
		if !p.Enabled || p.Deleted {
			continue
		}
		if scope != "" && p.ID != scope {
			continue
		}
		active = append(active, p)
	}
	return active, nil
}

// forEachProvider runs fn per active provider, aggregating counters. A
// single provider's failure does not abort the others; cancellation does.
func (j *Jobs) forEachProvider(ctx context.Context, scope string, fn func(ctx context.Context, p models.Provider, a providers.Adapter) (models.JobResult, error)) (models.JobResult, error) {
	var total models.JobResult
	provs, err := j.activeProviders(ctx, scope)
	if err != nil {
		return total, err
	}
	log := logging.Component("jobs")
	for _, p := range provs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		adapter, err := providers.New(p, j.fetcher, j.cache)
		if err != nil {
			log.Error().Err(err).Str("provider", p.ID).Msg("adapter construction failed")
			total.Errors++
			continue
		}
		r, err := fn(ctx, p, adapter)
		total.ProvidersSeen++
		total.ItemsFound += r.ItemsFound
		total.Matched += r.Matched
		total.Ignored += r.Ignored
		total.Deleted += r.Deleted
		total.Errors += r.Errors
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			log.Error().Err(err).Str("provider", p.ID).Msg("provider sync failed")
			total.Errors++
		}
	}
	return total, nil
}

func (j *Jobs) syncTitles(ctx context.Context, scope string) (models.JobResult, error) {
	return j.forEachProvider(ctx, scope, func(ctx context.Context, p models.Provider, a providers.Adapter) (models.JobResult, error) {
		var total models.JobResult
		for _, t := range models.CatalogTypes {
			r, err := j.processor.SyncTitles(ctx, p, a, t)
			total.ItemsFound += r.ItemsFound
			total.Matched += r.Matched
			total.Ignored += r.Ignored
			total.Deleted += r.Deleted
			total.Errors += r.Errors
			if err != nil {
				return total, err
			}
		}
		return total, nil
	})
}

func (j *Jobs) syncCategories(ctx context.Context, scope string) (models.JobResult, error) {
	return j.forEachProvider(ctx, scope, func(ctx context.Context, p models.Provider, a providers.Adapter) (models.JobResult, error) {
		return j.processor.SyncCategories(ctx, p, a)
	})
}

func (j *Jobs) syncLive(ctx context.Context, scope string) (models.JobResult, error) {
	return j.forEachProvider(ctx, scope, func(ctx context.Context, p models.Provider, a providers.Adapter) (models.JobResult, error) {
		return j.processor.SyncLive(ctx, p, a)
	})
}

func (j *Jobs) runCleanup(ctx context.Context, _ string) (models.JobResult, error) {
	result, err := j.cleanup.Reconcile(ctx)
	if err != nil {
		return result, err
	}
	// A sweep that removed data may have left gaps the syncs should refill.
	if result.Deleted > 0 && j.scheduler != nil {
		if err := j.scheduler.Trigger(JobSyncTitles); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			return result, err
		}
		if err := j.scheduler.Trigger(JobSyncLive); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			return result, err
		}
	}
	return result, nil
}

func (j *Jobs) purgeCache(ctx context.Context, _ string) (models.JobResult, error) {
	removed, err := j.purger.RunOnce()
	return models.JobResult{Deleted: removed}, err
}

// refreshMetrics logs catalog gauges; cheap enough to run every minute.
func (j *Jobs) refreshMetrics(ctx context.Context, _ string) (models.JobResult, error) {
	count, err := j.store.Titles.Count(ctx)
	if err != nil {
		return models.JobResult{}, err
	}
	log := logging.Component("metrics")
	log.Debug().Int("titles", count).Msg("catalog size")
	return models.JobResult{ItemsFound: count}, nil
}
