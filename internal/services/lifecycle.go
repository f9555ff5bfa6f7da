package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/logging"
	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
)

// Action is a provider lifecycle event. The set is sealed; anything else
// is rejected with ErrUnknownAction.
type Action string

const (
	ActionCreated           Action = "created"
	ActionUpdated           Action = "updated"
	ActionDeleted           Action = "deleted"
	ActionEnabled           Action = "enabled"
	ActionDisabled          Action = "disabled"
	ActionCategoriesChanged Action = "categories-changed"
)

var (
	ErrUnknownAction   = errors.New("unknown lifecycle action")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingProvider = errors.New("event carries no provider document")
)

// Event is one provider lifecycle notification from the outer surface.
type Event struct {
	Action     Action           `json:"action"`
	ProviderID string           `json:"provider_id"`
	Provider   *models.Provider `json:"provider,omitempty"`
}

// Lifecycle applies provider configuration changes: it persists the new
// state, keeps the fetch buckets in step, invalidates the provider's
// cached upstream responses and re-triggers the affected jobs.
type Lifecycle struct {
	store     *repository.Store
	fetcher   *fetch.Client
	cache     *diskcache.Store
	scheduler *Scheduler
}

func NewLifecycle(store *repository.Store, fetcher *fetch.Client, cache *diskcache.Store, scheduler *Scheduler) *Lifecycle {
	return &Lifecycle{store: store, fetcher: fetcher, cache: cache, scheduler: scheduler}
}

// RegisterBuckets installs a rate-limit bucket per enabled provider.
// Called once at startup.
func (l *Lifecycle) RegisterBuckets(ctx context.Context) error {
	provs, err := l.store.Providers.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range provs {
		if p.Enabled && !p.Deleted {
			l.fetcher.RegisterBucket(p.ID, p.RateLimit.Concurrency, p.RateLimit.WindowSec)
		}
	}
	return nil
}

// HandleEvent applies one lifecycle event.
func (l *Lifecycle) HandleEvent(ctx context.Context, ev Event) error {
	log := logging.Component("lifecycle").With().
		Str("action", string(ev.Action)).Str("provider", ev.ProviderID).Logger()

	switch ev.Action {
	case ActionCreated, ActionUpdated, ActionCategoriesChanged:
		if ev.Provider == nil {
			return ErrMissingProvider
		}
		if ev.Action != ActionCreated {
			if _, err := l.mustGet(ctx, ev.Provider.ID); err != nil {
				return err
			}
		}
		if err := l.store.Providers.Upsert(ctx, *ev.Provider); err != nil {
			return err
		}
		l.applyBucket(*ev.Provider)
		l.invalidateCache(ev.Provider.ID)
		if ev.Action != ActionCreated {
			// A narrowed configuration may have stranded data.
			l.trigger(JobCleanup)
		}
		l.triggerSyncs(*ev.Provider)

	case ActionDeleted:
		p, err := l.mustGet(ctx, ev.ProviderID)
		if err != nil {
			return err
		}
		p.Deleted = true
		p.Enabled = false
		if err := l.store.Providers.Upsert(ctx, *p); err != nil {
			return err
		}
		l.fetcher.DropBucket(p.ID)
		l.invalidateCache(p.ID)
		l.trigger(JobCleanup)

	case ActionEnabled, ActionDisabled:
		p, err := l.mustGet(ctx, ev.ProviderID)
		if err != nil {
			return err
		}
		p.Enabled = ev.Action == ActionEnabled
		if err := l.store.Providers.Upsert(ctx, *p); err != nil {
			return err
		}
		if p.Enabled {
			l.applyBucket(*p)
			// Clearing the sync marker makes the next run re-match every
			// title the provider had before it was disabled.
			if _, err := l.store.ProviderTitles.ResetLastUpdated(ctx, p.ID); err != nil {
				return err
			}
			l.triggerSyncs(*p)
		} else {
			l.fetcher.DropBucket(p.ID)
			l.trigger(JobCleanup)
		}

	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}

	log.Info().Msg("lifecycle event applied")
	return nil
}

func (l *Lifecycle) mustGet(ctx context.Context, id string) (*models.Provider, error) {
	p, err := l.store.Providers.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, err
}

func (l *Lifecycle) applyBucket(p models.Provider) {
	if p.Enabled && !p.Deleted {
		l.fetcher.RegisterBucket(p.ID, p.RateLimit.Concurrency, p.RateLimit.WindowSec)
	}
}

// invalidateCache drops the provider's cached upstream responses so the
// next sync refetches with the new configuration.
func (l *Lifecycle) invalidateCache(providerID string) {
	_ = l.cache.DeletePrefix("m3u/" + providerID)
	_ = l.cache.DeletePrefix("xtream/" + providerID)
}

func (l *Lifecycle) trigger(job string, scope ...string) {
	if l.scheduler == nil {
		return
	}
	if err := l.scheduler.Trigger(job, scope...); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		log := logging.Component("lifecycle")
		log.Warn().Err(err).Str("job", job).Msg("trigger failed")
	}
}

// triggerSyncs queues the provider's sync jobs, scoped so other providers
// are not re-enumerated off cadence.
func (l *Lifecycle) triggerSyncs(p models.Provider) {
	if !p.Enabled || p.Deleted {
		return
	}
	if p.SyncMovies || p.SyncTVShows {
		l.trigger(JobSyncTitles, p.ID)
		l.trigger(JobSyncCategories, p.ID)
	}
	if p.SyncLive {
		l.trigger(JobSyncLive, p.ID)
	}
}
