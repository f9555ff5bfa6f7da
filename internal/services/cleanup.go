package services

import (
	"context"
	"time"

	"github.com/catalogarr/catalogarr/internal/logging"
	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
)

// programRetention is how long finished EPG entries are kept.
const programRetention = 24 * time.Hour

// Cleanup removes the data a provider configuration change invalidated.
// Deletions run in dependency order: programs before their channels,
// provider titles before the unified titles built from them, and watchlist
// references last.
type Cleanup struct {
	store *repository.Store
}

func NewCleanup(store *repository.Store) *Cleanup {
	return &Cleanup{store: store}
}

// ProviderRemoved erases every trace of a provider, its configuration
// record included.
func (c *Cleanup) ProviderRemoved(ctx context.Context, providerID string) (models.JobResult, error) {
	log := logging.Component("cleanup").With().Str("provider", providerID).Logger()

	result, err := c.purgeProviderData(ctx, providerID)
	if err != nil {
		return result, err
	}
	if err := c.store.Providers.Delete(ctx, providerID); err != nil {
		return result, err
	}

	log.Info().Int("deleted", result.Deleted).Msg("provider removed")
	return result, nil
}

// ProviderDisabled removes a disabled provider's data but keeps its
// configuration record, so re-enabling starts from a clean slate.
func (c *Cleanup) ProviderDisabled(ctx context.Context, providerID string) (models.JobResult, error) {
	log := logging.Component("cleanup").With().Str("provider", providerID).Logger()

	result, err := c.purgeProviderData(ctx, providerID)
	if err != nil {
		return result, err
	}
	if result.Deleted > 0 {
		log.Info().Int("deleted", result.Deleted).Msg("disabled provider swept")
	}
	return result, nil
}

// purgeProviderData deletes everything the provider contributed, in
// dependency order.
func (c *Cleanup) purgeProviderData(ctx context.Context, providerID string) (models.JobResult, error) {
	var result models.JobResult

	if n, err := c.store.Programs.DeleteByProvider(ctx, providerID); err != nil {
		return result, err
	} else {
		result.Deleted += n
	}

	refs, err := c.store.Channels.DeleteByProvider(ctx, providerID)
	if err != nil {
		return result, err
	}
	result.Deleted += len(refs)

	if n, err := c.store.ProviderTitles.DeleteByProvider(ctx, providerID); err != nil {
		return result, err
	} else {
		result.Deleted += n
	}
	if n, err := c.store.Categories.DeleteByProvider(ctx, providerID); err != nil {
		return result, err
	} else {
		result.Deleted += n
	}
	if _, err := c.store.Titles.RemoveSourcesByProvider(ctx, providerID); err != nil {
		return result, err
	}

	emptied, err := c.scrubEmptyTitles(ctx)
	if err != nil {
		return result, err
	}
	result.Deleted += emptied

	if len(refs) > 0 {
		if _, err := c.store.Watchlists.RemoveChannelRefs(ctx, refs); err != nil {
			return result, err
		}
	}
	return result, nil
}

// TypeDisabled removes one media type's data for a provider.
func (c *Cleanup) TypeDisabled(ctx context.Context, providerID string, t models.MediaType) (models.JobResult, error) {
	var result models.JobResult

	if t == models.MediaLive {
		if n, err := c.store.Programs.DeleteByProvider(ctx, providerID); err != nil {
			return result, err
		} else {
			result.Deleted += n
		}
		refs, err := c.store.Channels.DeleteByProvider(ctx, providerID)
		if err != nil {
			return result, err
		}
		result.Deleted += len(refs)
		if len(refs) > 0 {
			if _, err := c.store.Watchlists.RemoveChannelRefs(ctx, refs); err != nil {
				return result, err
			}
		}
		return result, nil
	}

	n, err := c.store.ProviderTitles.DeleteByProviderType(ctx, providerID, t)
	if err != nil {
		return result, err
	}
	result.Deleted += n

	if _, err := c.store.Titles.RemoveSourcesByProviderType(ctx, providerID, t); err != nil {
		return result, err
	}
	emptied, err := c.scrubEmptyTitles(ctx)
	if err != nil {
		return result, err
	}
	result.Deleted += emptied
	return result, nil
}

// CategoriesNarrowed drops the catalog entries that fell outside a
// provider's enabled-category sets. Live channels are reconciled by the
// next live sync, which prunes anything it no longer upserts.
func (c *Cleanup) CategoriesNarrowed(ctx context.Context, provider models.Provider) (models.JobResult, error) {
	var result models.JobResult
	for _, t := range models.CatalogTypes {
		if !provider.TypeEnabled(t) {
			continue
		}
		existing, err := c.store.ProviderTitles.ListByProvider(ctx, provider.ID, t)
		if err != nil {
			return result, err
		}
		var drop, dropMatched []string
		for _, pt := range existing {
			if provider.CategoryAllowed(t, pt.CategoryID) {
				continue
			}
			drop = append(drop, pt.TitleKey)
			if pt.MDBID != nil {
				dropMatched = append(dropMatched, pt.TitleKey)
			}
		}
		if len(drop) == 0 {
			continue
		}
		n, err := c.store.ProviderTitles.DeleteKeys(ctx, provider.ID, drop)
		if err != nil {
			return result, err
		}
		result.Deleted += n
		if len(dropMatched) > 0 {
			if _, err := c.store.Titles.RemoveSourceKeys(ctx, provider.ID, dropMatched); err != nil {
				return result, err
			}
		}
	}

	emptied, err := c.scrubEmptyTitles(ctx)
	if err != nil {
		return result, err
	}
	result.Deleted += emptied
	return result, nil
}

// scrubEmptyTitles deletes titles whose source list drained and removes
// their watchlist references.
func (c *Cleanup) scrubEmptyTitles(ctx context.Context) (int, error) {
	keys, err := c.store.Titles.DeleteEmpty(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) > 0 {
		if _, err := c.store.Watchlists.RemoveTitleRefs(ctx, keys); err != nil {
			return len(keys), err
		}
	}
	return len(keys), nil
}

// Reconcile is the periodic sweep: it applies every provider's current
// configuration to the stored data and expires old programs.
func (c *Cleanup) Reconcile(ctx context.Context) (models.JobResult, error) {
	var result models.JobResult
	provs, err := c.store.Providers.List(ctx)
	if err != nil {
		return result, err
	}
	for _, p := range provs {
		result.ProvidersSeen++
		if p.Deleted {
			r, err := c.ProviderRemoved(ctx, p.ID)
			result.Deleted += r.Deleted
			if err != nil {
				return result, err
			}
			continue
		}
		// A disabled provider's data goes too; only its record stays.
		if !p.Enabled {
			r, err := c.ProviderDisabled(ctx, p.ID)
			result.Deleted += r.Deleted
			if err != nil {
				return result, err
			}
			continue
		}
		for _, t := range []models.MediaType{models.MediaMovies, models.MediaTVShows, models.MediaLive} {
			if p.TypeEnabled(t) {
				continue
			}
			r, err := c.TypeDisabled(ctx, p.ID, t)
			result.Deleted += r.Deleted
			if err != nil {
				return result, err
			}
		}
		r, err := c.CategoriesNarrowed(ctx, p)
		result.Deleted += r.Deleted
		if err != nil {
			return result, err
		}
	}

	expired, err := c.store.Programs.DeleteEndedBefore(ctx, time.Now().Add(-programRetention).Unix())
	if err != nil {
		return result, err
	}
	result.Deleted += expired
	return result, nil
}
