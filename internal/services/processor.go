package services

import (
	"context"
	"fmt"
	"time"

	"github.com/catalogarr/catalogarr/internal/logging"
	"github.com/catalogarr/catalogarr/internal/matching"
	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/providers"
	"github.com/catalogarr/catalogarr/internal/repository"
)

// cancelCheckEvery bounds how many items a sync processes between
// cancellation checks.
const cancelCheckEvery = 100

// Processor runs the per-provider sync pipeline: enumerate, clean, match,
// stage. It is shared by both adapter variants; the adapter is the only
// kind-specific part.
type Processor struct {
	saver   *Saver
	matcher *matching.Matcher
	store   *repository.Store
}

func NewProcessor(saver *Saver, matcher *matching.Matcher, store *repository.Store) *Processor {
	return &Processor{saver: saver, matcher: matcher, store: store}
}

// SyncCategories stages every provider-native category of the provider's
// enabled types.
func (p *Processor) SyncCategories(ctx context.Context, provider models.Provider, adapter providers.Adapter) (models.JobResult, error) {
	var result models.JobResult
	for _, t := range []models.MediaType{models.MediaMovies, models.MediaTVShows, models.MediaLive} {
		if !provider.TypeEnabled(t) {
			continue
		}
		cats, err := adapter.FetchCategories(ctx, t)
		if err != nil {
			return result, fmt.Errorf("fetch %s categories: %w", t, err)
		}
		for _, c := range cats {
			p.saver.StageCategory(models.ProviderCategory{
				ProviderID: provider.ID,
				Type:       c.Type,
				CategoryID: c.ID,
				Name:       c.Name,
			})
			result.ItemsFound++
		}
	}
	return result, nil
}

// SyncTitles enumerates one provider's catalog of type t, matches every
// item and stages the results. After a complete enumeration, provider
// titles absent from the run are pruned.
func (p *Processor) SyncTitles(ctx context.Context, provider models.Provider, adapter providers.Adapter, t models.MediaType) (models.JobResult, error) {
	var result models.JobResult
	if !provider.TypeEnabled(t) {
		return result, nil
	}
	log := logging.Component("sync").With().
		Str("provider", provider.ID).Str("type", string(t)).Logger()

	if _, err := p.SyncCategories(ctx, provider, adapter); err != nil {
		return result, err
	}

	seen := map[string]bool{}
	count := 0
	err := adapter.FetchTitles(ctx, t, func(raw providers.RawTitle) error {
		count++
		if count%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !provider.CategoryAllowed(t, raw.CategoryID) {
			return nil
		}
		result.ItemsFound++

		match, err := p.matcher.Match(ctx, raw)
		if err != nil {
			// An upstream outage mid-run; count it and keep going unless
			// the run itself was cancelled.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Errors++
			log.Warn().Err(err).Str("item", raw.ProviderItemID).Msg("match failed")
			return nil
		}

		pt := models.ProviderTitle{
			ProviderID:     provider.ID,
			ProviderItemID: raw.ProviderItemID,
			Type:           t,
			CleanTitle:     raw.CleanName,
			Year:           raw.Year,
			CategoryID:     raw.CategoryID,
			Streams:        raw.Streams,
			SearchedName:   match.SearchedName,
			LastUpdated:    time.Now().UTC(),
		}

		if match.Matched() {
			meta := *match.Meta
			pt.TitleKey = models.TitleKey(t, meta.ID)
			pt.MDBID = &meta.ID
			result.Matched++

			p.saver.StageSource(repository.SourceUpdate{
				Key:          pt.TitleKey,
				MDBID:        meta.ID,
				Type:         t,
				DisplayTitle: meta.Title,
				Meta:         meta,
				Source: models.Source{
					ProviderID: provider.ID,
					Priority:   provider.Priority,
					Streams:    raw.Streams,
				},
			})
		} else {
			pt.TitleKey = models.PlaceholderTitleKey(t, raw.ProviderItemID)
			pt.IgnoredReason = matching.ReasonNoMatch
			result.Ignored++
		}

		seen[pt.TitleKey] = true
		p.saver.StageProviderTitle(pt)
		return nil
	})
	if err != nil {
		return result, err
	}

	if result.ItemsFound > 0 && result.Errors*2 > result.ItemsFound {
		return result, fmt.Errorf("too many item failures: %d of %d", result.Errors, result.ItemsFound)
	}

	deleted, err := p.pruneStale(ctx, provider.ID, t, seen)
	if err != nil {
		return result, err
	}
	result.Deleted = deleted
	result.ProvidersSeen = 1
	return result, nil
}

// pruneStale removes provider titles that a complete enumeration no longer
// produced, along with their contribution to the unified catalog.
func (p *Processor) pruneStale(ctx context.Context, providerID string, t models.MediaType, seen map[string]bool) (int, error) {
	existing, err := p.store.ProviderTitles.ListByProvider(ctx, providerID, t)
	if err != nil {
		return 0, err
	}
	var stale, staleMatched []string
	for _, pt := range existing {
		if seen[pt.TitleKey] {
			continue
		}
		stale = append(stale, pt.TitleKey)
		if pt.MDBID != nil {
			staleMatched = append(staleMatched, pt.TitleKey)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := p.store.ProviderTitles.DeleteKeys(ctx, providerID, stale)
	if err != nil {
		return 0, err
	}
	if len(staleMatched) > 0 {
		if _, err := p.store.Titles.RemoveSourceKeys(ctx, providerID, staleMatched); err != nil {
			return n, err
		}
	}
	return n, nil
}

// SyncLive refreshes a provider's channel list. Channels missing from the
// refresh are removed, with their programs and watchlist references.
func (p *Processor) SyncLive(ctx context.Context, provider models.Provider, adapter providers.Adapter) (models.JobResult, error) {
	var result models.JobResult
	if !provider.TypeEnabled(models.MediaLive) {
		return result, nil
	}
	started := time.Now().UTC()

	channels, err := adapter.FetchChannels(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch channels: %w", err)
	}
	kept := channels[:0]
	for _, c := range channels {
		if !provider.CategoryAllowed(models.MediaLive, c.CategoryID) {
			continue
		}
		kept = append(kept, c)
	}
	if err := p.store.Channels.BulkUpsert(ctx, kept); err != nil {
		return result, err
	}
	result.ItemsFound = len(kept)

	// Programs reference channels, so they go first.
	refs, err := p.store.Channels.ListStale(ctx, provider.ID, started)
	if err != nil {
		return result, err
	}
	for _, ref := range refs {
		if _, err := p.store.Programs.DeleteByChannel(ctx, provider.ID, channelIDFromRef(ref)); err != nil {
			return result, err
		}
	}
	if _, err := p.store.Channels.DeleteStale(ctx, provider.ID, started); err != nil {
		return result, err
	}
	if len(refs) > 0 {
		if _, err := p.store.Watchlists.RemoveChannelRefs(ctx, refs); err != nil {
			return result, err
		}
	}
	result.Deleted = len(refs)
	result.ProvidersSeen = 1
	return result, nil
}

func channelIDFromRef(ref string) string {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return ref[i+1:]
		}
	}
	return ref
}
