package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
	"github.com/catalogarr/catalogarr/internal/repository/memory"
)

// seedProviderData loads one provider's worth of catalog and live data.
func seedProviderData(t *testing.T, store *repository.Store, providerID string) {
	t.Helper()
	ctx := context.Background()
	mdbID := int64(603)

	require.NoError(t, store.Providers.Upsert(ctx, models.Provider{
		ID: providerID, Enabled: true, SyncMovies: true, SyncTVShows: true, SyncLive: true,
	}))
	require.NoError(t, store.Categories.BulkUpsert(ctx, []models.ProviderCategory{
		{ProviderID: providerID, Type: models.MediaMovies, CategoryID: "c1", Name: "Action"},
	}))
	require.NoError(t, store.ProviderTitles.BulkUpsert(ctx, []models.ProviderTitle{
		{ProviderID: providerID, TitleKey: "movies-603", Type: models.MediaMovies, MDBID: &mdbID, CategoryID: "c1"},
		{ProviderID: providerID, TitleKey: "tvshows-raw-x", Type: models.MediaTVShows},
	}))
	require.NoError(t, store.Titles.BulkUpsertSources(ctx, []repository.SourceUpdate{{
		Key: "movies-603", MDBID: mdbID, Type: models.MediaMovies, DisplayTitle: "The Matrix",
		Source: models.Source{ProviderID: providerID, Priority: 1},
	}}))
	require.NoError(t, store.Channels.BulkUpsert(ctx, []models.Channel{
		{ProviderID: providerID, ChannelID: "cnn", Name: "CNN", UpdatedAt: time.Now()},
	}))
	require.NoError(t, store.Programs.BulkUpsert(ctx, []models.Program{
		{ProviderID: providerID, ChannelID: "cnn", StartTS: 1, StopTS: 2, Title: "News"},
	}))
}

func TestProviderRemovedCascades(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seedProviderData(t, store, "p1")
	seedProviderData(t, store, "p2")

	wl := store.Watchlists.(*memory.WatchlistRepo)
	wl.Put(models.Watchlist{
		UserID:    "u1",
		TitleKeys: []string{"movies-603"},
		Channels:  []string{"p1/cnn", "p2/cnn"},
	})

	_, err := NewCleanup(store).ProviderRemoved(ctx, "p1")
	require.NoError(t, err)

	_, err = store.Providers.Get(ctx, "p1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	pts, err := store.ProviderTitles.ListByProvider(ctx, "p1", "")
	require.NoError(t, err)
	assert.Empty(t, pts)

	cats, err := store.Categories.ListByProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, cats)

	channels, err := store.Channels.ListByProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, channels)

	// p2 still contributes a source, so the unified title survives and the
	// watchlist keeps its reference.
	title, err := store.Titles.Get(ctx, "movies-603")
	require.NoError(t, err)
	require.Len(t, title.Sources, 1)
	assert.Equal(t, "p2", title.Sources[0].ProviderID)

	got, _ := wl.Get("u1")
	assert.Equal(t, []string{"movies-603"}, got.TitleKeys)
	assert.Equal(t, []string{"p2/cnn"}, got.Channels, "only the removed provider's channel ref is scrubbed")
}

func TestProviderRemovedScrubsEmptyTitles(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seedProviderData(t, store, "p1")

	wl := store.Watchlists.(*memory.WatchlistRepo)
	wl.Put(models.Watchlist{UserID: "u1", TitleKeys: []string{"movies-603", "movies-604"}})

	_, err := NewCleanup(store).ProviderRemoved(ctx, "p1")
	require.NoError(t, err)

	_, err = store.Titles.Get(ctx, "movies-603")
	assert.ErrorIs(t, err, repository.ErrNotFound, "a title with no sources left is deleted")

	got, _ := wl.Get("u1")
	assert.Equal(t, []string{"movies-604"}, got.TitleKeys)
}

func TestTypeDisabledCatalog(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seedProviderData(t, store, "p1")

	result, err := NewCleanup(store).TypeDisabled(ctx, "p1", models.MediaMovies)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted, "one provider title plus the emptied unified title")

	pts, err := store.ProviderTitles.ListByProvider(ctx, "p1", models.MediaMovies)
	require.NoError(t, err)
	assert.Empty(t, pts)

	// The other type is untouched.
	pts, err = store.ProviderTitles.ListByProvider(ctx, "p1", models.MediaTVShows)
	require.NoError(t, err)
	assert.Len(t, pts, 1)

	// Channels are untouched by a catalog-type disable.
	channels, err := store.Channels.ListByProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestTypeDisabledLive(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seedProviderData(t, store, "p1")

	wl := store.Watchlists.(*memory.WatchlistRepo)
	wl.Put(models.Watchlist{UserID: "u1", Channels: []string{"p1/cnn"}})

	result, err := NewCleanup(store).TypeDisabled(ctx, "p1", models.MediaLive)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted, "one program plus one channel")

	channels, err := store.Channels.ListByProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, channels)

	got, _ := wl.Get("u1")
	assert.Empty(t, got.Channels)

	// Catalog data is untouched.
	pts, err := store.ProviderTitles.ListByProvider(ctx, "p1", models.MediaMovies)
	require.NoError(t, err)
	assert.Len(t, pts, 1)
}

func TestCategoriesNarrowed(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seedProviderData(t, store, "p1")

	provider := models.Provider{
		ID: "p1", Enabled: true, SyncMovies: true, SyncTVShows: true,
		EnabledCategories: map[models.MediaType][]string{
			models.MediaMovies: {"other"}, // c1 is no longer allowed
		},
	}

	result, err := NewCleanup(store).CategoriesNarrowed(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted)

	pts, err := store.ProviderTitles.ListByProvider(ctx, "p1", models.MediaMovies)
	require.NoError(t, err)
	assert.Empty(t, pts)

	_, err = store.Titles.Get(ctx, "movies-603")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// The tvshows placeholder has no category restriction and survives.
	pts, err = store.ProviderTitles.ListByProvider(ctx, "p1", models.MediaTVShows)
	require.NoError(t, err)
	assert.Len(t, pts, 1)
}

func TestReconcileSweepsConfigAndPrograms(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seedProviderData(t, store, "p1")

	// Flip movies off in the stored config; the sweep must apply it.
	p, err := store.Providers.Get(ctx, "p1")
	require.NoError(t, err)
	p.SyncMovies = false
	require.NoError(t, store.Providers.Upsert(ctx, *p))

	// An EPG entry that ended days ago.
	require.NoError(t, store.Programs.BulkUpsert(ctx, []models.Program{
		{ProviderID: "p1", ChannelID: "cnn", StartTS: 10, StopTS: 20, Title: "Ancient"},
	}))

	result, err := NewCleanup(store).Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProvidersSeen)
	assert.Greater(t, result.Deleted, 0)

	pts, err := store.ProviderTitles.ListByProvider(ctx, "p1", models.MediaMovies)
	require.NoError(t, err)
	assert.Empty(t, pts, "disabled type swept")

	n, err := store.Programs.DeleteEndedBefore(ctx, time.Now().Unix())
	require.NoError(t, err)
	assert.Zero(t, n, "expired programs already removed by the sweep")
}

func TestReconcileSweepsDisabledProvider(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seedProviderData(t, store, "p1")

	// Disable the provider but leave its sync flags on; the sweep must not
	// mistake it for an active one.
	p, err := store.Providers.Get(ctx, "p1")
	require.NoError(t, err)
	p.Enabled = false
	require.NoError(t, store.Providers.Upsert(ctx, *p))

	_, err = NewCleanup(store).Reconcile(ctx)
	require.NoError(t, err)

	pts, err := store.ProviderTitles.ListByProvider(ctx, "p1", "")
	require.NoError(t, err)
	assert.Empty(t, pts, "a disabled provider's titles are removed")

	_, err = store.Titles.Get(ctx, "movies-603")
	assert.ErrorIs(t, err, repository.ErrNotFound, "its source contribution is gone too")

	channels, err := store.Channels.ListByProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, channels)

	// The configuration record survives so the provider can be re-enabled.
	_, err = store.Providers.Get(ctx, "p1")
	assert.NoError(t, err)
}

func TestReconcileRemovesDeletedProviders(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seedProviderData(t, store, "p1")

	p, err := store.Providers.Get(ctx, "p1")
	require.NoError(t, err)
	p.Deleted = true
	require.NoError(t, store.Providers.Upsert(ctx, *p))

	_, err = NewCleanup(store).Reconcile(ctx)
	require.NoError(t, err)

	_, err = store.Providers.Get(ctx, "p1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
