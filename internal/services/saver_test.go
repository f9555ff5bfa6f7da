package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
	"github.com/catalogarr/catalogarr/internal/repository/memory"
)

// flakyCategoryRepo fails the first n BulkUpsert calls, then delegates.
type flakyCategoryRepo struct {
	repository.CategoryRepo
	failures int
	calls    int
}

func (r *flakyCategoryRepo) BulkUpsert(ctx context.Context, cats []models.ProviderCategory) error {
	r.calls++
	if r.calls <= r.failures {
		return fmt.Errorf("simulated outage")
	}
	return r.CategoryRepo.BulkUpsert(ctx, cats)
}

func stagedCategory(id string) models.ProviderCategory {
	return models.ProviderCategory{ProviderID: "p1", Type: models.MediaMovies, CategoryID: id, Name: "Cat " + id}
}

func stagedTitle(key, clean string) models.ProviderTitle {
	return models.ProviderTitle{ProviderID: "p1", TitleKey: key, Type: models.MediaMovies, CleanTitle: clean}
}

func TestSaverStagingDedupes(t *testing.T) {
	s := NewSaver(memory.NewStore(), time.Minute)

	s.StageProviderTitle(stagedTitle("movies-1", "old"))
	s.StageProviderTitle(stagedTitle("movies-1", "new"))
	s.StageCategory(stagedCategory("c1"))
	s.StageCategory(stagedCategory("c1"))

	assert.Equal(t, 2, s.Pending(), "same entity staged twice counts once")
}

func TestSaverFlushWritesAndClears(t *testing.T) {
	store := memory.NewStore()
	s := NewSaver(store, time.Minute)

	s.StageCategory(stagedCategory("c1"))
	s.StageProviderTitle(stagedTitle("movies-603", "the matrix"))
	s.StageSource(repository.SourceUpdate{
		Key: "movies-603", MDBID: 603, Type: models.MediaMovies, DisplayTitle: "The Matrix",
		Source: models.Source{ProviderID: "p1", Priority: 1, Streams: models.StreamMap{"main": "http://x"}},
	})

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, s.Pending())

	cats, err := store.Categories.ListByProvider(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, cats, 1)

	pts, err := store.ProviderTitles.ListByProvider(context.Background(), "p1", models.MediaMovies)
	require.NoError(t, err)
	assert.Len(t, pts, 1)

	title, err := store.Titles.Get(context.Background(), "movies-603")
	require.NoError(t, err)
	require.Len(t, title.Sources, 1)
	assert.Equal(t, "p1", title.Sources[0].ProviderID)
}

func TestSaverFlushEmptyIsNoop(t *testing.T) {
	s := NewSaver(memory.NewStore(), time.Minute)
	require.NoError(t, s.Flush(context.Background()))
}

func TestSaverFailedFlushRetainsBatch(t *testing.T) {
	store := memory.NewStore()
	store.Categories = &flakyCategoryRepo{CategoryRepo: store.Categories, failures: 1}
	s := NewSaver(store, time.Minute)

	s.StageCategory(stagedCategory("c1"))
	require.Error(t, s.Flush(context.Background()))
	assert.Equal(t, 1, s.Pending(), "failed batch goes back into staging")

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, s.Pending())
}

func TestSaverRestoreKeepsNewerStagedVersion(t *testing.T) {
	store := memory.NewStore()
	flaky := &flakyCategoryRepo{CategoryRepo: store.Categories, failures: 1}
	store.Categories = flaky
	s := NewSaver(store, time.Minute)

	s.StageProviderTitle(stagedTitle("movies-1", "stale"))
	s.StageCategory(stagedCategory("c1")) // forces the flush through the flaky repo
	require.Error(t, s.Flush(context.Background()))

	// Stage a fresh version while the failed batch is being restored; the
	// fresh one must survive.
	s.StageProviderTitle(stagedTitle("movies-1", "fresh"))
	require.NoError(t, s.Flush(context.Background()))

	pts, err := store.ProviderTitles.ListByProvider(context.Background(), "p1", models.MediaMovies)
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, "fresh", pts[0].CleanTitle)
}

func TestSaverBreaksAfterRepeatedFailures(t *testing.T) {
	store := memory.NewStore()
	store.Categories = &flakyCategoryRepo{CategoryRepo: store.Categories, failures: maxFlushFailures + 1}
	s := NewSaver(store, time.Minute)
	s.StageCategory(stagedCategory("c1"))

	var err error
	for i := 0; i < maxFlushFailures; i++ {
		err = s.Flush(context.Background())
		require.Error(t, err)
	}
	assert.True(t, errors.Is(err, ErrSaverBroken))
	assert.Equal(t, 1, s.Pending(), "batch is retained even when broken")
}

func TestSaverRunDrainsOnShutdown(t *testing.T) {
	store := memory.NewStore()
	s := NewSaver(store, time.Hour) // never ticks during the test

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.StageCategory(stagedCategory("c1"))
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("saver did not stop")
	}

	cats, err := store.Categories.ListByProvider(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, cats, 1, "final drain flushed the staged write")
}
