// Package repository declares the persistence contracts the services work
// against. The Postgres implementation lives in internal/database; in-memory
// implementations for tests live in repository/memory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/catalogarr/catalogarr/internal/models"
)

// ErrNotFound is returned by single-entity lookups that match nothing.
var ErrNotFound = errors.New("not found")

// SourceUpdate attaches one provider source to a unified title, creating
// the title from the metadata snapshot when it does not exist yet.
type SourceUpdate struct {
	Key          string
	MDBID        int64
	Type         models.MediaType
	DisplayTitle string
	Meta         models.MDBMeta
	Source       models.Source
}

// ProviderRepo stores provider configurations.
type ProviderRepo interface {
	Upsert(ctx context.Context, p models.Provider) error
	Get(ctx context.Context, id string) (*models.Provider, error)
	// List returns all providers, deleted ones included; callers filter.
	List(ctx context.Context) ([]models.Provider, error)
	Delete(ctx context.Context, id string) error
}

// ProviderTitleRepo stores per-provider title records keyed by
// (provider_id, title_key).
type ProviderTitleRepo interface {
	BulkUpsert(ctx context.Context, items []models.ProviderTitle) error
	ListByProvider(ctx context.Context, providerID string, t models.MediaType) ([]models.ProviderTitle, error)
	DeleteByProvider(ctx context.Context, providerID string) (int, error)
	DeleteByProviderType(ctx context.Context, providerID string, t models.MediaType) (int, error)
	DeleteKeys(ctx context.Context, providerID string, titleKeys []string) (int, error)
	// ResetLastUpdated clears the sync marker on every title of the
	// provider so the next run re-matches them all.
	ResetLastUpdated(ctx context.Context, providerID string) (int, error)
}

// TitleRepo stores the unified catalog.
type TitleRepo interface {
	// BulkUpsertSources applies each update atomically: the title's source
	// list stays ordered by provider priority and never holds two sources
	// for the same provider.
	BulkUpsertSources(ctx context.Context, updates []SourceUpdate) error
	Get(ctx context.Context, key string) (*models.Title, error)
	List(ctx context.Context, t models.MediaType) ([]models.Title, error)
	RemoveSourcesByProvider(ctx context.Context, providerID string) (int, error)
	RemoveSourcesByProviderType(ctx context.Context, providerID string, t models.MediaType) (int, error)
	// RemoveSourceKeys drops one provider's source from the named titles.
	RemoveSourceKeys(ctx context.Context, providerID string, titleKeys []string) (int, error)
	// DeleteEmpty removes titles whose source list drained, returning the
	// deleted keys so watchlist references can be scrubbed.
	DeleteEmpty(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

// CategoryRepo stores provider-native categories.
type CategoryRepo interface {
	BulkUpsert(ctx context.Context, cats []models.ProviderCategory) error
	ListByProvider(ctx context.Context, providerID string) ([]models.ProviderCategory, error)
	DeleteByProvider(ctx context.Context, providerID string) (int, error)
}

// ChannelRepo stores live channels keyed by (provider_id, channel_id).
type ChannelRepo interface {
	BulkUpsert(ctx context.Context, channels []models.Channel) error
	ListByProvider(ctx context.Context, providerID string) ([]models.Channel, error)
	// DeleteByProvider returns the removed "{provider_id}/{channel_id}"
	// refs for watchlist scrubbing.
	DeleteByProvider(ctx context.Context, providerID string) ([]string, error)
	// ListStale returns the refs DeleteStale would remove, without
	// removing them; programs are deleted before their channels.
	ListStale(ctx context.Context, providerID string, before time.Time) ([]string, error)
	DeleteStale(ctx context.Context, providerID string, before time.Time) ([]string, error)
}

// ProgramRepo stores EPG entries. Programs reference channels and are
// always deleted before their channels.
type ProgramRepo interface {
	BulkUpsert(ctx context.Context, programs []models.Program) error
	DeleteByProvider(ctx context.Context, providerID string) (int, error)
	DeleteByChannel(ctx context.Context, providerID, channelID string) (int, error)
	DeleteEndedBefore(ctx context.Context, ts int64) (int, error)
}

// JobHistoryRepo records job runs.
type JobHistoryRepo interface {
	Record(ctx context.Context, h models.JobHistory) error
	List(ctx context.Context, jobName string, limit int) ([]models.JobHistory, error)
	// LastRuns returns, per job name, the start time of its most recent
	// completed run. Used to restore schedules after a restart.
	LastRuns(ctx context.Context) (map[string]time.Time, error)
}

// WatchlistRepo exposes only the reference-scrubbing the cleanup needs;
// watchlist contents are owned by the external surface.
type WatchlistRepo interface {
	RemoveTitleRefs(ctx context.Context, titleKeys []string) (int, error)
	RemoveChannelRefs(ctx context.Context, channelRefs []string) (int, error)
}

// Store bundles every repository for dependency wiring.
type Store struct {
	Providers      ProviderRepo
	ProviderTitles ProviderTitleRepo
	Titles         TitleRepo
	Categories     CategoryRepo
	Channels       ChannelRepo
	Programs       ProgramRepo
	Jobs           JobHistoryRepo
	Watchlists     WatchlistRepo
}
