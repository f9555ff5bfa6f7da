// Package providers translates provider-native payloads into the canonical
// provider-title records the processing manager consumes. Two adapter
// variants exist: the M3U playlist variant and the Xtream API variant.
package providers

import (
	"context"
	"fmt"

	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/models"
)

// Category is a provider-native category.
type Category struct {
	ID   string
	Name string
	Type models.MediaType
}

// RawTitle is the canonical provider-title record emitted by adapters.
// Re-running an adapter over the same upstream response yields identical
// RawTitles in identical order.
type RawTitle struct {
	ProviderItemID string
	Name           string // raw provider name
	CleanName      string // after cleanup rules, tag stripping
	Year           int
	Type           models.MediaType
	CategoryID     string
	ExternalIMDB   string // canonical external id when the provider exposes one
	MDBID          int64  // direct MDB id when the provider exposes one
	Streams        models.StreamMap
}

// Adapter enumerates one provider's catalog.
type Adapter interface {
	Kind() models.ProviderKind
	FetchCategories(ctx context.Context, t models.MediaType) ([]Category, error)
	// FetchTitles streams titles of type t to emit. Returning an error
	// from emit aborts enumeration.
	FetchTitles(ctx context.Context, t models.MediaType, emit func(RawTitle) error) error
	FetchChannels(ctx context.Context) ([]models.Channel, error)
}

// New builds the adapter matching the provider's kind.
func New(p models.Provider, fetcher *fetch.Client, cache *diskcache.Store) (Adapter, error) {
	switch p.Kind {
	case models.KindM3U:
		return NewM3UAdapter(p, fetcher, cache), nil
	case models.KindXtream:
		return NewXtreamAdapter(p, fetcher, cache), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}
