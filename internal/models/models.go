package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// MediaType is the sync type a provider can expose.
type MediaType string

const (
	MediaMovies  MediaType = "movies"
	MediaTVShows MediaType = "tvshows"
	MediaLive    MediaType = "live"
)

// CatalogTypes are the media types that produce unified Titles.
var CatalogTypes = []MediaType{MediaMovies, MediaTVShows}

// ProviderKind selects the adapter variant used to talk to a provider.
type ProviderKind string

const (
	KindM3U    ProviderKind = "m3u"
	KindXtream ProviderKind = "xtream"
)

// RateLimit bounds outbound requests to a provider: at most Concurrency
// in-flight requests and at most Concurrency requests per WindowSec seconds.
type RateLimit struct {
	Concurrency int `json:"concurrency"`
	WindowSec   int `json:"window_sec"`
}

// UnmarshalJSON accepts both the correct window_sec spelling and the
// legacy misspelling widnow_sec still present in older provider documents.
func (r *RateLimit) UnmarshalJSON(data []byte) error {
	var raw struct {
		Concurrency int `json:"concurrency"`
		WindowSec   int `json:"window_sec"`
		WidnowSec   int `json:"widnow_sec"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Concurrency = raw.Concurrency
	r.WindowSec = raw.WindowSec
	if r.WindowSec == 0 {
		r.WindowSec = raw.WidnowSec
	}
	return nil
}

// CleanupRule rewrites provider title names before matching. Rules are
// applied in order; Pattern is a regular expression.
type CleanupRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// Provider is a configured IPTV source.
type Provider struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Kind     ProviderKind `json:"kind"`
	BaseURL  string       `json:"base_url"`
	Username string       `json:"username,omitempty"`
	Password string       `json:"password,omitempty"`

	// Priority orders this provider's sources on unified titles.
	// Smaller is higher priority.
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`
	Deleted  bool `json:"deleted"`

	SyncMovies  bool `json:"sync_movies"`
	SyncTVShows bool `json:"sync_tvshows"`
	SyncLive    bool `json:"sync_live"`

	// EnabledCategories restricts sync per type. A nil slice means all
	// categories; an explicitly empty slice disables the type entirely.
	EnabledCategories map[MediaType][]string `json:"enabled_categories,omitempty"`

	CleanupRules  []CleanupRule `json:"cleanup_rules,omitempty"`
	IgnoredTitles []string      `json:"ignored_titles,omitempty"`
	RateLimit     RateLimit     `json:"rate_limit"`

	UpdatedAt time.Time `json:"updated_at"`
}

// TypeEnabled reports whether syncing of t is switched on for the provider.
func (p *Provider) TypeEnabled(t MediaType) bool {
	switch t {
	case MediaMovies:
		return p.SyncMovies
	case MediaTVShows:
		return p.SyncTVShows
	case MediaLive:
		return p.SyncLive
	}
	return false
}

// CategoryAllowed reports whether a category id passes the provider's
// enabled-category filter for t. An absent (nil) set allows everything;
// an empty set allows nothing.
func (p *Provider) CategoryAllowed(t MediaType, categoryID string) bool {
	set, ok := p.EnabledCategories[t]
	if !ok || set == nil {
		return true
	}
	for _, id := range set {
		if id == categoryID {
			return true
		}
	}
	return false
}

// StreamMap maps a provider stream id to its playable URL.
type StreamMap map[string]string

// TitleKey builds the catalog-wide primary key for a matched title.
func TitleKey(t MediaType, mdbID int64) string {
	return fmt.Sprintf("%s-%d", t, mdbID)
}

// PlaceholderTitleKey derives a provider-scoped key for titles that have
// no MDB match yet.
func PlaceholderTitleKey(t MediaType, providerItemID string) string {
	return fmt.Sprintf("%s-raw-%s", t, providerItemID)
}

// ProviderTitle is one provider's view of a single movie or show.
// Unique per (ProviderID, TitleKey).
type ProviderTitle struct {
	ProviderID     string    `json:"provider_id"`
	TitleKey       string    `json:"title_key"`
	ProviderItemID string    `json:"provider_item_id"`
	Type           MediaType `json:"type"`
	CleanTitle     string    `json:"clean_title"`
	Year           int       `json:"year,omitempty"`
	CategoryID     string    `json:"category_id,omitempty"`
	Streams        StreamMap `json:"streams"`
	MDBID          *int64    `json:"mdb_id,omitempty"`
	IgnoredReason  string    `json:"ignored_reason,omitempty"`
	SearchedName   string    `json:"searched_name,omitempty"`
	LastUpdated    time.Time `json:"last_updated"`
}

// MDBMeta is the snapshot of movie-database metadata stored on a Title.
type MDBMeta struct {
	ID            int64     `json:"id"`
	Type          MediaType `json:"type"`
	Title         string    `json:"title"`
	OriginalTitle string    `json:"original_title,omitempty"`
	Overview      string    `json:"overview,omitempty"`
	PosterPath    string    `json:"poster_path,omitempty"`
	BackdropPath  string    `json:"backdrop_path,omitempty"`
	ReleaseDate   string    `json:"release_date,omitempty"`
	Genres        []string  `json:"genres,omitempty"`
	Popularity    float64   `json:"popularity,omitempty"`
	VoteAverage   float64   `json:"vote_average,omitempty"`
	IMDBID        string    `json:"imdb_id,omitempty"`
	Seasons       int       `json:"seasons,omitempty"`
}

// Year returns the release year of the snapshot, or 0 when unknown.
func (m *MDBMeta) Year() int {
	if len(m.ReleaseDate) < 4 {
		return 0
	}
	y := 0
	for _, ch := range m.ReleaseDate[:4] {
		if ch < '0' || ch > '9' {
			return 0
		}
		y = y*10 + int(ch-'0')
	}
	return y
}

// Source is one provider's contribution to a unified Title.
type Source struct {
	ProviderID string    `json:"provider_id"`
	Priority   int       `json:"priority"`
	Streams    StreamMap `json:"streams"`
}

// Title is the unified catalog entry keyed by TitleKey. Sources are kept
// ordered ascending by provider priority; a Title with zero sources is
// deleted during cleanup.
type Title struct {
	Key          string    `json:"key"`
	MDBID        int64     `json:"mdb_id"`
	Type         MediaType `json:"type"`
	DisplayTitle string    `json:"display_title"`
	Meta         MDBMeta   `json:"meta"`
	Sources      []Source  `json:"sources"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProviderCategory is a provider-native category, keyed by
// (ProviderID, Type, CategoryID).
type ProviderCategory struct {
	ProviderID string    `json:"provider_id"`
	Type       MediaType `json:"type"`
	CategoryID string    `json:"category_id"`
	Name       string    `json:"name"`
}

// CategoryKey returns the derived "{type}-{category_id}" key.
func (c *ProviderCategory) CategoryKey() string {
	return fmt.Sprintf("%s-%s", c.Type, c.CategoryID)
}

// Channel is a live TV channel, keyed by (ProviderID, ChannelID).
type Channel struct {
	ProviderID string    `json:"provider_id"`
	ChannelID  string    `json:"channel_id"`
	Name       string    `json:"name"`
	LogoURL    string    `json:"logo_url,omitempty"`
	CategoryID string    `json:"category_id,omitempty"`
	StreamURL  string    `json:"stream_url"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Program is one EPG entry for a channel. Programs depend on their channel
// and must be deleted first on cleanup.
type Program struct {
	ProviderID  string `json:"provider_id"`
	ChannelID   string `json:"channel_id"`
	StartTS     int64  `json:"start_ts"`
	StopTS      int64  `json:"stop_ts"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// JobStatus is the lifecycle state of one job run.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobResult carries the per-run counters reported into history.
type JobResult struct {
	ProvidersSeen int    `json:"providers_seen,omitempty"`
	ItemsFound    int    `json:"items_found,omitempty"`
	Matched       int    `json:"matched,omitempty"`
	Ignored       int    `json:"ignored,omitempty"`
	Deleted       int    `json:"deleted,omitempty"`
	Errors        int    `json:"errors,omitempty"`
	Message       string `json:"message,omitempty"`
}

// JobHistory is one persisted run of a named job, keyed by (JobName, RunID).
type JobHistory struct {
	JobName    string     `json:"job_name"`
	RunID      string     `json:"run_id"`
	Status     JobStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	ProviderID string     `json:"provider_id,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
}

// Watchlist is a user's saved titles and channels. The core only removes
// references that cleanup invalidated; everything else is managed by the
// external surface.
type Watchlist struct {
	UserID    string   `json:"user_id"`
	TitleKeys []string `json:"title_keys"`
	Channels  []string `json:"channels"` // "{provider_id}/{channel_id}"
}
